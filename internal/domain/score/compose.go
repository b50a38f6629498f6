package score

// Engine chains the scoring methods into the composition policy used by the
// calculator. It is immutable after construction and safe for concurrent use.
type Engine struct {
	decay        float64
	trendWeight  float64
	trendEnabled bool
}

// EngineOption applies a configuration option to the Engine.
type EngineOption func(*Engine)

// WithDecay sets the time-decay factor. Values outside (0,1] are ignored.
func WithDecay(decay float64) EngineOption {
	return func(e *Engine) {
		if decay > 0 && decay <= 1 {
			e.decay = decay
		}
	}
}

// WithTrendWeight sets the trend adjustment weight. Values outside [0,1]
// are ignored.
func WithTrendWeight(weight float64) EngineOption {
	return func(e *Engine) {
		if weight >= 0 && weight <= 1 {
			e.trendWeight = weight
		}
	}
}

// WithTrendAdjustment toggles the optional trend adjustment stage. It is
// off by default; the composed score is normally just the weighted average
// passed through industry normalization.
func WithTrendAdjustment(enabled bool) EngineOption {
	return func(e *Engine) {
		e.trendEnabled = enabled
	}
}

// NewEngine creates an Engine with the default decay and trend weight.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		decay:       DefaultDecay,
		trendWeight: DefaultTrendWeight,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compose scores one window. The current sample is weighted together with
// the bounded history (current carries full weight), then normalized against
// the industry baseline when one is configured. History entries contribute
// their raw ratios; normalization applies once, to the aggregate. With no
// history the result degenerates to SimpleRatio of the current window.
//
// priorScores are the customer's previously composed scores, oldest to
// newest; they feed the optional trend adjustment stage and are otherwise
// unused.
//
// The returned method tag names the dominant method for the record.
func (e *Engine) Compose(current Sample, history []Sample, baseline float64, priorScores []float64) (float64, string) {
	method := MethodSimpleRatio
	samples := make([]Sample, 0, len(history)+1)
	samples = append(samples, current)
	samples = append(samples, history...)
	if len(history) > 0 {
		method = MethodWeightedAverage
	}

	composed := WeightedAverage(samples, e.decay)
	if baseline > 0 {
		composed = IndustryNormalized(composed, baseline)
	}
	if e.trendEnabled {
		composed = TrendAdjusted(composed, priorScores, e.trendWeight)
	}
	return composed, method
}
