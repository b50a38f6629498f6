package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/domain/score"
	"github.com/sentrilab/pulse/pkg/logger"
	"github.com/sentrilab/pulse/pkg/metrics"
)

// Default calculator configuration constants.
const (
	defaultHistoryDepth = 10
	defaultMinReports   = 5
	// Prior records consulted for the trend-direction label.
	trendLookback = 3
)

// CalculatorStore is the slice of the repository the calculator needs. It
// writes only sentiment records; everything else is read.
type CalculatorStore interface {
	repository.CountStore
	repository.ScoreStore
	repository.CustomerStore
	repository.BaselineStore
}

// Calculator turns one window's counts into immutable sentiment records.
type Calculator struct {
	store        CalculatorStore
	engine       *score.Engine
	historyDepth int
	minReports   int
	workers      int
	logger       logger.Logger
	now          func() time.Time
}

// CalculatorOption applies a configuration option to the Calculator.
type CalculatorOption func(*Calculator)

// WithHistoryDepth bounds the prior-window lookup per customer.
func WithHistoryDepth(depth int) CalculatorOption {
	return func(c *Calculator) {
		if depth > 0 {
			c.historyDepth = depth
		}
	}
}

// WithMinReports sets the report volume at which confidence saturates.
func WithMinReports(n int) CalculatorOption {
	return func(c *Calculator) {
		if n > 0 {
			c.minReports = n
		}
	}
}

// WithWorkerCount bounds the per-customer scoring fan-out.
func WithWorkerCount(n int) CalculatorOption {
	return func(c *Calculator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator creates a Calculator over the given store and score engine.
func NewCalculator(store CalculatorStore, engine *score.Engine, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		store:        store,
		engine:       engine,
		historyDepth: defaultHistoryDepth,
		minReports:   defaultMinReports,
		workers:      runtime.NumCPU() * 2,
		logger:       logger.Get().Named("calculator"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScoreResult reports what one scoring pass did.
type ScoreResult struct {
	Scored   int
	Skipped  int
	Failures []CustomerFailure
}

// ComputeWindow scores every count row of the window that does not yet have
// a sentiment record. Customers are scored in parallel, bounded by the
// worker count; each customer's read-modify-write is independent. Scores are
// immutable: an existing record makes the customer a skip, never an
// overwrite. Per-customer configuration or computation failures are isolated
// and reported; a store failure aborts the whole pass.
func (c *Calculator) ComputeWindow(ctx context.Context, w model.Window) (ScoreResult, error) {
	var res ScoreResult

	counts, err := c.store.CountsForWindow(ctx, w)
	if err != nil {
		return res, fmt.Errorf("%w: load counts: %w", ErrPersistence, err)
	}
	if len(counts) == 0 {
		c.logger.Info(ctx, "no counts in window, nothing to score",
			logger.Any("windowStart", w.Start),
		)
		return res, nil
	}

	directory, err := c.store.Customers(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: load customer directory: %w", ErrPersistence, err)
	}
	// Baselines are reloaded every pass so operator edits apply between runs.
	baselines, err := c.store.Baselines(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: load baselines: %w", ErrPersistence, err)
	}
	metrics.UpdateBaselinesLoaded(len(baselines))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	jobs := make(chan model.WindowCount)

	workers := c.workers
	if workers > len(counts) {
		workers = len(counts)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wc := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				inserted, failure, err := c.scoreCustomer(runCtx, w, wc, directory, baselines)

				mu.Lock()
				switch {
				case err != nil:
					if firstErr == nil {
						firstErr = err
						cancel()
					}
				case failure != nil:
					res.Failures = append(res.Failures, *failure)
					metrics.RecordCustomerFailure()
				case inserted:
					res.Scored++
				default:
					res.Skipped++
					metrics.RecordCustomerSkipped()
				}
				mu.Unlock()
			}
		}()
	}

	for _, wc := range counts {
		select {
		case jobs <- wc:
		case <-runCtx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return res, firstErr
	}
	// Cancellation makes workers drop their remaining jobs, so a partial pass
	// must surface as an error; the window is retried on the next tick and
	// insert-if-absent keeps the already written records stable.
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("scoring interrupted: %w", err)
	}
	c.logger.Info(ctx, "window scored",
		logger.Any("windowStart", w.Start),
		logger.Int("scored", res.Scored),
		logger.Int("skipped", res.Skipped),
		logger.Int("failed", len(res.Failures)),
	)
	return res, nil
}

// scoreCustomer runs the composition policy for one customer. The returned
// failure is an isolated per-customer problem; the returned error aborts the
// whole pass.
func (c *Calculator) scoreCustomer(
	ctx context.Context,
	w model.Window,
	wc model.WindowCount,
	directory map[string]model.Customer,
	baselines map[string]model.IndustryBaseline,
) (bool, *CustomerFailure, error) {
	if wc.Counts.FN < 0 || wc.Counts.FP < 0 {
		return false, &CustomerFailure{
			CustomerID: wc.CustomerID,
			Reason:     fmt.Sprintf("%v: negative counts", ErrComputation),
		}, nil
	}

	history, err := c.store.HistoryBefore(ctx, wc.CustomerID, w.Start, c.historyDepth)
	if err != nil {
		return false, nil, fmt.Errorf("%w: history for %s: %w", ErrPersistence, wc.CustomerID, err)
	}
	samples := make([]score.Sample, 0, len(history))
	for _, h := range history {
		if h.Counts.FN < 0 || h.Counts.FP < 0 {
			return false, &CustomerFailure{
				CustomerID: wc.CustomerID,
				Reason:     fmt.Sprintf("%v: malformed history", ErrComputation),
			}, nil
		}
		samples = append(samples, score.Sample{Counts: h.Counts, At: h.Window.Start})
	}

	var baseline float64
	if customer, ok := directory[wc.CustomerID]; ok {
		if b, ok := baselines[customer.Industry]; ok {
			if b.Score <= 0 || b.Score > 1 {
				c.logger.Warn(ctx, "invalid industry baseline, skipping customer",
					logger.String("customerID", wc.CustomerID),
					logger.String("industry", customer.Industry),
					logger.Float64("baseline", b.Score),
				)
				return false, &CustomerFailure{
					CustomerID: wc.CustomerID,
					Reason:     fmt.Sprintf("%v: baseline %v for industry %q", ErrConfiguration, b.Score, customer.Industry),
				}, nil
			}
			baseline = b.Score
		}
	}

	// Prior records, newest first, strictly before this window. They feed the
	// optional trend adjustment stage, and the newest one anchors the
	// trend-direction label: new value against most recent prior, the same
	// convention the segment and overall rollups use.
	priors, err := c.store.RecentScores(ctx, wc.CustomerID, trendLookback)
	if err != nil {
		return false, nil, fmt.Errorf("%w: recent scores for %s: %w", ErrPersistence, wc.CustomerID, err)
	}
	var priorScores []float64 // oldest -> newest
	for i := len(priors) - 1; i >= 0; i-- {
		if priors[i].Window.Start.Before(w.Start) {
			priorScores = append(priorScores, priors[i].Score)
		}
	}

	current := score.Sample{Counts: wc.Counts, At: w.Start}
	composed, method := c.engine.Compose(current, samples, baseline, priorScores)

	trend := model.TrendStable
	if len(priorScores) > 0 {
		trend = score.Trend(composed, priorScores[len(priorScores)-1], score.CustomerTrendThreshold)
	}

	rec := model.SentimentRecord{
		ID:         uuid.NewString(),
		CustomerID: wc.CustomerID,
		Window:     w,
		Score:      composed,
		Method:     method,
		Counts:     wc.Counts,
		Confidence: score.Confidence(wc.Counts, c.minReports),
		Trend:      trend,
		ComputedAt: c.now().UTC(),
	}
	inserted, err := c.store.InsertScore(ctx, rec)
	if err != nil {
		return false, nil, fmt.Errorf("%w: insert score for %s: %w", ErrPersistence, wc.CustomerID, err)
	}
	if inserted {
		metrics.RecordCustomerScored(composed)
	}
	return inserted, nil, nil
}
