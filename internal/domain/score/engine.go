// Package score implements the sentiment scoring methods. All functions are
// pure: no I/O, no clock, no shared state. Scores are always in [0,1] where
// 1 is the best possible sentiment and 0.5 is neutral.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// Default scoring configuration constants.
const (
	// Neutral is returned whenever there is no signal to score. Absence of
	// reports is not evidence of sentiment in either direction.
	Neutral = 0.5

	DefaultDecay       = 0.9
	DefaultTrendWeight = 0.2

	// Trend label thresholds: a customer or segment score must move 5%
	// against the previous one to leave "stable"; the overall score, which
	// moves slower, only 3%.
	CustomerTrendThreshold = 0.05
	SegmentTrendThreshold  = 0.05
	OverallTrendThreshold  = 0.03
)

// Method tags recorded on SentimentRecords.
const (
	MethodSimpleRatio     = "simple_ratio"
	MethodWeightedAverage = "weighted_average"
)

// Sample is one window's counts with its window start, the unit of history
// fed to WeightedAverage.
type Sample struct {
	Counts model.Counts
	At     time.Time
}

// SimpleRatio scores a single window's counts. With no reports the result
// is Neutral; otherwise a higher false-positive share lowers the score.
func SimpleRatio(counts model.Counts) float64 {
	total := counts.Total()
	if total == 0 {
		return Neutral
	}
	return 1 - float64(counts.FP)/float64(total)
}

// WeightedAverage computes a time-decay weighted average of per-sample
// SimpleRatio scores. Samples are sorted descending by timestamp (stable, so
// equal timestamps keep their given order) and weighted decay^i by position,
// the most recent sample carrying full weight. An empty history is Neutral.
func WeightedAverage(samples []Sample, decay float64) float64 {
	if len(samples) == 0 {
		return Neutral
	}
	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.After(ordered[j].At)
	})

	var weightedSum, weightSum float64
	weight := 1.0
	for _, s := range ordered {
		weightedSum += SimpleRatio(s.Counts) * weight
		weightSum += weight
		weight *= decay
	}
	if weightSum == 0 {
		return Neutral
	}
	return weightedSum / weightSum
}

// TrendAdjusted nudges the current score along its recent velocity. Prior
// scores are ordered oldest to newest; fewer than two priors is not enough
// signal to estimate velocity and the score passes through unchanged.
func TrendAdjusted(currentScore float64, priorScores []float64, trendWeight float64) float64 {
	if len(priorScores) < 2 {
		return currentScore
	}
	velocity := currentScore - priorScores[len(priorScores)-1]
	return clamp(currentScore + velocity*trendWeight)
}

// IndustryNormalized rescales a raw score against an industry baseline so
// that 0.5 means "at baseline" and matching the baseline exactly maps to a
// relative of 1. A zero baseline is a degenerate configuration and passes
// the raw score through.
func IndustryNormalized(rawScore, baseline float64) float64 {
	if baseline == 0 {
		return rawScore
	}
	relative := rawScore / baseline
	return clamp(Neutral + (relative-1)*Neutral)
}

// Confidence grows linearly with report volume and saturates at 1 once
// minReports reports are seen in the window.
func Confidence(counts model.Counts, minReports int) float64 {
	if minReports <= 0 || counts.Total() == 0 {
		return 0
	}
	return math.Min(float64(counts.Total())/float64(minReports), 1)
}

// Trend labels the movement between two consecutive scores. The score must
// move more than threshold (as a fraction of the previous score) to leave
// "stable".
func Trend(current, previous, threshold float64) string {
	switch {
	case current > previous*(1+threshold):
		return model.TrendImproving
	case current < previous*(1-threshold):
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
