package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/domain/score"
	"github.com/sentrilab/pulse/pkg/logger"
	"github.com/sentrilab/pulse/pkg/metrics"
)

// AggregatorStore is the slice of the repository the aggregator needs.
type AggregatorStore interface {
	repository.ScoreStore
	repository.SegmentStore
	repository.CustomerStore
}

// Aggregator derives per-industry and overall rollups for a window. Every
// run is a full recompute from the window's sentiment records; nothing is
// updated incrementally, so re-aggregation after late scores is always
// consistent with what was scored.
type Aggregator struct {
	store  AggregatorStore
	logger logger.Logger
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(store AggregatorStore) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.Get().Named("aggregator"),
	}
}

// Aggregate recomputes the window's segment and overall records and replaces
// any previous rollup for the window. Returns the number of segment records
// written. A window with no sentiment records produces no rows at all.
func (a *Aggregator) Aggregate(ctx context.Context, w model.Window) (int, error) {
	records, err := a.store.ScoresForWindow(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("%w: load scores: %w", ErrPersistence, err)
	}
	if len(records) == 0 {
		a.logger.Info(ctx, "no sentiment records in window, skipping aggregation",
			logger.Any("windowStart", w.Start),
		)
		return 0, nil
	}

	directory, err := a.store.Customers(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: load customer directory: %w", ErrPersistence, err)
	}

	byIndustry := make(map[string][]model.SentimentRecord)
	for _, rec := range records {
		industry := "unknown"
		if customer, ok := directory[rec.CustomerID]; ok && customer.Industry != "" {
			industry = customer.Industry
		}
		byIndustry[industry] = append(byIndustry[industry], rec)
	}

	segments := make([]model.SegmentRecord, 0, len(byIndustry))
	for industry, recs := range byIndustry {
		seg := a.segmentRecord(ctx, w, industry, recs)
		segments = append(segments, seg)
	}
	// Deterministic order keeps replays byte-stable.
	sort.Slice(segments, func(i, j int) bool { return segments[i].Industry < segments[j].Industry })

	overall := a.overallRecord(ctx, w, records, segments)

	if err := a.store.ReplaceWindow(ctx, w, segments, overall); err != nil {
		return 0, fmt.Errorf("%w: replace rollups: %w", ErrPersistence, err)
	}
	metrics.RecordSegmentsWritten(len(segments))
	a.logger.Info(ctx, "window aggregated",
		logger.Any("windowStart", w.Start),
		logger.Int("segments", len(segments)),
		logger.Int("customers", overall.CustomerCount),
	)
	return len(segments), nil
}

func (a *Aggregator) segmentRecord(ctx context.Context, w model.Window, industry string, recs []model.SentimentRecord) model.SegmentRecord {
	seg := model.SegmentRecord{
		Industry:      industry,
		Window:        w,
		CustomerCount: len(recs),
	}

	scores := make([]float64, 0, len(recs))
	var sum float64
	for _, r := range recs {
		scores = append(scores, r.Score)
		sum += r.Score
		seg.TotalFN += r.Counts.FN
		seg.TotalFP += r.Counts.FP
	}
	seg.AvgScore = sum / float64(len(scores))

	sort.Float64s(scores)
	seg.MedianScore = scores[len(scores)/2]
	seg.StdDev = stddev(scores, seg.AvgScore)

	seg.Trend = model.TrendStable
	prev, err := a.store.PreviousSegment(ctx, industry, w.Start)
	switch {
	case err == nil:
		seg.Trend = score.Trend(seg.AvgScore, prev.AvgScore, score.SegmentTrendThreshold)
	case !errors.Is(err, repository.ErrNotFound):
		a.logger.Warn(ctx, "previous segment lookup failed, trend defaults to stable",
			logger.String("industry", industry),
			logger.Error(err),
		)
	}
	return seg
}

func (a *Aggregator) overallRecord(ctx context.Context, w model.Window, records []model.SentimentRecord, segments []model.SegmentRecord) model.OverallRecord {
	overall := model.OverallRecord{
		Window:        w,
		CustomerCount: len(records),
	}

	var (
		sum         float64
		weightedSum float64
		totalWeight float64
	)
	for _, r := range records {
		sum += r.Score
		weight := float64(r.Counts.Total())
		weightedSum += r.Score * weight
		totalWeight += weight
		overall.TotalFN += r.Counts.FN
		overall.TotalFP += r.Counts.FP
	}
	overall.AvgScore = sum / float64(len(records))
	if totalWeight > 0 {
		overall.WeightedScore = weightedSum / totalWeight
	} else {
		overall.WeightedScore = overall.AvgScore
	}

	var sq float64
	for _, r := range records {
		d := r.Score - overall.AvgScore
		sq += d * d
	}
	overall.Variance = sq / float64(len(records))

	// Top and bottom segments by average score; single-segment windows get
	// the same industry for both.
	top, bottom := segments[0], segments[0]
	for _, seg := range segments[1:] {
		if seg.AvgScore > top.AvgScore {
			top = seg
		}
		if seg.AvgScore < bottom.AvgScore {
			bottom = seg
		}
	}
	overall.TopSegment = top.Industry
	overall.BottomSegment = bottom.Industry

	overall.Trend = model.TrendStable
	prev, err := a.store.PreviousOverall(ctx, w.Start)
	switch {
	case err == nil:
		overall.Trend = score.Trend(overall.AvgScore, prev.AvgScore, score.OverallTrendThreshold)
	case !errors.Is(err, repository.ErrNotFound):
		a.logger.Warn(ctx, "previous overall lookup failed, trend defaults to stable",
			logger.Error(err),
		)
	}
	return overall
}

func stddev(scores []float64, mean float64) float64 {
	if len(scores) < 2 {
		return 0
	}
	var sq float64
	for _, s := range scores {
		d := s - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(scores)))
}
