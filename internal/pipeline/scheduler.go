package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrilab/pulse/internal/adapters/extractor"
	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/domain/window"
	"github.com/sentrilab/pulse/pkg/logger"
	"github.com/sentrilab/pulse/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultTick             = time.Minute
	defaultExtractTimeout   = 30 * time.Second
	defaultBootstrapWindows = 24
)

// Scheduler drives the stage sequence for each elapsed window: extract,
// record, score, aggregate, checkpoint. It processes at most one window at a
// time and walks overdue windows oldest first, so a long outage is drained
// in order. A stage failure halts the current window; because every stage is
// idempotent, the retry on the next tick redoes completed stages harmlessly.
type Scheduler struct {
	clock      *window.Clock
	source     extractor.Source
	progress   repository.ProgressStore
	recorder   *Recorder
	calculator *Calculator
	aggregator *Aggregator
	logger     logger.Logger
	now        func() time.Time

	tick             time.Duration
	extractTimeout   time.Duration
	bootstrapWindows int

	mu    sync.Mutex
	stage Stage
}

// SchedulerOption applies a configuration option to the Scheduler.
type SchedulerOption func(*Scheduler)

// WithTick sets the interval between run attempts.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithExtractTimeout bounds each upstream extraction call.
func WithExtractTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.extractTimeout = d
		}
	}
}

// WithBootstrapWindows sets how many past windows a checkpoint-less first
// run backfills.
func WithBootstrapWindows(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.bootstrapWindows = n
		}
	}
}

// WithSchedulerClock overrides the wall clock, for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler wires the stages together.
func NewScheduler(
	clock *window.Clock,
	source extractor.Source,
	progress repository.ProgressStore,
	recorder *Recorder,
	calculator *Calculator,
	aggregator *Aggregator,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		clock:            clock,
		source:           source,
		progress:         progress,
		recorder:         recorder,
		calculator:       calculator,
		aggregator:       aggregator,
		logger:           logger.Get().Named("scheduler"),
		now:              time.Now,
		tick:             defaultTick,
		extractTimeout:   defaultExtractTimeout,
		bootstrapWindows: defaultBootstrapWindows,
		stage:            StageIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage returns the stage the scheduler is currently executing.
func (s *Scheduler) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Scheduler) setStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

// Run ticks until the context is cancelled. The first attempt happens
// immediately; failures are logged and retried on the next tick rather than
// terminating the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error(ctx, "run failed, retrying next tick", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains every window that has fully elapsed, oldest first. Each
// window is checkpointed before the next is attempted, so a crash mid-drain
// resumes exactly where it stopped. Returns the reports of the windows that
// completed; on failure the partial reports are returned with the error.
func (s *Scheduler) RunOnce(ctx context.Context) ([]RunReport, error) {
	defer s.setStage(StageIdle)

	last, err := s.progress.LastCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint: %w", ErrPersistence, err)
	}
	now := s.now()
	if last.IsZero() {
		last = s.clock.Anchor(now, s.bootstrapWindows)
		s.logger.Info(ctx, "no checkpoint, bootstrapping",
			logger.Int("windows", s.bootstrapWindows),
			logger.Any("anchor", last),
		)
	}
	metrics.UpdateOverdueWindows(s.pending(last, now))

	var reports []RunReport
	for {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		w, ok := s.clock.Next(last, now)
		if !ok {
			return reports, nil
		}

		report, stage, err := s.runWindow(ctx, w)
		if err != nil {
			metrics.RecordWindowFailure(string(stage))
			s.logger.Error(ctx, "window run halted",
				logger.Any("windowStart", w.Start),
				logger.String("stage", string(stage)),
				logger.Error(err),
			)
			return reports, err
		}

		if err := s.progress.MarkCompleted(ctx, w); err != nil {
			metrics.RecordWindowFailure(string(StageAggregating))
			return reports, fmt.Errorf("%w: checkpoint window: %w", ErrPersistence, err)
		}
		metrics.RecordWindowProcessed(w.End)
		reports = append(reports, report)

		last = w.End
		metrics.UpdateOverdueWindows(s.pending(last, now))
	}
}

// runWindow executes the stage sequence for one window. On failure it
// returns the stage that failed so the caller can attribute the halt.
func (s *Scheduler) runWindow(ctx context.Context, w model.Window) (RunReport, Stage, error) {
	report := RunReport{RunID: uuid.NewString(), Window: w}

	s.logger.Info(ctx, "processing window",
		logger.String("runID", report.RunID),
		logger.Any("windowStart", w.Start),
		logger.Any("windowEnd", w.End),
	)

	// Extracting: customer sync plus the count query, under a timeout so a
	// stuck upstream cannot wedge the whole pipeline.
	s.setStage(StageExtracting)
	stageStart := s.now()
	counts, err := s.extract(ctx, w)
	metrics.ObserveStageDuration(string(StageExtracting), s.now().Sub(stageStart))
	if err != nil {
		return report, StageExtracting, err
	}

	s.setStage(StageRecording)
	stageStart = s.now()
	recorded, err := s.recorder.Record(ctx, w, counts)
	metrics.ObserveStageDuration(string(StageRecording), s.now().Sub(stageStart))
	if err != nil {
		return report, StageRecording, err
	}
	report.Recorded = recorded.Recorded
	report.Unknown = recorded.Unknown
	report.Invalid = recorded.Invalid

	s.setStage(StageScoring)
	stageStart = s.now()
	scored, err := s.calculator.ComputeWindow(ctx, w)
	metrics.ObserveStageDuration(string(StageScoring), s.now().Sub(stageStart))
	if err != nil {
		return report, StageScoring, err
	}
	report.Scored = scored.Scored
	report.Skipped = scored.Skipped
	report.Failures = scored.Failures

	s.setStage(StageAggregating)
	stageStart = s.now()
	segments, err := s.aggregator.Aggregate(ctx, w)
	metrics.ObserveStageDuration(string(StageAggregating), s.now().Sub(stageStart))
	if err != nil {
		return report, StageAggregating, err
	}
	report.Segments = segments

	return report, StageIdle, nil
}

func (s *Scheduler) extract(ctx context.Context, w model.Window) (map[string]model.Counts, error) {
	extractCtx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()

	customers, err := s.source.Customers(extractCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: customer sync: %w", ErrExtraction, err)
	}
	if err := s.recorder.SyncCustomers(extractCtx, customers); err != nil {
		return nil, err
	}

	start := s.now()
	counts, err := s.source.Extract(extractCtx, w)
	metrics.ObserveExtractionDuration(s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return counts, nil
}

// pending counts the windows that have elapsed but not been processed.
func (s *Scheduler) pending(lastEnd, now time.Time) int {
	n := 0
	cursor := lastEnd
	for {
		w, ok := s.clock.Next(cursor, now)
		if !ok {
			return n
		}
		n++
		cursor = w.End
	}
}
