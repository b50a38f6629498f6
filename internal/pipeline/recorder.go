// Package pipeline orchestrates the sentiment computation stages: recording
// extracted counts, scoring customers, aggregating segments, and driving the
// whole sequence on a recurring tick.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/pkg/logger"
	"github.com/sentrilab/pulse/pkg/metrics"
)

// Recorder persists one count tuple per (customer, window). It owns all
// WindowCount writes; re-recording a window replaces counts, never adds.
type Recorder struct {
	counts    repository.CountStore
	customers repository.CustomerStore
	logger    logger.Logger
}

// NewRecorder creates a Recorder over the given stores.
func NewRecorder(counts repository.CountStore, customers repository.CustomerStore) *Recorder {
	return &Recorder{
		counts:    counts,
		customers: customers,
		logger:    logger.Get().Named("recorder"),
	}
}

// RecordResult reports what one recording pass did.
type RecordResult struct {
	Recorded int
	Unknown  int
	Invalid  int
}

// Record upserts the extracted counts for the window. Customers missing from
// the directory are logged and skipped, as are malformed (negative) counts;
// customers absent from the input are not materialized at all, so missing
// data stays missing instead of becoming a fabricated zero row. No scoring
// happens here; recording is independently retryable.
func (r *Recorder) Record(ctx context.Context, w model.Window, extracted map[string]model.Counts) (RecordResult, error) {
	var res RecordResult

	directory, err := r.customers.Customers(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: load customer directory: %w", ErrPersistence, err)
	}

	accepted := make(map[string]model.Counts, len(extracted))
	for id, c := range extracted {
		if _, ok := directory[id]; !ok {
			res.Unknown++
			metrics.RecordUnknownCustomer()
			r.logger.Warn(ctx, "extracted customer not in directory, skipping",
				logger.String("customerID", id),
			)
			continue
		}
		if c.FN < 0 || c.FP < 0 {
			res.Invalid++
			r.logger.Warn(ctx, "malformed counts, skipping",
				logger.String("customerID", id),
				logger.Int("fn", c.FN),
				logger.Int("fp", c.FP),
			)
			continue
		}
		accepted[id] = c
	}

	if len(accepted) == 0 {
		r.logger.Info(ctx, "no counts to record for window",
			logger.Any("windowStart", w.Start),
		)
		return res, nil
	}

	if err := r.counts.UpsertCounts(ctx, w, accepted); err != nil {
		return res, fmt.Errorf("%w: upsert counts: %w", ErrPersistence, err)
	}
	res.Recorded = len(accepted)
	metrics.RecordCountsRecorded(res.Recorded)
	return res, nil
}

// SyncCustomers refreshes the directory from the upstream source before a
// window is recorded, mirroring the upstream customer sync.
func (r *Recorder) SyncCustomers(ctx context.Context, customers []model.Customer) error {
	if len(customers) == 0 {
		return nil
	}
	if err := r.customers.UpsertCustomers(ctx, customers); err != nil {
		return fmt.Errorf("%w: upsert customers: %w", ErrPersistence, err)
	}
	return nil
}
