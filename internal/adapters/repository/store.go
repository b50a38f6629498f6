// Package repository defines the persistence contracts for the pipeline and
// their in-memory and Postgres implementations.
//
// Ownership is strict: the recorder writes counts, the calculator writes
// sentiment records, the aggregator writes segment and overall records, the
// scheduler writes progress. No component touches another's table, and the
// excluded reporting layer only ever reads.
package repository

import (
	"context"
	"time"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// CountStore persists per-customer window counts.
type CountStore interface {
	// UpsertCounts replaces the counts for each (customer, window start) key.
	// Re-extraction for the same window is authoritative, not additive.
	UpsertCounts(ctx context.Context, w model.Window, counts map[string]model.Counts) error

	// CountsForWindow returns every count row recorded for the window.
	CountsForWindow(ctx context.Context, w model.Window) ([]model.WindowCount, error)

	// HistoryBefore returns up to limit count rows for the customer with a
	// window start strictly before the given time, newest first.
	HistoryBefore(ctx context.Context, customerID string, before time.Time, limit int) ([]model.WindowCount, error)
}

// ScoreStore persists immutable sentiment records.
type ScoreStore interface {
	// InsertScore inserts the record unless one already exists for its
	// (customer, window start) key. Returns true when the record was
	// inserted, false when an existing record made the call a no-op.
	InsertScore(ctx context.Context, rec model.SentimentRecord) (bool, error)

	// ScoresForWindow returns every sentiment record of the window.
	ScoresForWindow(ctx context.Context, w model.Window) ([]model.SentimentRecord, error)

	// RecentScores returns up to limit records for the customer, newest
	// first by window start.
	RecentScores(ctx context.Context, customerID string, limit int) ([]model.SentimentRecord, error)
}

// SegmentStore persists the derived rollups.
type SegmentStore interface {
	// ReplaceWindow atomically replaces all segment records and the overall
	// record for the window. Repeated aggregation overwrites, never
	// duplicates.
	ReplaceWindow(ctx context.Context, w model.Window, segments []model.SegmentRecord, overall model.OverallRecord) error

	// SegmentsForWindow returns the segment records of the window.
	SegmentsForWindow(ctx context.Context, w model.Window) ([]model.SegmentRecord, error)

	// OverallForWindow returns the overall record of the window.
	// Returns ErrNotFound if the window has not been aggregated.
	OverallForWindow(ctx context.Context, w model.Window) (model.OverallRecord, error)

	// PreviousSegment returns the most recent segment record for the
	// industry with a window start strictly before the given time.
	// Returns ErrNotFound when there is none.
	PreviousSegment(ctx context.Context, industry string, before time.Time) (model.SegmentRecord, error)

	// PreviousOverall returns the most recent overall record with a window
	// start strictly before the given time. Returns ErrNotFound when there
	// is none.
	PreviousOverall(ctx context.Context, before time.Time) (model.OverallRecord, error)
}

// BaselineStore holds the per-industry reference baselines. The pipeline
// reads them before each run; writes come from operators, not the pipeline.
type BaselineStore interface {
	Baselines(ctx context.Context) (map[string]model.IndustryBaseline, error)
	PutBaseline(ctx context.Context, b model.IndustryBaseline) error
}

// CustomerStore holds the customer directory synced from the upstream source.
type CustomerStore interface {
	UpsertCustomers(ctx context.Context, customers []model.Customer) error
	Customers(ctx context.Context) (map[string]model.Customer, error)
}

// ProgressStore checkpoints the scheduler. A window is marked completed only
// after aggregation succeeds.
type ProgressStore interface {
	// LastCompleted returns the end of the last fully completed window, or
	// the zero time when no window has ever completed.
	LastCompleted(ctx context.Context) (time.Time, error)
	MarkCompleted(ctx context.Context, w model.Window) error
}

// Store bundles every contract the pipeline needs.
type Store interface {
	CountStore
	ScoreStore
	SegmentStore
	BaselineStore
	CustomerStore
	ProgressStore
}
