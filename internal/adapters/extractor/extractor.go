// Package extractor defines the upstream source contracts: per-window count
// extraction and the customer directory sync. The pipeline depends only on
// these interfaces; the transport behind them is opaque.
package extractor

import (
	"context"
	"errors"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// Sentinel kinds for extraction errors.
var (
	// ErrExtraction wraps connectivity and query failures. An extraction
	// call is all-or-nothing: on error no partial counts are usable.
	ErrExtraction = errors.New("extraction failed")
)

// CountExtractor returns the per-customer report counts for one window.
type CountExtractor interface {
	// Extract returns fn/fp counts keyed by customer id for the window.
	// Customers with no activity in the window are simply absent from the
	// map. Implementations must honor ctx deadlines; the scheduler runs
	// extraction under a timeout.
	Extract(ctx context.Context, w model.Window) (map[string]model.Counts, error)
}

// CustomerSource lists the customer universe from the upstream system.
type CustomerSource interface {
	Customers(ctx context.Context) ([]model.Customer, error)
}

// Source combines both upstream contracts; real sources serve both from the
// same backend.
type Source interface {
	CountExtractor
	CustomerSource
}
