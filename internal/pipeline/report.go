package pipeline

import (
	"github.com/sentrilab/pulse/internal/domain/model"
)

// Stage names the steps of one window's run. A run walks them in order and
// halts at the first failing stage; the window is retried on the next tick.
type Stage string

// Pipeline stages in execution order.
const (
	StageIdle        Stage = "idle"
	StageExtracting  Stage = "extracting"
	StageRecording   Stage = "recording"
	StageScoring     Stage = "scoring"
	StageAggregating Stage = "aggregating"
)

// CustomerFailure is one isolated per-customer scoring failure.
type CustomerFailure struct {
	CustomerID string
	Reason     string
}

// RunReport summarizes one window's run for the reporting layer.
type RunReport struct {
	RunID  string
	Window model.Window

	// Recording
	Recorded int // count rows upserted
	Unknown  int // extracted customers missing from the directory
	Invalid  int // extracted customers with malformed counts

	// Scoring
	Scored   int // sentiment records written
	Skipped  int // customers already scored for the window
	Failures []CustomerFailure

	// Aggregation
	Segments int // segment records written (overall row not included)
}
