// Package model contains domain records passed between pipeline stages.
package model

import "time"

// Trend labels attached to sentiment, segment, and overall records.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// Customer identifies a scored entity. The directory is synced from the
// upstream source; the pipeline never writes it outside that sync.
type Customer struct {
	ID       string
	Name     string
	Industry string
}

// Window is a half-open [Start, End) interval aligned to the window size.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// Counts holds the false-negative and false-positive report totals for one
// customer in one window.
type Counts struct {
	FN int
	FP int
}

// Total returns the combined report count.
func (c Counts) Total() int { return c.FN + c.FP }

// WindowCount is the persisted count tuple. At most one row exists per
// (CustomerID, Window.Start); re-extraction replaces, never adds.
type WindowCount struct {
	CustomerID string
	Window     Window
	Counts     Counts
}

// SentimentRecord is the immutable per-customer score for a window.
// Once written it is never updated; re-runs skip existing records.
type SentimentRecord struct {
	ID         string // uuid
	CustomerID string
	Window     Window
	Score      float64 // in [0,1]
	Method     string
	Counts     Counts
	Confidence float64 // in [0,1]
	Trend      string
	ComputedAt time.Time
}

// SegmentRecord aggregates one industry's sentiment for a window. It is
// fully recomputed from the window's SentimentRecords on every aggregation.
type SegmentRecord struct {
	Industry      string
	Window        Window
	CustomerCount int
	AvgScore      float64
	MedianScore   float64
	StdDev        float64
	TotalFN       int
	TotalFP       int
	Trend         string
}

// OverallRecord aggregates the whole customer population for a window.
type OverallRecord struct {
	Window        Window
	CustomerCount int
	AvgScore      float64
	// WeightedScore weights each customer's score by its report volume.
	WeightedScore float64
	Variance      float64
	TotalFN       int
	TotalFP       int
	TopSegment    string
	BottomSegment string
	Trend         string
}

// IndustryBaseline is reference data read by the score engine. The pipeline
// reloads baselines before each run and never writes them.
type IndustryBaseline struct {
	Industry    string
	Score       float64 // in (0,1]
	Description string
}
