// Package window computes the canonical extraction windows the pipeline
// processes. Windows are fixed-size, anchored to the top of the hour,
// non-overlapping, and gap-free: the next window always begins where the
// last completed one ended.
package window

import (
	"time"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// DefaultSize is the canonical extraction window length.
const DefaultSize = time.Hour

// Clock derives the next window to process from the last completed window
// end and the current time. It holds no state; callers persist progress.
type Clock struct {
	size time.Duration
}

// Option applies a configuration option to the Clock.
type Option func(*Clock)

// WithSize overrides the window size. Non-positive values are ignored.
func WithSize(size time.Duration) Option {
	return func(c *Clock) {
		if size > 0 {
			c.size = size
		}
	}
}

// NewClock creates a Clock with the default one-hour window.
func NewClock(opts ...Option) *Clock {
	c := &Clock{size: DefaultSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the configured window length.
func (c *Clock) Size() time.Duration { return c.size }

// Next returns the window immediately following lastCompletedEnd, or
// ok=false when that window has not fully elapsed yet. lastCompletedEnd is
// truncated to the window boundary so a drifted checkpoint cannot produce
// misaligned windows. Callers with more than one overdue window call Next
// repeatedly, committing each window before asking for the next.
func (c *Clock) Next(lastCompletedEnd, now time.Time) (model.Window, bool) {
	start := lastCompletedEnd.Truncate(c.size)
	end := start.Add(c.size)
	if now.Before(end) {
		return model.Window{}, false
	}
	return model.Window{Start: start, End: end}, true
}

// Anchor computes the synthetic "last completed end" for a first run with
// no checkpoint: lookback whole windows before the current boundary. A
// lookback of one yields the most recently completed window as the first
// window to process; larger values backfill further into the past.
func (c *Clock) Anchor(now time.Time, lookback int) time.Time {
	if lookback < 1 {
		lookback = 1
	}
	boundary := now.Truncate(c.size)
	return boundary.Add(-time.Duration(lookback) * c.size)
}
