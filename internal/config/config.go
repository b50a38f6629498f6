// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults, Load(ctx) to layer
//   file and environment sources on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WindowMinutes sets the extraction window length.
	WindowMinutes int `koanf:"window_minutes"`

	// TickSeconds sets the interval between scheduler run attempts.
	TickSeconds int `koanf:"tick_seconds"`

	// DecayFactor weights older windows in the weighted average, in (0,1].
	DecayFactor float64 `koanf:"decay_factor"`

	// TrendWeight scales the velocity nudge when trend adjustment is on.
	TrendWeight float64 `koanf:"trend_weight"`

	// TrendEnabled turns the trend adjustment stage on.
	TrendEnabled bool `koanf:"trend_enabled"`

	// HistoryDepth bounds the prior windows consulted per customer.
	HistoryDepth int `koanf:"history_depth"`

	// WorkerCount sets the number of concurrent customer scorers.
	WorkerCount int `koanf:"worker_count"`

	// ExtractTimeoutSeconds bounds each upstream extraction call.
	ExtractTimeoutSeconds int `koanf:"extract_timeout_seconds"`

	// BootstrapWindows sets how many past windows a first run backfills.
	BootstrapWindows int `koanf:"bootstrap_windows"`

	// MinReports is the report volume at which confidence saturates.
	MinReports int `koanf:"min_reports"`

	// Baselines maps industry names to reference scores in (0,1]. They are
	// seeded into the store at startup.
	Baselines map[string]float64 `koanf:"baselines"`

	// SourceDSN points extraction at a Postgres upstream. Empty selects the
	// simulated source.
	SourceDSN string `koanf:"source_dsn"`

	// StoreDSN points persistence at Postgres. Empty selects the in-memory
	// store.
	StoreDSN string `koanf:"store_dsn"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		WindowMinutes:         60,
		TickSeconds:           60,
		DecayFactor:           0.9,
		TrendWeight:           0.2,
		TrendEnabled:          false,
		HistoryDepth:          10,
		WorkerCount:           runtime.NumCPU() * 2,
		ExtractTimeoutSeconds: 30,
		BootstrapWindows:      24,
		MinReports:            5,
		Baselines: map[string]float64{
			"Technology": 0.65,
			"Finance":    0.60,
			"Healthcare": 0.70,
			"Retail":     0.55,
		},
	}
}

// WindowSize returns the window length as a duration.
func (c *Config) WindowSize() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Tick returns the scheduler tick as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// ExtractTimeout returns the extraction bound as a duration.
func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutSeconds) * time.Second
}
