package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if PULSE_CONFIG is set
//  3. env (prefix PULSE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("PULSE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: PULSE_ADDR, PULSE_WINDOW_MINUTES, ...
	// Map env keys like PULSE_WINDOW_MINUTES -> window_minutes (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("PULSE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "pulse_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WindowMinutes <= 0:
		return fmt.Errorf("%w: window_minutes must be positive", ErrInvalidConfig)
	case c.TickSeconds <= 0:
		return fmt.Errorf("%w: tick_seconds must be positive", ErrInvalidConfig)
	case c.DecayFactor <= 0 || c.DecayFactor > 1:
		return fmt.Errorf("%w: decay_factor must be in (0,1]", ErrInvalidConfig)
	case c.TrendWeight < 0 || c.TrendWeight > 1:
		return fmt.Errorf("%w: trend_weight must be in [0,1]", ErrInvalidConfig)
	case c.HistoryDepth <= 0:
		return fmt.Errorf("%w: history_depth must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.ExtractTimeoutSeconds <= 0:
		return fmt.Errorf("%w: extract_timeout_seconds must be positive", ErrInvalidConfig)
	case c.BootstrapWindows <= 0:
		return fmt.Errorf("%w: bootstrap_windows must be positive", ErrInvalidConfig)
	case c.MinReports <= 0:
		return fmt.Errorf("%w: min_reports must be positive", ErrInvalidConfig)
	}
	for industry, score := range c.Baselines {
		if score <= 0 || score > 1 {
			return fmt.Errorf("%w: baseline for %q must be in (0,1], got %v", ErrInvalidConfig, industry, score)
		}
	}
	return nil
}
