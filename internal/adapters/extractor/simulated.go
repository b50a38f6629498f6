package extractor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// Default simulation constants.
const (
	defaultSeed       = 42
	defaultMaxReports = 40
	defaultMinLatency = 10 * time.Millisecond
	defaultMaxLatency = 50 * time.Millisecond
)

// defaultFleet is the simulated customer universe used when none is given.
var defaultFleet = []model.Customer{
	{ID: "cust-001", Name: "Acme Corp", Industry: "Technology"},
	{ID: "cust-002", Name: "Globex", Industry: "Technology"},
	{ID: "cust-003", Name: "Initech", Industry: "Finance"},
	{ID: "cust-004", Name: "Umbrella Health", Industry: "Healthcare"},
	{ID: "cust-005", Name: "Wayne Retail", Industry: "Retail"},
}

// SimulatedOption applies a configuration option to the SimulatedSource.
type SimulatedOption func(*SimulatedSource)

// WithFleet replaces the simulated customer universe.
func WithFleet(customers []model.Customer) SimulatedOption {
	return func(s *SimulatedSource) {
		if len(customers) > 0 {
			s.fleet = customers
		}
	}
}

// WithSimulatedLatency sets the simulated upstream latency range.
func WithSimulatedLatency(minLatency, maxLatency time.Duration) SimulatedOption {
	return func(s *SimulatedSource) {
		if minLatency >= 0 && maxLatency > minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithMaxReports caps the per-customer report volume per window.
func WithMaxReports(maxReports int) SimulatedOption {
	return func(s *SimulatedSource) {
		if maxReports > 0 {
			s.maxReports = maxReports
		}
	}
}

// SimulatedSource implements Source with deterministic synthetic counts.
// The same window always yields the same counts, so replayed windows
// exercise the upsert paths exactly like a real re-extraction.
type SimulatedSource struct {
	fleet      []model.Customer
	maxReports int
	minLatency time.Duration
	maxLatency time.Duration
}

// NewSimulatedSource creates a simulated source with a small built-in fleet.
func NewSimulatedSource(opts ...SimulatedOption) *SimulatedSource {
	s := &SimulatedSource{
		fleet:      defaultFleet,
		maxReports: defaultMaxReports,
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Customers returns the simulated fleet.
func (s *SimulatedSource) Customers(_ context.Context) ([]model.Customer, error) {
	out := make([]model.Customer, len(s.fleet))
	copy(out, s.fleet)
	return out, nil
}

// Extract produces counts derived from the window start, so every replay of
// a window sees identical data. Roughly one customer in five sits a window
// out to exercise the missing-data path.
func (s *SimulatedSource) Extract(ctx context.Context, w model.Window) (map[string]model.Counts, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	latency := s.minLatency
	if s.maxLatency > s.minLatency {
		span := int64(s.maxLatency - s.minLatency)
		latency += time.Duration(rand.Int63n(span)) //nolint:gosec // jitter only
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrExtraction, ctx.Err())
	case <-time.After(latency):
	}

	counts := make(map[string]model.Counts, len(s.fleet))
	for i, c := range s.fleet {
		// Seeded per (window, customer) for determinism across replays.
		rng := rand.New(rand.NewSource(defaultSeed + w.Start.Unix() + int64(i))) //nolint:gosec // synthetic data
		if rng.Intn(5) == 0 {
			continue // quiet window for this customer
		}
		counts[c.ID] = model.Counts{
			FN: rng.Intn(s.maxReports),
			FP: rng.Intn(s.maxReports),
		}
	}
	return counts, nil
}
