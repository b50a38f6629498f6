package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// MemStore is the in-memory reference implementation of Store. It backs
// tests and the simulated profile; every operation is atomic per row under
// a single RWMutex, which is plenty for one pipeline run at a time.
type MemStore struct {
	mu sync.RWMutex

	// counts[customerID][windowStartUnix]
	counts map[string]map[int64]model.WindowCount
	// scores[customerID][windowStartUnix]
	scores map[string]map[int64]model.SentimentRecord
	// segments[windowStartUnix][industry]
	segments map[int64]map[string]model.SegmentRecord
	overall  map[int64]model.OverallRecord

	baselines map[string]model.IndustryBaseline
	customers map[string]model.Customer

	lastCompleted time.Time
}

// MemOption applies a configuration option to the MemStore.
type MemOption func(*MemStore)

// WithBaselines seeds the baseline table.
func WithBaselines(baselines []model.IndustryBaseline) MemOption {
	return func(s *MemStore) {
		for _, b := range baselines {
			s.baselines[b.Industry] = b
		}
	}
}

// WithCustomers seeds the customer directory.
func WithCustomers(customers []model.Customer) MemOption {
	return func(s *MemStore) {
		for _, c := range customers {
			s.customers[c.ID] = c
		}
	}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		counts:    make(map[string]map[int64]model.WindowCount),
		scores:    make(map[string]map[int64]model.SentimentRecord),
		segments:  make(map[int64]map[string]model.SegmentRecord),
		overall:   make(map[int64]model.OverallRecord),
		baselines: make(map[string]model.IndustryBaseline),
		customers: make(map[string]model.Customer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertCounts replaces each customer's counts for the window.
func (s *MemStore) UpsertCounts(_ context.Context, w model.Window, counts map[string]model.Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := w.Start.Unix()
	for id, c := range counts {
		if c.FN < 0 || c.FP < 0 {
			return ErrNegativeCount
		}
		rows, ok := s.counts[id]
		if !ok {
			rows = make(map[int64]model.WindowCount)
			s.counts[id] = rows
		}
		rows[key] = model.WindowCount{CustomerID: id, Window: w, Counts: c}
	}
	return nil
}

// CountsForWindow returns the window's count rows ordered by customer id.
func (s *MemStore) CountsForWindow(_ context.Context, w model.Window) ([]model.WindowCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := w.Start.Unix()
	var out []model.WindowCount
	for _, rows := range s.counts {
		if wc, ok := rows[key]; ok {
			out = append(out, wc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

// HistoryBefore returns up to limit rows strictly before the given time,
// newest first.
func (s *MemStore) HistoryBefore(_ context.Context, customerID string, before time.Time, limit int) ([]model.WindowCount, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WindowCount
	for _, wc := range s.counts[customerID] {
		if wc.Window.Start.Before(before) {
			out = append(out, wc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.After(out[j].Window.Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertScore inserts the record if its (customer, window start) key is
// unoccupied; existing records are never overwritten.
func (s *MemStore) InsertScore(_ context.Context, rec model.SentimentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.scores[rec.CustomerID]
	if !ok {
		rows = make(map[int64]model.SentimentRecord)
		s.scores[rec.CustomerID] = rows
	}
	key := rec.Window.Start.Unix()
	if _, exists := rows[key]; exists {
		return false, nil
	}
	rows[key] = rec
	return true, nil
}

// ScoresForWindow returns the window's sentiment records ordered by
// customer id.
func (s *MemStore) ScoresForWindow(_ context.Context, w model.Window) ([]model.SentimentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := w.Start.Unix()
	var out []model.SentimentRecord
	for _, rows := range s.scores {
		if rec, ok := rows[key]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

// RecentScores returns up to limit records for the customer, newest first.
func (s *MemStore) RecentScores(_ context.Context, customerID string, limit int) ([]model.SentimentRecord, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.SentimentRecord
	for _, rec := range s.scores[customerID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.After(out[j].Window.Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReplaceWindow swaps in the window's rollups wholesale.
func (s *MemStore) ReplaceWindow(_ context.Context, w model.Window, segments []model.SegmentRecord, overall model.OverallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := w.Start.Unix()
	segs := make(map[string]model.SegmentRecord, len(segments))
	for _, seg := range segments {
		segs[seg.Industry] = seg
	}
	s.segments[key] = segs
	s.overall[key] = overall
	return nil
}

// SegmentsForWindow returns the window's segment records ordered by industry.
func (s *MemStore) SegmentsForWindow(_ context.Context, w model.Window) ([]model.SegmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.SegmentRecord
	for _, seg := range s.segments[w.Start.Unix()] {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Industry < out[j].Industry })
	return out, nil
}

// OverallForWindow returns the window's overall record.
func (s *MemStore) OverallForWindow(_ context.Context, w model.Window) (model.OverallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.overall[w.Start.Unix()]
	if !ok {
		return model.OverallRecord{}, ErrNotFound
	}
	return rec, nil
}

// PreviousSegment returns the latest segment record for the industry before
// the given time.
func (s *MemStore) PreviousSegment(_ context.Context, industry string, before time.Time) (model.SegmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.SegmentRecord
	found := false
	for key, segs := range s.segments {
		if key >= before.Unix() {
			continue
		}
		seg, ok := segs[industry]
		if !ok {
			continue
		}
		if !found || seg.Window.Start.After(best.Window.Start) {
			best = seg
			found = true
		}
	}
	if !found {
		return model.SegmentRecord{}, ErrNotFound
	}
	return best, nil
}

// PreviousOverall returns the latest overall record before the given time.
func (s *MemStore) PreviousOverall(_ context.Context, before time.Time) (model.OverallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.OverallRecord
	found := false
	for key, rec := range s.overall {
		if key >= before.Unix() {
			continue
		}
		if !found || rec.Window.Start.After(best.Window.Start) {
			best = rec
			found = true
		}
	}
	if !found {
		return model.OverallRecord{}, ErrNotFound
	}
	return best, nil
}

// Baselines returns a copy of the baseline table.
func (s *MemStore) Baselines(_ context.Context) (map[string]model.IndustryBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.IndustryBaseline, len(s.baselines))
	for k, v := range s.baselines {
		out[k] = v
	}
	return out, nil
}

// PutBaseline inserts or replaces one industry baseline.
func (s *MemStore) PutBaseline(_ context.Context, b model.IndustryBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[b.Industry] = b
	return nil
}

// UpsertCustomers inserts or replaces directory entries.
func (s *MemStore) UpsertCustomers(_ context.Context, customers []model.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	return nil
}

// Customers returns a copy of the customer directory.
func (s *MemStore) Customers(_ context.Context) (map[string]model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.Customer, len(s.customers))
	for k, v := range s.customers {
		out[k] = v
	}
	return out, nil
}

// LastCompleted returns the scheduler checkpoint.
func (s *MemStore) LastCompleted(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCompleted, nil
}

// MarkCompleted advances the scheduler checkpoint. Replays of older windows
// never move it backwards.
func (s *MemStore) MarkCompleted(_ context.Context, w model.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.End.After(s.lastCompleted) {
		s.lastCompleted = w.End
	}
	return nil
}
