package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// PostgresStore implements Store on PostgreSQL. Upserts use ON CONFLICT so
// replayed windows stay single-row; sentiment inserts use DO NOTHING so
// records stay immutable; segment replacement runs in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to the given DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates the pipeline tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS window_counts (
	customer_id  TEXT        NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	fn_count     INTEGER     NOT NULL CHECK (fn_count >= 0),
	fp_count     INTEGER     NOT NULL CHECK (fp_count >= 0),
	PRIMARY KEY (customer_id, window_start)
);
CREATE TABLE IF NOT EXISTS sentiment_records (
	id           TEXT             NOT NULL,
	customer_id  TEXT             NOT NULL,
	window_start TIMESTAMPTZ      NOT NULL,
	window_end   TIMESTAMPTZ      NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	method       TEXT             NOT NULL,
	fn_count     INTEGER          NOT NULL,
	fp_count     INTEGER          NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	trend        TEXT             NOT NULL,
	computed_at  TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (customer_id, window_start)
);
CREATE TABLE IF NOT EXISTS segment_records (
	industry       TEXT             NOT NULL,
	window_start   TIMESTAMPTZ      NOT NULL,
	window_end     TIMESTAMPTZ      NOT NULL,
	customer_count INTEGER          NOT NULL,
	avg_score      DOUBLE PRECISION NOT NULL,
	median_score   DOUBLE PRECISION NOT NULL,
	std_dev        DOUBLE PRECISION NOT NULL,
	total_fn       INTEGER          NOT NULL,
	total_fp       INTEGER          NOT NULL,
	trend          TEXT             NOT NULL,
	PRIMARY KEY (industry, window_start)
);
CREATE TABLE IF NOT EXISTS overall_records (
	window_start   TIMESTAMPTZ PRIMARY KEY,
	window_end     TIMESTAMPTZ      NOT NULL,
	customer_count INTEGER          NOT NULL,
	avg_score      DOUBLE PRECISION NOT NULL,
	weighted_score DOUBLE PRECISION NOT NULL,
	variance       DOUBLE PRECISION NOT NULL,
	total_fn       INTEGER          NOT NULL,
	total_fp       INTEGER          NOT NULL,
	top_segment    TEXT             NOT NULL,
	bottom_segment TEXT             NOT NULL,
	trend          TEXT             NOT NULL
);
CREATE TABLE IF NOT EXISTS industry_baselines (
	industry       TEXT PRIMARY KEY,
	baseline_score DOUBLE PRECISION NOT NULL,
	description    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS pipeline_progress (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	last_completed TIMESTAMPTZ NOT NULL
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertCounts replaces each customer's counts for the window.
func (s *PostgresStore) UpsertCounts(ctx context.Context, w model.Window, counts map[string]model.Counts) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert counts: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	const q = `
INSERT INTO window_counts (customer_id, window_start, window_end, fn_count, fp_count)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (customer_id, window_start)
DO UPDATE SET fn_count = EXCLUDED.fn_count, fp_count = EXCLUDED.fp_count`
	for id, c := range counts {
		if c.FN < 0 || c.FP < 0 {
			return ErrNegativeCount
		}
		if _, err := tx.Exec(ctx, q, id, w.Start, w.End, c.FN, c.FP); err != nil {
			return fmt.Errorf("upsert counts for %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

// CountsForWindow returns the window's count rows.
func (s *PostgresStore) CountsForWindow(ctx context.Context, w model.Window) ([]model.WindowCount, error) {
	const q = `
SELECT customer_id, window_start, window_end, fn_count, fp_count
FROM window_counts WHERE window_start = $1 ORDER BY customer_id`
	rows, err := s.pool.Query(ctx, q, w.Start)
	if err != nil {
		return nil, fmt.Errorf("counts for window: %w", err)
	}
	defer rows.Close()
	return scanWindowCounts(rows)
}

// HistoryBefore returns up to limit rows strictly before the given time,
// newest first.
func (s *PostgresStore) HistoryBefore(ctx context.Context, customerID string, before time.Time, limit int) ([]model.WindowCount, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	const q = `
SELECT customer_id, window_start, window_end, fn_count, fp_count
FROM window_counts
WHERE customer_id = $1 AND window_start < $2
ORDER BY window_start DESC LIMIT $3`
	rows, err := s.pool.Query(ctx, q, customerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", customerID, err)
	}
	defer rows.Close()
	return scanWindowCounts(rows)
}

func scanWindowCounts(rows pgx.Rows) ([]model.WindowCount, error) {
	var out []model.WindowCount
	for rows.Next() {
		var wc model.WindowCount
		if err := rows.Scan(&wc.CustomerID, &wc.Window.Start, &wc.Window.End, &wc.Counts.FN, &wc.Counts.FP); err != nil {
			return nil, fmt.Errorf("scan window count: %w", err)
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// InsertScore inserts the record unless the key is already occupied.
func (s *PostgresStore) InsertScore(ctx context.Context, rec model.SentimentRecord) (bool, error) {
	const q = `
INSERT INTO sentiment_records
	(id, customer_id, window_start, window_end, score, method, fn_count, fp_count, confidence, trend, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (customer_id, window_start) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q,
		rec.ID, rec.CustomerID, rec.Window.Start, rec.Window.End, rec.Score, rec.Method,
		rec.Counts.FN, rec.Counts.FP, rec.Confidence, rec.Trend, rec.ComputedAt)
	if err != nil {
		return false, fmt.Errorf("insert score: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ScoresForWindow returns the window's sentiment records.
func (s *PostgresStore) ScoresForWindow(ctx context.Context, w model.Window) ([]model.SentimentRecord, error) {
	const q = selectScores + ` WHERE window_start = $1 ORDER BY customer_id`
	rows, err := s.pool.Query(ctx, q, w.Start)
	if err != nil {
		return nil, fmt.Errorf("scores for window: %w", err)
	}
	defer rows.Close()
	return scanScores(rows)
}

// RecentScores returns up to limit records for the customer, newest first.
func (s *PostgresStore) RecentScores(ctx context.Context, customerID string, limit int) ([]model.SentimentRecord, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	const q = selectScores + ` WHERE customer_id = $1 ORDER BY window_start DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent scores for %s: %w", customerID, err)
	}
	defer rows.Close()
	return scanScores(rows)
}

const selectScores = `
SELECT id, customer_id, window_start, window_end, score, method, fn_count, fp_count, confidence, trend, computed_at
FROM sentiment_records`

func scanScores(rows pgx.Rows) ([]model.SentimentRecord, error) {
	var out []model.SentimentRecord
	for rows.Next() {
		var rec model.SentimentRecord
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &rec.Window.Start, &rec.Window.End, &rec.Score,
			&rec.Method, &rec.Counts.FN, &rec.Counts.FP, &rec.Confidence, &rec.Trend, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan sentiment record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReplaceWindow swaps the window's rollups in one transaction.
func (s *PostgresStore) ReplaceWindow(ctx context.Context, w model.Window, segments []model.SegmentRecord, overall model.OverallRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace window: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM segment_records WHERE window_start = $1`, w.Start); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	const segQ = `
INSERT INTO segment_records
	(industry, window_start, window_end, customer_count, avg_score, median_score, std_dev, total_fn, total_fp, trend)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, seg := range segments {
		if _, err := tx.Exec(ctx, segQ, seg.Industry, seg.Window.Start, seg.Window.End, seg.CustomerCount,
			seg.AvgScore, seg.MedianScore, seg.StdDev, seg.TotalFN, seg.TotalFP, seg.Trend); err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.Industry, err)
		}
	}

	const overallQ = `
INSERT INTO overall_records
	(window_start, window_end, customer_count, avg_score, weighted_score, variance, total_fn, total_fp, top_segment, bottom_segment, trend)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (window_start) DO UPDATE SET
	customer_count = EXCLUDED.customer_count,
	avg_score      = EXCLUDED.avg_score,
	weighted_score = EXCLUDED.weighted_score,
	variance       = EXCLUDED.variance,
	total_fn       = EXCLUDED.total_fn,
	total_fp       = EXCLUDED.total_fp,
	top_segment    = EXCLUDED.top_segment,
	bottom_segment = EXCLUDED.bottom_segment,
	trend          = EXCLUDED.trend`
	if _, err := tx.Exec(ctx, overallQ, overall.Window.Start, overall.Window.End, overall.CustomerCount,
		overall.AvgScore, overall.WeightedScore, overall.Variance, overall.TotalFN, overall.TotalFP,
		overall.TopSegment, overall.BottomSegment, overall.Trend); err != nil {
		return fmt.Errorf("upsert overall: %w", err)
	}
	return tx.Commit(ctx)
}

// SegmentsForWindow returns the window's segment records.
func (s *PostgresStore) SegmentsForWindow(ctx context.Context, w model.Window) ([]model.SegmentRecord, error) {
	const q = selectSegments + ` WHERE window_start = $1 ORDER BY industry`
	rows, err := s.pool.Query(ctx, q, w.Start)
	if err != nil {
		return nil, fmt.Errorf("segments for window: %w", err)
	}
	defer rows.Close()

	var out []model.SegmentRecord
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// OverallForWindow returns the window's overall record.
func (s *PostgresStore) OverallForWindow(ctx context.Context, w model.Window) (model.OverallRecord, error) {
	return s.scanOverallRow(s.pool.QueryRow(ctx, selectOverall+` WHERE window_start = $1`, w.Start))
}

// PreviousSegment returns the latest segment record for the industry before
// the given time.
func (s *PostgresStore) PreviousSegment(ctx context.Context, industry string, before time.Time) (model.SegmentRecord, error) {
	const q = selectSegments + `
WHERE industry = $1 AND window_start < $2 ORDER BY window_start DESC LIMIT 1`
	seg, err := scanSegment(s.pool.QueryRow(ctx, q, industry, before))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SegmentRecord{}, ErrNotFound
	}
	return seg, err
}

// PreviousOverall returns the latest overall record before the given time.
func (s *PostgresStore) PreviousOverall(ctx context.Context, before time.Time) (model.OverallRecord, error) {
	const q = selectOverall + ` WHERE window_start < $1 ORDER BY window_start DESC LIMIT 1`
	return s.scanOverallRow(s.pool.QueryRow(ctx, q, before))
}

const selectSegments = `
SELECT industry, window_start, window_end, customer_count, avg_score, median_score, std_dev, total_fn, total_fp, trend
FROM segment_records`

const selectOverall = `
SELECT window_start, window_end, customer_count, avg_score, weighted_score, variance, total_fn, total_fp, top_segment, bottom_segment, trend
FROM overall_records`

func scanSegment(row pgx.Row) (model.SegmentRecord, error) {
	var seg model.SegmentRecord
	err := row.Scan(&seg.Industry, &seg.Window.Start, &seg.Window.End, &seg.CustomerCount,
		&seg.AvgScore, &seg.MedianScore, &seg.StdDev, &seg.TotalFN, &seg.TotalFP, &seg.Trend)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SegmentRecord{}, err
		}
		return model.SegmentRecord{}, fmt.Errorf("scan segment record: %w", err)
	}
	return seg, nil
}

func (s *PostgresStore) scanOverallRow(row pgx.Row) (model.OverallRecord, error) {
	var rec model.OverallRecord
	err := row.Scan(&rec.Window.Start, &rec.Window.End, &rec.CustomerCount, &rec.AvgScore,
		&rec.WeightedScore, &rec.Variance, &rec.TotalFN, &rec.TotalFP,
		&rec.TopSegment, &rec.BottomSegment, &rec.Trend)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OverallRecord{}, ErrNotFound
	}
	if err != nil {
		return model.OverallRecord{}, fmt.Errorf("scan overall record: %w", err)
	}
	return rec, nil
}

// Baselines returns the baseline table.
func (s *PostgresStore) Baselines(ctx context.Context) (map[string]model.IndustryBaseline, error) {
	rows, err := s.pool.Query(ctx, `SELECT industry, baseline_score, description FROM industry_baselines`)
	if err != nil {
		return nil, fmt.Errorf("load baselines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.IndustryBaseline)
	for rows.Next() {
		var b model.IndustryBaseline
		if err := rows.Scan(&b.Industry, &b.Score, &b.Description); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out[b.Industry] = b
	}
	return out, rows.Err()
}

// PutBaseline inserts or replaces one industry baseline.
func (s *PostgresStore) PutBaseline(ctx context.Context, b model.IndustryBaseline) error {
	const q = `
INSERT INTO industry_baselines (industry, baseline_score, description)
VALUES ($1, $2, $3)
ON CONFLICT (industry) DO UPDATE SET baseline_score = EXCLUDED.baseline_score, description = EXCLUDED.description`
	if _, err := s.pool.Exec(ctx, q, b.Industry, b.Score, b.Description); err != nil {
		return fmt.Errorf("put baseline %s: %w", b.Industry, err)
	}
	return nil
}

// UpsertCustomers inserts or replaces directory entries.
func (s *PostgresStore) UpsertCustomers(ctx context.Context, customers []model.Customer) error {
	const q = `
INSERT INTO customers (id, name, industry) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, industry = EXCLUDED.industry`
	for _, c := range customers {
		if _, err := s.pool.Exec(ctx, q, c.ID, c.Name, c.Industry); err != nil {
			return fmt.Errorf("upsert customer %s: %w", c.ID, err)
		}
	}
	return nil
}

// Customers returns the customer directory.
func (s *PostgresStore) Customers(ctx context.Context) (map[string]model.Customer, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, industry FROM customers`)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Customer)
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Industry); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// LastCompleted returns the scheduler checkpoint, zero when none exists.
func (s *PostgresStore) LastCompleted(ctx context.Context) (time.Time, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_completed FROM pipeline_progress WHERE id = 1`).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return last, nil
}

// MarkCompleted advances the scheduler checkpoint.
func (s *PostgresStore) MarkCompleted(ctx context.Context, w model.Window) error {
	const q = `
INSERT INTO pipeline_progress (id, last_completed) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET last_completed = GREATEST(pipeline_progress.last_completed, EXCLUDED.last_completed)`
	if _, err := s.pool.Exec(ctx, q, w.End); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}
