package extractor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentrilab/pulse/internal/domain/model"
)

// PostgresSource implements Source against the upstream reporting database.
// Reports live in an email_samples table tagged 'FN' or 'FP'; customers in
// a customers table carrying the industry classification.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects a pool to the upstream DSN.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect source: %w", ErrExtraction, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping source: %w", ErrExtraction, err)
	}
	return &PostgresSource{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// Extract aggregates fn/fp counts per customer inside the half-open window.
// Any query failure voids the whole call; partial results are never returned.
func (s *PostgresSource) Extract(ctx context.Context, w model.Window) (map[string]model.Counts, error) {
	const q = `
SELECT
	customer_id,
	COUNT(*) FILTER (WHERE sample_type = 'FN') AS fn_count,
	COUNT(*) FILTER (WHERE sample_type = 'FP') AS fp_count
FROM email_samples
WHERE reported_at >= $1 AND reported_at < $2
GROUP BY customer_id
ORDER BY customer_id`
	rows, err := s.pool.Query(ctx, q, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("%w: count query: %w", ErrExtraction, err)
	}
	defer rows.Close()

	counts := make(map[string]model.Counts)
	for rows.Next() {
		var id string
		var c model.Counts
		if err := rows.Scan(&id, &c.FN, &c.FP); err != nil {
			return nil, fmt.Errorf("%w: scan counts: %w", ErrExtraction, err)
		}
		counts[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read counts: %w", ErrExtraction, err)
	}
	return counts, nil
}

// Customers lists the upstream customer directory.
func (s *PostgresSource) Customers(ctx context.Context) ([]model.Customer, error) {
	const q = `SELECT customer_id, company_name, industry FROM customers ORDER BY customer_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: customer query: %w", ErrExtraction, err)
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Industry); err != nil {
			return nil, fmt.Errorf("%w: scan customer: %w", ErrExtraction, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read customers: %w", ErrExtraction, err)
	}
	return out, nil
}
