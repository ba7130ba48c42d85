package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dealdesk/internal/domain/invoice"
)

var _ invoice.Sequence = (*DocSequence)(nil)

// DocSequence issues per-kind monotonic counters. The upsert increments and
// returns in one statement, so concurrent callers always get distinct values.
type DocSequence struct {
	pool *pgxpool.Pool
}

// NewDocSequence returns a DocSequence using the given pool.
func NewDocSequence(pool *pgxpool.Pool) *DocSequence {
	return &DocSequence{pool: pool}
}

// Next returns the next counter value for the named sequence, creating the
// sequence on first use.
func (s *DocSequence) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO doc_sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = doc_sequences.value + 1
		RETURNING value
	`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %q: %w", name, err)
	}
	return value, nil
}
