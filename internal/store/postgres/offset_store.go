package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weaver-engine/weaver/internal/domain"
)

// OffsetStore implements domain.OffsetStore using PostgreSQL.
type OffsetStore struct {
	pool *pgxpool.Pool
}

// NewOffsetStore creates a new OffsetStore backed by the given connection pool.
func NewOffsetStore(pool *pgxpool.Pool) *OffsetStore {
	return &OffsetStore{pool: pool}
}

// Get returns the last committed offset for a consumer, or seq 0 if the
// consumer has never committed one.
func (s *OffsetStore) Get(ctx context.Context, consumerName string) (domain.ConsumerOffset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT consumer_name, seq, updated_at FROM consumer_offsets WHERE consumer_name = $1`, consumerName)

	var o domain.ConsumerOffset
	err := row.Scan(&o.ConsumerName, &o.Seq, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConsumerOffset{ConsumerName: consumerName, Seq: 0}, nil
		}
		return domain.ConsumerOffset{}, fmt.Errorf("postgres: get offset %s: %w", consumerName, err)
	}
	return o, nil
}

// Set upserts the committed offset for a consumer.
func (s *OffsetStore) Set(ctx context.Context, consumerName string, seq int64) error {
	const query = `
		INSERT INTO consumer_offsets (consumer_name, seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer_name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, consumerName, seq)
	if err != nil {
		return fmt.Errorf("postgres: set offset %s: %w", consumerName, err)
	}
	return nil
}
