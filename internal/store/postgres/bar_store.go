package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
)

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore creates a new BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// InsertBatch upserts a batch of bars, keyed by (symbol, timeframe, ts).
func (s *BarStore) InsertBatch(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`

	for _, b := range bars {
		batch.Queue(query, b.Symbol, b.Timeframe, b.Ts, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert bar batch: %w", err)
		}
	}
	return nil
}

const barSelectCols = `symbol, timeframe, ts, open, high, low, close, volume`

func scanBarFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Bar, error) {
	var b domain.Bar
	var open, high, low, close, volume decimal.Decimal
	err := scanner.Scan(&b.Symbol, &b.Timeframe, &b.Ts, &open, &high, &low, &close, &volume)
	if err != nil {
		return domain.Bar{}, err
	}
	b.Open, b.High, b.Low, b.Close, b.Volume = open, high, low, close, volume
	return b, nil
}

// ListRange returns bars for symbol/timeframe within [from, to], ordered by ts ascending.
func (s *BarStore) ListRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+barSelectCols+` FROM bars
		 WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		 ORDER BY ts ASC`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars range: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b, err := scanBarFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// GetLatest returns the most recent bar for a symbol/timeframe.
func (s *BarStore) GetLatest(ctx context.Context, symbol, timeframe string) (domain.Bar, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+barSelectCols+` FROM bars WHERE symbol = $1 AND timeframe = $2
		 ORDER BY ts DESC LIMIT 1`, symbol, timeframe)
	b, err := scanBarFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bar{}, domain.ErrNotFound
		}
		return domain.Bar{}, fmt.Errorf("postgres: get latest bar: %w", err)
	}
	return b, nil
}
