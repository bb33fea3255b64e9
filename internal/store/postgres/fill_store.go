package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. Fills are
// append-only: there is no update or delete path.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Create inserts a new fill record.
func (s *FillStore) Create(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (id, order_id, run_id, symbol, side, quantity, price, commission, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OrderID, f.RunID, f.Symbol, string(f.Side),
		f.Quantity, f.Price, f.Commission, f.ExecutedAt)
	if err != nil {
		return fmt.Errorf("postgres: create fill %s: %w", f.ID, err)
	}
	return nil
}

const fillSelectCols = `id, order_id, run_id, symbol, side, quantity, price, commission, executed_at`

func scanFillFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Fill, error) {
	var f domain.Fill
	var side string
	var quantity, price, commission decimal.Decimal

	err := scanner.Scan(&f.ID, &f.OrderID, &f.RunID, &f.Symbol, &side, &quantity, &price, &commission, &f.ExecutedAt)
	if err != nil {
		return domain.Fill{}, err
	}
	f.Side = domain.OrderSide(side)
	f.Quantity = quantity
	f.Price = price
	f.Commission = commission
	return f, nil
}

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		f, err := scanFillFromRow(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByOrder returns all fills recorded against a single order, oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE order_id = $1 ORDER BY executed_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by order: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// ListByRun returns fills for a run with pagination.
func (s *FillStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by run: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}
