package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order into the database.
func (s *OrderStore) Create(ctx context.Context, o domain.OrderState) error {
	const query = `
		INSERT INTO orders (
			id, client_order_id, run_id, symbol, side, kind, time_in_force,
			quantity, limit_price, stop_price, filled_qty, avg_fill_price,
			status, reject_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err := Q(ctx, s.pool).Exec(ctx, query,
		o.ID, o.ClientOrderID, o.RunID, o.Symbol,
		string(o.Side), string(o.Kind), string(o.TimeInForce),
		o.Quantity, o.LimitPrice, o.StopPrice, o.FilledQty, o.AvgFillPrice,
		string(o.Status), o.RejectReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateState writes the current mutable fields of an order: status, filled
// quantity, average fill price, and reject reason.
func (s *OrderStore) UpdateState(ctx context.Context, o domain.OrderState) error {
	const query = `
		UPDATE orders
		SET status = $1, filled_qty = $2, avg_fill_price = $3,
			reject_reason = $4, updated_at = $5
		WHERE id = $6`

	tag, err := s.pool.Exec(ctx, query,
		string(o.Status), o.FilledQty, o.AvgFillPrice, o.RejectReason, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, client_order_id, run_id, symbol, side, kind, time_in_force,
	quantity, limit_price, stop_price, filled_qty, avg_fill_price,
	status, reject_reason, created_at, updated_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.OrderState, error) {
	var o domain.OrderState
	var side, kind, tif, status string
	var quantity, limitPrice, stopPrice, filledQty, avgFillPrice decimal.Decimal

	err := scanner.Scan(
		&o.ID, &o.ClientOrderID, &o.RunID, &o.Symbol,
		&side, &kind, &tif,
		&quantity, &limitPrice, &stopPrice, &filledQty, &avgFillPrice,
		&status, &o.RejectReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.OrderState{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.TimeInForce = domain.OrderTimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.Quantity = quantity
	o.LimitPrice = limitPrice
	o.StopPrice = stopPrice
	o.FilledQty = filledQty
	o.AvgFillPrice = avgFillPrice

	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.OrderState, error) {
	var orders []domain.OrderState
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.OrderState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OrderState{}, domain.ErrNotFound
		}
		return domain.OrderState{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByClientOrderID supports OrderManager's idempotency check.
func (s *OrderStore) GetByClientOrderID(ctx context.Context, runID, clientOrderID string) (domain.OrderState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE run_id = $1 AND client_order_id = $2`,
		runID, clientOrderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OrderState{}, domain.ErrNotFound
		}
		return domain.OrderState{}, fmt.Errorf("postgres: get order by client_order_id: %w", err)
	}
	return o, nil
}

// ListOpenByRun returns all non-terminal orders for the given run.
func (s *OrderStore) ListOpenByRun(ctx context.Context, runID string) ([]domain.OrderState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE run_id = $1 AND status NOT IN ('filled', 'cancelled', 'rejected', 'expired')
		 ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListByRun returns orders for a given run with pagination.
func (s *OrderStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.OrderState, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE run_id = $1`
	args := []any{runID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list orders by run: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by run: %w", err)
	}
	return orders, nil
}
