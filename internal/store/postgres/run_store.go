package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weaver-engine/weaver/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create inserts a new run record in pending status.
func (s *RunStore) Create(ctx context.Context, r domain.Run) error {
	paramsJSON, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal run params: %w", err)
	}

	const query = `
		INSERT INTO runs (
			id, strategy_id, adapter_id, mode, status, symbol, timeframe,
			params, backtest_from, backtest_to, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.StrategyID, r.AdapterID, string(r.Mode), string(r.Status),
		r.Symbol, r.Timeframe, paramsJSON, r.BacktestFrom, r.BacktestTo, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateStatus transitions a run's status, recording an error message when
// present and stamping started_at/ended_at as appropriate.
func (s *RunStore) UpdateStatus(ctx context.Context, id string, status domain.RunStatus, errMsg string) error {
	var query string
	switch status {
	case domain.RunStatusRunning:
		query = `UPDATE runs SET status = $1, started_at = NOW(), error_message = $2 WHERE id = $3`
	case domain.RunStatusStopped, domain.RunStatusCompleted, domain.RunStatusError:
		query = `UPDATE runs SET status = $1, ended_at = NOW(), error_message = $2 WHERE id = $3`
	default:
		query = `UPDATE runs SET status = $1, error_message = $2 WHERE id = $3`
	}

	tag, err := s.pool.Exec(ctx, query, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: update run status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const runSelectCols = `id, strategy_id, adapter_id, mode, status, symbol, timeframe,
	params, backtest_from, backtest_to, error_message, created_at, started_at, ended_at`

func scanRunFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Run, error) {
	var r domain.Run
	var mode, status string
	var paramsJSON []byte

	err := scanner.Scan(
		&r.ID, &r.StrategyID, &r.AdapterID, &mode, &status, &r.Symbol, &r.Timeframe,
		&paramsJSON, &r.BacktestFrom, &r.BacktestTo, &r.ErrorMessage,
		&r.CreatedAt, &r.StartedAt, &r.EndedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}
	r.Mode = domain.RunMode(mode)
	r.Status = domain.RunStatus(status)
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return domain.Run{}, fmt.Errorf("postgres: unmarshal run params: %w", err)
		}
	}
	return r, nil
}

func scanRunRows(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		r, err := scanRunFromRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetByID retrieves a single run by ID.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM runs WHERE id = $1`, id)
	r, err := scanRunFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListActive returns every run currently in pending or running status.
// RunManager does not call it.
func (s *RunStore) ListActive(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runSelectCols+` FROM runs WHERE status IN ('pending', 'running') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active runs: %w", err)
	}
	defer rows.Close()
	return scanRunRows(rows)
}

// List returns runs with pagination and optional time filtering.
func (s *RunStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	query := `SELECT ` + runSelectCols + ` FROM runs WHERE 1=1`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()
	return scanRunRows(rows)
}
