package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RunStore persists run lifecycle records.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	UpdateStatus(ctx context.Context, id string, status RunStatus, errMsg string) error
	GetByID(ctx context.Context, id string) (Run, error)
	ListActive(ctx context.Context) ([]Run, error)
	List(ctx context.Context, opts ListOpts) ([]Run, error)
}

// OrderStore persists order lifecycle records.
type OrderStore interface {
	Create(ctx context.Context, order OrderState) error
	GetByClientOrderID(ctx context.Context, runID, clientOrderID string) (OrderState, error)
	GetByID(ctx context.Context, id string) (OrderState, error)
	UpdateState(ctx context.Context, order OrderState) error
	ListOpenByRun(ctx context.Context, runID string) ([]OrderState, error)
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]OrderState, error)
}

// FillStore persists append-only fill records.
type FillStore interface {
	Create(ctx context.Context, fill Fill) error
	ListByOrder(ctx context.Context, orderID string) ([]Fill, error)
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]Fill, error)
}

// BarStore persists and serves historical OHLCV data for backtesting.
type BarStore interface {
	InsertBatch(ctx context.Context, bars []Bar) error
	ListRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Bar, error)
	GetLatest(ctx context.Context, symbol, timeframe string) (Bar, error)
}

// OffsetStore persists per-consumer read cursors into the event log.
type OffsetStore interface {
	Get(ctx context.Context, consumerName string) (ConsumerOffset, error)
	Set(ctx context.Context, consumerName string, seq int64) error
}

// AuditEntry is a single audit log row, independent of the event log: it
// exists for operational postmortems, not for replay.
type AuditEntry struct {
	ID        int64
	RunID     string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, runID, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
