package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// WithTx returns a context carrying tx, so that store methods executed
// with it participate in the same transaction as the caller's other
// writes. Nothing in this module calls it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction stashed by WithTx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting store
// methods transparently run inside an ambient transaction when present.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Q returns the transaction stashed in ctx by WithTx if present, otherwise
// pool itself. Both satisfy querier, so callers can write one code path
// that participates in an ambient transaction when the caller wants
// atomicity (e.g. order row + outbox envelope in one commit).
func Q(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}
