package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/store/postgres"
)

// CrossProcessNotifier is the optional hook Append uses to announce a new
// envelope beyond this process's in-memory subscribers, for deployments
// running more than one instance against the same outbox table.
type CrossProcessNotifier interface {
	Notify(ctx context.Context, env domain.Envelope) error
}

// PostgresLog is the durable Log implementation backed by the outbox
// table. Append runs inside the ambient transaction stashed in ctx via
// postgres.WithTx when one is present, so a business write (e.g. an order
// insert) and its envelope share one commit; otherwise it opens its own
// single-statement write.
type PostgresLog struct {
	dispatcher
	pool     *pgxpool.Pool
	notifier CrossProcessNotifier
	logger   *slog.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given connection pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLog {
	return &PostgresLog{dispatcher: newDispatcher(logger), pool: pool, logger: logger}
}

// SetNotifier wires an optional CrossProcessNotifier. A nil notifier (the
// default) disables cross-process announcement entirely; in-process
// subscribers are unaffected either way.
func (l *PostgresLog) SetNotifier(n CrossProcessNotifier) {
	l.notifier = n
}

func (l *PostgresLog) Append(ctx context.Context, env domain.Envelope) (int64, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal payload: %w", err)
	}
	headersJSON, err := json.Marshal(env.Headers)
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal headers: %w", err)
	}
	version := env.Version
	if version == 0 {
		version = 1
	}

	const query = `
		INSERT INTO outbox (id, type, version, run_id, corr_id, causation_id, trace_id, producer, headers, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`

	var seq int64
	row := postgres.Q(ctx, l.pool).QueryRow(ctx, query,
		env.ID, env.Type, version, env.RunID, env.CorrID, env.CausationID, env.TraceID, env.Producer, headersJSON, payloadJSON, env.CreatedAt)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("eventlog: append: %w", err)
	}
	env.Version = version

	env.Seq = seq
	l.dispatch(env)
	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, env); err != nil {
			l.logger.Warn("cross-process notify failed", slog.String("envelope_id", env.ID), slog.String("error", err.Error()))
		}
	}
	return seq, nil
}

func (l *PostgresLog) ReadFrom(ctx context.Context, afterSeq int64, limit int) ([]domain.OutboxRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := l.pool.Query(ctx,
		`SELECT seq, id, type, version, run_id, corr_id, causation_id, trace_id, producer, headers, payload, created_at
		 FROM outbox WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read from %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []domain.OutboxRecord
	for rows.Next() {
		rec, err := scanEnvelopeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("eventlog: scan envelope: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanEnvelopeRow(rows pgx.Rows) (domain.OutboxRecord, error) {
	var env domain.Envelope
	var payloadJSON, headersJSON []byte
	if err := rows.Scan(&env.Seq, &env.ID, &env.Type, &env.Version, &env.RunID, &env.CorrID, &env.CausationID, &env.TraceID, &env.Producer, &headersJSON, &payloadJSON, &env.CreatedAt); err != nil {
		return domain.OutboxRecord{}, err
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &env.Payload); err != nil {
			return domain.OutboxRecord{}, err
		}
	}
	if headersJSON != nil {
		if err := json.Unmarshal(headersJSON, &env.Headers); err != nil {
			return domain.OutboxRecord{}, err
		}
	}
	return domain.OutboxRecord{Envelope: env}, nil
}
