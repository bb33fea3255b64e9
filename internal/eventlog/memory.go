package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/weaver-engine/weaver/internal/domain"
)

// MemoryLog is a pure in-process Log implementation. It is the reference
// semantics for subscriber dispatch (see parity_test.go) and is what unit
// tests across the codebase construct instead of a Postgres instance.
type MemoryLog struct {
	dispatcher

	mu      sync.RWMutex
	records []domain.OutboxRecord
	seq     atomic.Int64
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog(logger *slog.Logger) *MemoryLog {
	return &MemoryLog{dispatcher: newDispatcher(logger)}
}

func (l *MemoryLog) Append(_ context.Context, env domain.Envelope) (int64, error) {
	seq := l.seq.Inc()
	env.Seq = seq
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.records = append(l.records, domain.OutboxRecord{Envelope: env})
	l.mu.Unlock()

	l.dispatch(env)
	return seq, nil
}

func (l *MemoryLog) ReadFrom(_ context.Context, afterSeq int64, limit int) ([]domain.OutboxRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.OutboxRecord, 0, limit)
	for _, rec := range l.records {
		if rec.Seq <= afterSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
