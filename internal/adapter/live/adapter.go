// Package live implements adapter.ExchangeAdapter over a blocking
// BrokerClient, submitting every blocking call through a bounded worker
// pool so the event loop that drives OrderManager is never stalled by
// external I/O (see SubmitOrder/CancelOrder/GetOrder).
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/weaver-engine/weaver/internal/adapter"
	"github.com/weaver-engine/weaver/internal/domain"
)

// Config configures one Adapter.
type Config struct {
	ID string
	// MaxConcurrent bounds how many blocking BrokerClient calls may be
	// in flight at once.
	MaxConcurrent int64
	// StreamReconnectDelay is how long to wait before resubscribing to
	// fills after the stream drops.
	StreamReconnectDelay time.Duration
}

// Adapter is the live ExchangeAdapter: every call acquires a slot on a
// semaphore-gated worker pool before invoking the underlying BrokerClient,
// bounding how many concurrent blocking operations compete for the pool.
type Adapter struct {
	id     string
	client BrokerClient
	sem    *semaphore.Weighted
	logger *slog.Logger

	reconnectDelay time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

var _ adapter.ExchangeAdapter = (*Adapter)(nil)

// New builds a live adapter wrapping client.
func New(cfg Config, client BrokerClient, logger *slog.Logger) *Adapter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.StreamReconnectDelay <= 0 {
		cfg.StreamReconnectDelay = 2 * time.Second
	}
	return &Adapter{
		id:             cfg.ID,
		client:         client,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:         logger.With(slog.String("component", "live_adapter"), slog.String("adapter", cfg.ID)),
		reconnectDelay: cfg.StreamReconnectDelay,
		done:           make(chan struct{}),
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Connect(ctx context.Context) error {
	return a.client.Connect(ctx)
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.done) })
	return a.client.Close()
}

// SubmitOrder acquires a worker-pool slot, then blocks on the underlying
// client. A semaphore-acquire failure (context cancelled while waiting for
// a slot) is reported, not silently dropped.
func (a *Adapter) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderState, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return domain.OrderState{}, fmt.Errorf("live adapter: acquire worker slot: %w", err)
	}
	defer a.sem.Release(1)
	return a.client.SubmitOrder(ctx, intent)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("live adapter: acquire worker slot: %w", err)
	}
	defer a.sem.Release(1)
	return a.client.CancelOrder(ctx, orderID)
}

func (a *Adapter) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return domain.OrderState{}, fmt.Errorf("live adapter: acquire worker slot: %w", err)
	}
	defer a.sem.Release(1)
	return a.client.GetOrder(ctx, orderID)
}

// StreamFills runs the client's fill stream, reconnecting after a fixed
// reconnectDelay whenever the stream returns an error; a nil return ends the
// stream. Grounded on the reconnect-loop idiom used by the teacher's
// WebSocket feed.
func (a *Adapter) StreamFills(ctx context.Context) (<-chan domain.Fill, error) {
	out := make(chan domain.Fill, 256)
	go a.runStream(ctx, out)
	return out, nil
}

func (a *Adapter) runStream(ctx context.Context, out chan<- domain.Fill) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		default:
		}

		err := a.client.StreamFills(ctx, out)
		if err == nil || ctx.Err() != nil {
			return
		}
		a.logger.Warn("fill stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-time.After(a.reconnectDelay):
		}
	}
}
