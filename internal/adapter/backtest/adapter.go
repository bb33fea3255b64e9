// Package backtest implements adapter.ExchangeAdapter over the in-process
// BacktestEngine: SubmitOrder appends a backtest.PlaceOrder envelope and
// waits for the engine's synchronous orders.Filled/orders.Rejected reply on
// the same corr_id, turning the event-driven engine into the blocking
// request/response shape OrderManager expects from any adapter.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// Adapter is the backtest ExchangeAdapter. One instance is bound to one
// run's event log and RunID; it never performs network I/O.
type Adapter struct {
	runID  string
	log    eventlog.Log
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan domain.Envelope // corr_id -> waiter
	subID   string

	fillsMu sync.Mutex
	fillsCh chan domain.Fill
}

// New builds a backtest adapter bound to runID, subscribing to the
// orders.Filled/orders.Rejected replies the BacktestEngine emits for this
// run.
func New(runID string, log eventlog.Log, logger *slog.Logger) *Adapter {
	a := &Adapter{
		runID:   runID,
		log:     log,
		logger:  logger.With(slog.String("component", "backtest_adapter"), slog.String("run_id", runID)),
		pending: make(map[string]chan domain.Envelope),
		fillsCh: make(chan domain.Fill, 256),
	}
	a.subID = log.SubscribeFunc(
		[]string{"orders.Filled", "orders.Rejected"},
		func(env domain.Envelope) bool { return env.RunID == runID },
		a.handleReply,
	)
	return a
}

func (a *Adapter) ID() string { return "backtest" }

func (a *Adapter) Connect(context.Context) error { return nil }

func (a *Adapter) Disconnect(context.Context) error {
	a.log.Unsubscribe(a.subID)
	close(a.fillsCh)
	return nil
}

func (a *Adapter) handleReply(env domain.Envelope) {
	a.mu.Lock()
	ch, ok := a.pending[env.CorrID]
	if ok {
		delete(a.pending, env.CorrID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	ch <- env
	close(ch)

	if env.Type == "orders.Filled" {
		if fill, err := domain.FillFromPayload(env.Payload); err == nil {
			select {
			case a.fillsCh <- fill:
			default:
				a.logger.Warn("fills channel full, dropping fill", slog.String("order_id", fill.OrderID))
			}
		}
	}
}

// SubmitOrder appends backtest.PlaceOrder and blocks for this run's
// synchronous reply (the engine answers within the same Append call that
// produced the request, so in practice this never actually blocks on I/O).
func (a *Adapter) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderState, error) {
	orderID := uuid.NewString()
	corrID := uuid.NewString()

	wait := make(chan domain.Envelope, 1)
	a.mu.Lock()
	a.pending[corrID] = wait
	a.mu.Unlock()

	payload := domain.OrderIntentToPayload(intent)
	payload["order_id"] = orderID
	_, err := a.log.Append(ctx, domain.Envelope{
		Type:    "backtest.PlaceOrder",
		RunID:   a.runID,
		CorrID:  corrID,
		Payload: payload,
	})
	if err != nil {
		a.mu.Lock()
		delete(a.pending, corrID)
		a.mu.Unlock()
		return domain.OrderState{}, fmt.Errorf("backtest adapter: append place_order: %w", err)
	}

	select {
	case reply := <-wait:
		return a.toOrderState(intent, orderID, reply), nil
	case <-ctx.Done():
		return domain.OrderState{}, ctx.Err()
	case <-time.After(30 * time.Second):
		return domain.OrderState{}, fmt.Errorf("backtest adapter: %w: no reply for order %s", domain.ErrInternal, orderID)
	}
}

func (a *Adapter) toOrderState(intent domain.OrderIntent, orderID string, reply domain.Envelope) domain.OrderState {
	state := domain.OrderState{
		ID:              orderID,
		ClientOrderID:   intent.ClientOrderID,
		RunID:           intent.RunID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Kind:            intent.Kind,
		TimeInForce:     intent.TimeInForce,
		Quantity:        intent.Quantity,
		LimitPrice:      intent.LimitPrice,
		StopPrice:       intent.StopPrice,
		ExchangeOrderID: orderID,
		UpdatedAt:       time.Now().UTC(),
	}
	if reply.Type == "orders.Rejected" {
		state.Status = domain.OrderStatusRejected
		state.RejectReason = stringPayload(reply, "reject_reason")
		return state
	}
	fill, err := domain.FillFromPayload(reply.Payload)
	if err != nil {
		state.Status = domain.OrderStatusRejected
		state.RejectReason = err.Error()
		return state
	}
	state.Status = domain.OrderStatusFilled
	state.FilledQty = fill.Quantity
	state.AvgFillPrice = fill.Price
	return state
}

// CancelOrder is a no-op: backtest fills are produced synchronously inside
// SubmitOrder, so by the time a caller could cancel, the order is already
// terminal.
func (a *Adapter) CancelOrder(context.Context, string) error {
	return nil
}

// GetOrder is unsupported; the backtest adapter never holds resting
// orders, so OrderManager's own persisted state is always authoritative.
func (a *Adapter) GetOrder(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, fmt.Errorf("backtest adapter: %w: GetOrder is not supported", domain.ErrNotFound)
}

// StreamFills delivers fills as the engine produces them. ctx is not
// consulted; the channel is closed only by Disconnect.
func (a *Adapter) StreamFills(ctx context.Context) (<-chan domain.Fill, error) {
	return a.fillsCh, nil
}

func stringPayload(env domain.Envelope, key string) string {
	s, _ := env.Payload[key].(string)
	return s
}
