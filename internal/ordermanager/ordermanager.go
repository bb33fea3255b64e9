// Package ordermanager implements the idempotent order lifecycle state
// machine: Submit, Cancel, and fill recording, backed by an
// adapter.ExchangeAdapter and persisted through domain.OrderStore /
// domain.FillStore. Every transition is also appended to the event log so
// other components (StrategyRunner, SSEBroadcaster) observe it without
// polling.
package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weaver-engine/weaver/internal/adapter"
	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// Manager is the OrderManager. One instance is constructed per run by
// RunManager, bound to that run's ExchangeAdapter.
type Manager struct {
	orders  domain.OrderStore
	fills   domain.FillStore
	log     eventlog.Log
	adapter adapter.ExchangeAdapter
	dedup   *dedupCache
	logger  *slog.Logger
}

// New creates a Manager for one run bound to the given adapter.
func New(orders domain.OrderStore, fills domain.FillStore, log eventlog.Log, ex adapter.ExchangeAdapter, logger *slog.Logger) *Manager {
	return &Manager{
		orders:  orders,
		fills:   fills,
		log:     log,
		adapter: ex,
		dedup:   newDedupCache(2 * time.Minute),
		logger:  logger.With(slog.String("component", "order_manager"), slog.String("adapter", ex.ID())),
	}
}

// Submit is idempotent on (run_id, client_order_id): any existing order for
// that pair -- including one still mid-flight in "submitting" -- short
// circuits the call, returning the existing OrderState alongside
// domain.ErrIdempotentReplay instead of submitting to the adapter again.
// This trades automatic retry of a stuck mid-flight order for a simpler
// state machine; a caller that needs to retry a genuinely failed submit
// must use a new client_order_id.
//
// cause is the envelope that triggered this submit (e.g. a live.PlaceOrder
// or backtest.PlaceOrder request); every event Submit emits chains off it
// via Caused, and subsequent events within the same call chain off the
// previous one, preserving the run's corr_id end to end.
func (m *Manager) Submit(ctx context.Context, intent domain.OrderIntent, cause domain.Envelope) (domain.OrderState, error) {
	log := m.logger.With(slog.String("client_order_id", intent.ClientOrderID), slog.String("run_id", intent.RunID))

	dedupKey := intent.RunID + ":" + intent.ClientOrderID
	if cached, ok := m.dedup.lookup(dedupKey); ok {
		log.Info("duplicate client_order_id, returning cached order")
		return cached, domain.ErrIdempotentReplay
	}

	existing, err := m.orders.GetByClientOrderID(ctx, intent.RunID, intent.ClientOrderID)
	if err == nil {
		log.Info("duplicate client_order_id, returning existing order")
		m.dedup.record(dedupKey, existing)
		return existing, domain.ErrIdempotentReplay
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.OrderState{}, fmt.Errorf("ordermanager: idempotency lookup: %w", err)
	}

	if err := validateIntent(intent); err != nil {
		return domain.OrderState{}, fmt.Errorf("ordermanager: %w: %v", domain.ErrValidation, err)
	}

	now := time.Now().UTC()
	order := domain.OrderState{
		ID:            uuid.NewString(),
		ClientOrderID: intent.ClientOrderID,
		RunID:         intent.RunID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Kind:          intent.Kind,
		TimeInForce:   intent.TimeInForce,
		Quantity:      intent.Quantity,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := m.orders.GetByClientOrderID(ctx, intent.RunID, intent.ClientOrderID)
			if getErr == nil {
				m.dedup.record(dedupKey, existing)
				return existing, domain.ErrIdempotentReplay
			}
		}
		return domain.OrderState{}, fmt.Errorf("ordermanager: persist order: %w", err)
	}

	order.Status = domain.OrderStatusSubmitting
	order.UpdatedAt = time.Now().UTC()
	if err := m.orders.UpdateState(ctx, order); err != nil {
		return order, fmt.Errorf("ordermanager: persist submitting state: %w", err)
	}
	m.dedup.record(dedupKey, order)
	created := m.appendEvent(ctx, cause, "orders.Created", order)

	result, err := m.adapter.SubmitOrder(ctx, intent)
	if err != nil {
		if errors.Is(err, domain.ErrDurable) {
			order.Status = domain.OrderStatusRejected
			order.RejectReason = err.Error()
			order.UpdatedAt = time.Now().UTC()
			if uerr := m.orders.UpdateState(ctx, order); uerr != nil {
				log.Error("failed to persist rejection", slog.String("error", uerr.Error()))
			}
			m.dedup.record(dedupKey, order)
			m.appendEvent(ctx, created, "orders.Rejected", order)
			return order, nil
		}
		// Transient adapter error: order remains "submitting". No terminal
		// event is emitted. A later Submit with the same client_order_id
		// finds this order in the lookup above and returns it with
		// ErrIdempotentReplay; the adapter is not called again.
		log.Error("adapter submit failed", slog.String("error", err.Error()))
		return order, fmt.Errorf("ordermanager: submit: %w", err)
	}

	if !domain.CanTransition(order.Status, result.Status) {
		return order, fmt.Errorf("ordermanager: %w: illegal transition %s -> %s", domain.ErrInternal, order.Status, result.Status)
	}
	order.Status = result.Status
	order.ExchangeOrderID = result.ExchangeOrderID
	order.UpdatedAt = time.Now().UTC()
	submittedAt := order.UpdatedAt
	order.SubmittedAt = &submittedAt
	if err := m.orders.UpdateState(ctx, order); err != nil {
		return order, fmt.Errorf("ordermanager: persist submitted state: %w", err)
	}
	m.dedup.record(dedupKey, order)
	submitted := m.appendEvent(ctx, created, "orders.Submitted", order)

	// The backtest adapter fills synchronously without a distinct
	// acceptance step, so result.Status may already be terminal (filled) or
	// partial by the time we get here; surface that too.
	switch order.Status {
	case domain.OrderStatusPartial:
		m.appendEvent(ctx, submitted, "orders.PartiallyFilled", order)
	case domain.OrderStatusFilled:
		m.appendEvent(ctx, submitted, "orders.Filled", order)
	}
	return order, nil
}

// Cancel requests cancellation of an open order. Cancelling an order
// already in a terminal state is a no-op that returns nil, not an error --
// spec-mandated idempotent-terminal-state behavior.
func (m *Manager) Cancel(ctx context.Context, orderID string, cause domain.Envelope) error {
	order, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("ordermanager: cancel lookup: %w", err)
	}
	if order.Status.Terminal() {
		m.logger.Debug("cancel on terminal order is a no-op", slog.String("order_id", orderID), slog.String("status", string(order.Status)))
		return nil
	}

	if err := m.adapter.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("ordermanager: adapter cancel: %w", err)
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := m.orders.UpdateState(ctx, order); err != nil {
		return fmt.Errorf("ordermanager: persist cancellation: %w", err)
	}
	m.appendEvent(ctx, cause, "orders.Cancelled", order)
	return nil
}

// RecordFill appends a fill against an order and recomputes its filled
// quantity, average fill price, and status (partial vs filled).
func (m *Manager) RecordFill(ctx context.Context, fill domain.Fill, cause domain.Envelope) (domain.OrderState, error) {
	order, err := m.orders.GetByID(ctx, fill.OrderID)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("ordermanager: record fill lookup: %w", err)
	}
	if order.Status.Terminal() {
		return order, fmt.Errorf("ordermanager: %w: fill against terminal order %s", domain.ErrConflict, order.ID)
	}

	totalQty := order.FilledQty.Add(fill.Quantity)
	if order.FilledQty.IsZero() {
		order.AvgFillPrice = fill.Price
	} else {
		weighted := order.AvgFillPrice.Mul(order.FilledQty).Add(fill.Price.Mul(fill.Quantity))
		order.AvgFillPrice = weighted.Div(totalQty)
	}
	order.FilledQty = totalQty

	eventType := "orders.PartiallyFilled"
	if order.FilledQty.GreaterThanOrEqual(order.Quantity) {
		order.Status = domain.OrderStatusFilled
		eventType = "orders.Filled"
		filledAt := time.Now().UTC()
		order.FilledAt = &filledAt
	} else {
		order.Status = domain.OrderStatusPartial
	}
	order.UpdatedAt = time.Now().UTC()

	if err := m.fills.Create(ctx, fill); err != nil {
		return order, fmt.Errorf("ordermanager: persist fill: %w", err)
	}
	if err := m.orders.UpdateState(ctx, order); err != nil {
		return order, fmt.Errorf("ordermanager: persist fill state: %w", err)
	}
	m.appendEvent(ctx, cause, eventType, order)
	return order, nil
}

// appendEvent emits eventType caused by cause (an empty cause.ID produces a
// fresh root envelope) and returns the emitted envelope so callers can chain
// a subsequent event off it within the same Submit call.
func (m *Manager) appendEvent(ctx context.Context, cause domain.Envelope, eventType string, order domain.OrderState) domain.Envelope {
	var out domain.Envelope
	if cause.ID != "" {
		out = cause.Caused(eventType)
	} else {
		out = domain.Envelope{ID: uuid.NewString(), Type: eventType, Version: 1, CreatedAt: time.Now().UTC()}
	}
	out.RunID = order.RunID
	out.Payload = map[string]any{
		"order_id":          order.ID,
		"client_order_id":   order.ClientOrderID,
		"exchange_order_id": order.ExchangeOrderID,
		"status":            string(order.Status),
	}
	if _, err := m.log.Append(ctx, out); err != nil {
		m.logger.Error("failed to append event", slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
	return out
}

func validateIntent(intent domain.OrderIntent) error {
	if intent.ClientOrderID == "" {
		return fmt.Errorf("client_order_id is required")
	}
	if intent.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if intent.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !intent.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if (intent.Kind == domain.OrderKindLimit || intent.Kind == domain.OrderKindStopLimit) && !intent.LimitPrice.IsPositive() {
		return fmt.Errorf("limit_price must be positive for limit orders")
	}
	if (intent.Kind == domain.OrderKindStop || intent.Kind == domain.OrderKindStopLimit) && !intent.StopPrice.IsPositive() {
		return fmt.Errorf("stop_price must be positive for stop orders")
	}
	return nil
}
