package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind indicates how an order should be matched.
type OrderKind string

const (
	OrderKindMarket    OrderKind = "market"
	OrderKindLimit     OrderKind = "limit"
	OrderKindStop      OrderKind = "stop"
	OrderKindStopLimit OrderKind = "stop_limit"
)

// OrderTimeInForce indicates how long an order remains workable.
type OrderTimeInForce string

const (
	TimeInForceDay OrderTimeInForce = "day"
	TimeInForceGTC OrderTimeInForce = "gtc"
	TimeInForceIOC OrderTimeInForce = "ioc"
	TimeInForceFOK OrderTimeInForce = "fok"
)

// OrderStatus tracks the order lifecycle. Only the transitions named in
// legalOrderTransitions are permitted; OrderManager enforces this.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusSubmitting OrderStatus = "submitting"
	OrderStatusSubmitted  OrderStatus = "submitted"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusExpired    OrderStatus = "expired"
)

// Terminal reports whether no further fills or cancellation can occur.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// legalOrderTransitions encodes the order state machine: pending ->
// submitting -> submitted -> accepted -> partial* -> filled, with
// cancelled/rejected/expired branching off accepted, submitting ->
// rejected for pre-adapter/synchronous rejection, and cancelled reachable
// from any non-terminal status. submitting and submitted may also move
// straight to partial/filled without an intervening accepted notification
// -- not every adapter (the backtest simulator in particular) reports
// acceptance as a distinct step, or even submission as distinct from
// filling, before the order is done.
var legalOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusSubmitting, OrderStatusCancelled},
	OrderStatusSubmitting: {OrderStatusSubmitted, OrderStatusPartial, OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusSubmitted:  {OrderStatusAccepted, OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired},
	OrderStatusAccepted:   {OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired},
	OrderStatusPartial:    {OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal order
// status transition.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range legalOrderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderIntent is the caller's request to OrderManager.Submit. ClientOrderID
// is the idempotency key: a second Submit with the same (RunID,
// ClientOrderID) pair returns the existing OrderState and
// ErrIdempotentReplay instead of submitting again.
type OrderIntent struct {
	ClientOrderID string
	RunID         string
	Symbol        string
	Side          OrderSide
	Kind          OrderKind
	TimeInForce   OrderTimeInForce
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal // zero for market orders
	StopPrice     decimal.Decimal // zero unless Kind is OrderKindStop or OrderKindStopLimit
}

// OrderState is the persisted, evolving record of one order across its
// lifecycle.
type OrderState struct {
	ID              string
	ClientOrderID   string
	RunID           string
	Symbol          string
	Side            OrderSide
	Kind            OrderKind
	TimeInForce     OrderTimeInForce
	Quantity        decimal.Decimal
	LimitPrice      decimal.Decimal
	StopPrice       decimal.Decimal
	ExchangeOrderID string // assigned by the adapter once accepted; "" until then
	FilledQty       decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	RejectReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     *time.Time
	AcceptedAt      *time.Time
	FilledAt        *time.Time
}

// RemainingQty returns Quantity - FilledQty, floored at zero.
func (o OrderState) RemainingQty() decimal.Decimal {
	rem := o.Quantity.Sub(o.FilledQty)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Fill is an append-only execution record against an order. Multiple fills
// may exist per order for partial execution.
type Fill struct {
	ID         string
	OrderID    string
	RunID      string
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	ExecutedAt time.Time
}
