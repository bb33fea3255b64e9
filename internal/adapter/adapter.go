// Package adapter defines the ExchangeAdapter contract OrderManager submits
// through, and the retry wrapper WithRetry, which neither implementation
// in this module calls. Concrete
// implementations (backtest, live) live in sibling packages; the wire
// protocol a live implementation speaks is out of scope here.
package adapter

import (
	"context"

	"github.com/weaver-engine/weaver/internal/domain"
)

// ExchangeAdapter is the boundary between OrderManager and whatever
// actually executes an order -- a live broker connection or a backtest
// fill simulator. Every call is context-scoped so callers can bound
// latency and cancel on shutdown.
type ExchangeAdapter interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (domain.OrderState, error)

	// StreamFills delivers fills as they occur; the channel is closed when
	// ctx is cancelled or the adapter disconnects.
	StreamFills(ctx context.Context) (<-chan domain.Fill, error)
}
