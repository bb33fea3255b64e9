package live

import (
	"context"

	"github.com/weaver-engine/weaver/internal/domain"
)

// BrokerClient is the blocking wire-protocol boundary a live Adapter wraps.
// Its wire format (REST endpoints, request signing, JSON shapes) is out of
// scope here; Adapter only needs something that submits/cancels/fetches
// orders and streams fills over a connection it owns.
type BrokerClient interface {
	Connect(ctx context.Context) error
	Close() error

	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (domain.OrderState, error)

	// StreamFills blocks, delivering fills to the given channel until ctx is
	// cancelled or the connection drops (in which case it returns an error
	// satisfying domain.ErrTransientExternal so the adapter's caller can
	// reconnect).
	StreamFills(ctx context.Context, out chan<- domain.Fill) error
}
