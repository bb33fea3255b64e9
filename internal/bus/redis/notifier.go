package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weaver-engine/weaver/internal/domain"
)

// Channel is the fixed Pub/Sub channel new envelopes are announced on.
// Subscribers only need the seq/type to decide whether to catch up via
// Log.ReadFrom; the full payload already lives in Postgres.
const Channel = "weaver.outbox"

type announcement struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`
}

// Notifier publishes a best-effort announcement each time the event log
// appends an envelope, so other process instances sharing the same
// Postgres outbox can wake up and replay instead of polling. Grounded on
// the teacher's SignalBus.Publish, narrowed from an arbitrary-channel,
// arbitrary-payload bus to this one fixed announcement shape.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier builds a Notifier over c.
func NewNotifier(c *Client) *Notifier {
	return &Notifier{rdb: c.rdb}
}

// Notify announces env. Failures are the caller's to log; a dead Redis
// should never block or fail an Append, since Postgres remains the
// durable source of truth.
func (n *Notifier) Notify(ctx context.Context, env domain.Envelope) error {
	payload, err := json.Marshal(announcement{Seq: env.Seq, Type: env.Type})
	if err != nil {
		return fmt.Errorf("bus/redis: marshal announcement: %w", err)
	}
	if err := n.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("bus/redis: publish: %w", err)
	}
	return nil
}

// Listener subscribes to Channel and decodes announcements for callers
// that want to react to cross-process appends (e.g. a second instance's
// broadcaster catching up sooner than its next poll).
type Listener struct {
	pubsub *redis.PubSub
}

// NewListener subscribes to Channel. Call Close when done.
func NewListener(ctx context.Context, c *Client) (*Listener, error) {
	pubsub := c.rdb.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("bus/redis: subscribe: %w", err)
	}
	return &Listener{pubsub: pubsub}, nil
}

// Announcements returns a channel of decoded announcements. Malformed
// messages are dropped silently; the caller always has Log.ReadFrom as a
// fallback source of truth.
func (l *Listener) Announcements(ctx context.Context) <-chan struct {
	Seq  int64
	Type string
} {
	out := make(chan struct {
		Seq  int64
		Type string
	}, 32)
	go func() {
		defer close(out)
		ch := l.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var a announcement
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					continue
				}
				select {
				case out <- struct {
					Seq  int64
					Type string
				}{Seq: a.Seq, Type: a.Type}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close closes the underlying subscription.
func (l *Listener) Close() error {
	return l.pubsub.Close()
}
