package eventlog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/weaver-engine/weaver/internal/domain"
)

// subscriber is either channel-based (ch non-nil) or callback-based (fn
// non-nil), never both.
type subscriber struct {
	id     string
	types  []string
	filter func(domain.Envelope) bool
	ch     chan domain.Envelope
	fn     func(domain.Envelope)
}

// dispatcher is embedded by both Log implementations. It owns the
// subscriber set and the synchronous-dispatch-outside-the-lock pattern:
// Append snapshots matching subscribers under mu, then invokes them after
// releasing it, so a subscriber callback is free to Subscribe/Unsubscribe
// without deadlocking. order tracks registration sequence separately from
// the map, since Go's map iteration order is randomized and dispatch must
// be deterministic, registration-order delivery.
type dispatcher struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	order  []string
	logger *slog.Logger
}

func newDispatcher(logger *slog.Logger) dispatcher {
	return dispatcher{
		subs:   make(map[string]*subscriber),
		logger: logger.With(slog.String("component", "eventlog")),
	}
}

func (d *dispatcher) Subscribe(types []string, filter func(domain.Envelope) bool) (string, <-chan domain.Envelope) {
	ch := make(chan domain.Envelope, 64)
	sub := &subscriber{id: uuid.NewString(), types: types, filter: filter, ch: ch}
	d.mu.Lock()
	d.subs[sub.id] = sub
	d.order = append(d.order, sub.id)
	d.mu.Unlock()
	return sub.id, ch
}

func (d *dispatcher) SubscribeFunc(types []string, filter func(domain.Envelope) bool, fn func(domain.Envelope)) string {
	sub := &subscriber{id: uuid.NewString(), types: types, filter: filter, fn: fn}
	d.mu.Lock()
	d.subs[sub.id] = sub
	d.order = append(d.order, sub.id)
	d.mu.Unlock()
	return sub.id
}

func (d *dispatcher) Unsubscribe(subID string) {
	d.mu.Lock()
	sub, ok := d.subs[subID]
	if ok {
		delete(d.subs, subID)
		for i, id := range d.order {
			if id == subID {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()
	if ok && sub.ch != nil {
		close(sub.ch)
	}
}

// dispatch delivers env to every matching subscriber, in registration
// order. Channel subscribers that are full are skipped rather than
// blocking Append. A panicking callback subscriber is recovered and
// logged as ErrSubscriberCallback; it does not affect other subscribers or
// the Append that triggered it.
func (d *dispatcher) dispatch(env domain.Envelope) {
	d.mu.Lock()
	snapshot := make([]*subscriber, 0, len(d.order))
	for _, id := range d.order {
		snapshot = append(snapshot, d.subs[id])
	}
	d.mu.Unlock()

	for _, sub := range snapshot {
		if !matches(env, sub.types, sub.filter) {
			continue
		}
		if sub.ch != nil {
			select {
			case sub.ch <- env:
			default:
				d.logger.Warn("subscriber channel full, dropping envelope",
					slog.String("sub_id", sub.id), slog.String("envelope_id", env.ID))
			}
			continue
		}
		d.invokeCallback(sub, env)
	}
}

func (d *dispatcher) invokeCallback(sub *subscriber, env domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: subscriber %s panicked: %v", domain.ErrSubscriberCallback, sub.id, r)
			d.logger.Error("subscriber callback panicked",
				slog.String("sub_id", sub.id), slog.String("error", err.Error()))
		}
	}()
	sub.fn(env)
}
