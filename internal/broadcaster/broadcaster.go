// Package broadcaster implements the SSEBroadcaster: it subscribes to
// every envelope on the event log and hands (type, serialized payload)
// pairs to transport-supplied sinks, so the actual SSE/HTTP framing (out
// of scope here) is the transport layer's problem. Per-connection
// buffering uses a bounded channel per sink, grounded on the
// bounded-channel drop-with-warning idiom used for signalCh in the
// teacher's executor and the select/default buffer-full skip in
// internal/strategy/engine.go.
package broadcaster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// Sink receives broadcast envelopes. Publish should not block for long;
// Broadcaster already buffers per sink, so a slow or dead sink only risks
// its own dropped messages, never the whole broadcaster.
type Sink interface {
	Publish(ctx context.Context, envelopeType string, payload []byte) error
}

// Broadcaster fans every event-log envelope out to every registered sink
// through a bounded per-sink buffer.
type Broadcaster struct {
	log    eventlog.Log
	logger *slog.Logger

	mu    sync.Mutex
	sinks map[string]*buffer
	subID string
}

// New builds and subscribes a Broadcaster to every envelope type.
func New(log eventlog.Log, logger *slog.Logger) *Broadcaster {
	b := &Broadcaster{
		log:    log,
		logger: logger.With(slog.String("component", "broadcaster")),
		sinks:  make(map[string]*buffer),
	}
	b.subID = log.SubscribeFunc([]string{"*"}, nil, b.handle)
	return b
}

// Register adds sink under id with a bounded backlog of depth, starting
// its delivery goroutine. Unregister via Unregister when the connection
// closes.
func (b *Broadcaster) Register(id string, sink Sink, depth int) {
	if depth <= 0 {
		depth = 64
	}
	buf := newBuffer(sink, depth, b.logger.With(slog.String("sink", id)))
	b.mu.Lock()
	b.sinks[id] = buf
	b.mu.Unlock()
	go buf.run()
}

// Unregister stops delivering to id's sink and releases its buffer.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	buf, ok := b.sinks[id]
	delete(b.sinks, id)
	b.mu.Unlock()
	if ok {
		buf.stop()
	}
}

// Close unsubscribes the broadcaster from the event log. Registered sinks
// are left running; callers should Unregister each one first.
func (b *Broadcaster) Close() {
	b.log.Unsubscribe(b.subID)
}

func (b *Broadcaster) handle(env domain.Envelope) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		b.logger.Error("marshal envelope payload failed", slog.String("type", env.Type), slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, buf := range b.sinks {
		select {
		case buf.in <- message{envelopeType: env.Type, payload: payload}:
		default:
			b.logger.Warn("sink buffer full, dropping message", slog.String("sink", id), slog.String("type", env.Type))
		}
	}
}
