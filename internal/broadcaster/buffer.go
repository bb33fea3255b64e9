package broadcaster

import (
	"context"
	"log/slog"
)

type message struct {
	envelopeType string
	payload      []byte
}

// buffer is the bounded per-sink delivery queue. Its goroutine delivers
// messages to sink one at a time; handle drops a message with a warning
// rather than blocking the broadcast loop when the buffer is full.
type buffer struct {
	sink   Sink
	logger *slog.Logger

	in   chan message
	quit chan struct{}
}

func newBuffer(sink Sink, depth int, logger *slog.Logger) *buffer {
	return &buffer{
		sink:   sink,
		logger: logger,
		in:     make(chan message, depth),
		quit:   make(chan struct{}),
	}
}

func (b *buffer) run() {
	ctx := context.Background()
	for {
		select {
		case msg := <-b.in:
			if err := b.sink.Publish(ctx, msg.envelopeType, msg.payload); err != nil {
				b.logger.Warn("sink publish failed", slog.String("type", msg.envelopeType), slog.String("error", err.Error()))
			}
		case <-b.quit:
			return
		}
	}
}

func (b *buffer) stop() {
	close(b.quit)
}
