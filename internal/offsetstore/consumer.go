package offsetstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// Handler processes one envelope. A returned error stops the consumer loop
// without committing the offset, so the same envelope is retried on the
// next run -- the at-least-once delivery guarantee this package exists to
// uphold.
type Handler func(ctx context.Context, env domain.Envelope) error

// RunConsumer replays everything after the consumer's last committed
// offset, then subscribes for live delivery, committing the offset after
// each successfully handled envelope. It blocks until ctx is cancelled.
func RunConsumer(ctx context.Context, log eventlog.Log, offsets domain.OffsetStore, name string, types []string, handler Handler, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "consumer"), slog.String("consumer", name))

	offset, err := offsets.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("consumer %s: get offset: %w", name, err)
	}

	for {
		recs, err := log.ReadFrom(ctx, offset.Seq, 500)
		if err != nil {
			return fmt.Errorf("consumer %s: read from %d: %w", name, offset.Seq, err)
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			if !envelopeMatchesTypes(rec.Envelope, types) {
				offset.Seq = rec.Seq
				continue
			}
			if err := handler(ctx, rec.Envelope); err != nil {
				logger.Error("handler failed during replay, stopping", slog.String("error", err.Error()), slog.Int64("seq", rec.Seq))
				return fmt.Errorf("consumer %s: handle seq %d: %w", name, rec.Seq, err)
			}
			offset.Seq = rec.Seq
			if err := offsets.Set(ctx, name, offset.Seq); err != nil {
				return fmt.Errorf("consumer %s: set offset: %w", name, err)
			}
		}
	}

	subID, ch := log.Subscribe(types, nil)
	defer log.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if env.Seq <= offset.Seq {
				continue // already processed during the replay phase above
			}
			if err := handler(ctx, env); err != nil {
				logger.Error("handler failed", slog.String("error", err.Error()), slog.Int64("seq", env.Seq))
				return fmt.Errorf("consumer %s: handle seq %d: %w", name, env.Seq, err)
			}
			offset.Seq = env.Seq
			if err := offsets.Set(ctx, name, offset.Seq); err != nil {
				return fmt.Errorf("consumer %s: set offset: %w", name, err)
			}
		}
	}
}

func envelopeMatchesTypes(env domain.Envelope, types []string) bool {
	for _, t := range types {
		if t == "*" || t == env.Type {
			return true
		}
	}
	return false
}
