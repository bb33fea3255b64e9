package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weaver-engine/weaver/internal/eventlog"
)

// RealtimeClock ticks aligned to wall-clock timeframe boundaries. It
// re-arms its timer on every tick rather than using a ticker, so drift
// from slow callbacks or scheduler jitter never compounds: each wait is
// computed fresh against time.Now(), following the same
// compute-next-deadline-and-sleep idiom as the reconnect loop in
// internal/feed/polymarket_ws.go.
type RealtimeClock struct {
	logger   *slog.Logger
	log      eventlog.Log
	onTick   func(ClockTick)
	mu       sync.Mutex
	current  time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRealtimeClock creates a RealtimeClock. log may be nil to disable
// clock.Tick envelope emission.
func NewRealtimeClock(logger *slog.Logger, log eventlog.Log) *RealtimeClock {
	return &RealtimeClock{
		logger: logger.With(slog.String("component", "realtime_clock")),
		log:    log,
		stopCh: make(chan struct{}),
	}
}

func (c *RealtimeClock) OnTick(fn func(ClockTick)) { c.onTick = fn }

func (c *RealtimeClock) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *RealtimeClock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Start blocks, invoking OnTick at every aligned boundary for tf, until
// ctx is cancelled or Stop is called. If a boundary's wall-clock arrival
// drifts more than one second from the computed deadline -- e.g. the
// process was suspended or the callback overran into the next boundary --
// it logs a warning and immediately re-aligns rather than trying to catch
// up tick-by-tick.
func (c *RealtimeClock) Start(ctx context.Context, runID string, tf Timeframe) error {
	for {
		next, err := tf.Next(time.Now())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.stopCh:
			timer.Stop()
			return nil
		case fired := <-timer.C:
			if drift := fired.Sub(next); drift > time.Second || drift < -time.Second {
				c.logger.Warn("clock drift detected", slog.Duration("drift", drift))
			}
			c.mu.Lock()
			c.current = next
			c.mu.Unlock()
			tick := ClockTick{RunID: runID, Time: next}
			emitTick(ctx, c.log, tick, tf)
			if c.onTick != nil {
				c.onTick(tick)
			}
		}
	}
}
