package clock

import (
	"context"
	"sync"
	"time"

	"github.com/weaver-engine/weaver/internal/eventlog"
)

// BacktestClock replays a fixed historical range boundary by boundary. It
// advances only after OnTick's callback returns, so the whole run is
// deterministic and reproducible given identical bounds -- there is no
// wall-clock or scheduler influence on ordering.
type BacktestClock struct {
	from, to time.Time
	log      eventlog.Log
	onTick   func(ClockTick)
	mu       sync.Mutex
	current  time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBacktestClock creates a BacktestClock over (from, to], excluding from. log
// may be nil, in which case no clock.Tick envelopes are emitted -- useful
// for unit tests that only care about tick ordering.
func NewBacktestClock(from, to time.Time, log eventlog.Log) *BacktestClock {
	return &BacktestClock{from: from, to: to, log: log, stopCh: make(chan struct{})}
}

func (c *BacktestClock) OnTick(fn func(ClockTick)) { c.onTick = fn }

func (c *BacktestClock) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *BacktestClock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Start enumerates every tf-aligned boundary in (from, to] and invokes
// OnTick for each, in order, waiting for the callback to return before
// advancing. Returns nil once the range is exhausted.
func (c *BacktestClock) Start(ctx context.Context, runID string, tf Timeframe) error {
	boundaries, err := tf.Boundaries(c.from, c.to)
	if err != nil {
		return err
	}
	for _, t := range boundaries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		c.mu.Lock()
		c.current = t
		c.mu.Unlock()
		tick := ClockTick{RunID: runID, Time: t}
		emitTick(ctx, c.log, tick, tf)
		if c.onTick != nil {
			c.onTick(tick)
		}
	}
	return nil
}
