// Package clock provides the two time sources a run can be driven by:
// RealtimeClock, which ticks aligned to wall-clock timeframe boundaries,
// and BacktestClock, which replays historical boundaries as fast as the
// strategy callback allows.
package clock

import (
	"context"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// ClockTick is delivered to the OnTick callback on each boundary.
type ClockTick struct {
	RunID string
	Time  time.Time
}

// Clock is implemented by both RealtimeClock and BacktestClock.
type Clock interface {
	// Start begins ticking for runID at timeframe tf and blocks until ctx
	// is cancelled, the backtest range is exhausted, or Stop is called.
	Start(ctx context.Context, runID string, tf Timeframe) error
	Stop()
	CurrentTime() time.Time
	// OnTick registers the callback invoked for each boundary. Must be
	// called before Start. The clock does not advance to the next
	// boundary until the callback returns, giving RealtimeClock natural
	// backpressure and making BacktestClock fully deterministic.
	OnTick(func(ClockTick))
}

// emitTick appends a clock.Tick envelope for tick if log is non-nil. log is
// optional so clock logic can be unit tested without an EventLog wired up;
// production callers (RunManager) always pass one.
func emitTick(ctx context.Context, log eventlog.Log, tick ClockTick, tf Timeframe) {
	if log == nil {
		return
	}
	_, _ = log.Append(ctx, domain.Envelope{
		Type:  "clock.Tick",
		RunID: tick.RunID,
		Payload: map[string]any{
			"ts":        tick.Time.UTC().Format(time.RFC3339Nano),
			"timeframe": string(tf),
		},
	})
}
