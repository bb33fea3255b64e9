// Package strategyrunner drives one plugin.Strategy for the lifetime of one
// run: it subscribes to this run's clock.Tick envelopes directly off the
// event log, turns the resulting FetchWindowAction/PlaceOrderAction values
// into strategy.FetchWindow / strategy.PlaceRequest envelopes, and feeds the
// DomainRouter's correlated data.WindowReady replies back into the strategy
// as OnData calls. Grounded on internal/strategy/engine.go's per-strategy
// goroutine + buffered-channel dispatch (runStrategy), generalized from "per
// named strategy" to "per run" and from raw market-data callbacks to the
// on_tick/on_data contract.
package strategyrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weaver-engine/weaver/internal/clock"
	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
	"github.com/weaver-engine/weaver/internal/plugin"
)

const replyTimeout = 30 * time.Second

// Runner drives one strategy instance for one run.
type Runner struct {
	runID  string
	strat  plugin.Strategy
	log    eventlog.Log
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan domain.Envelope

	replySubID string
	tickSubID  string
}

// New builds a Runner bound to runID, subscribing to this run's
// data.WindowReady replies and clock.Tick envelopes. Unlike the reply
// subscription, HandleTick is never called directly by RunManager: the
// runner drives itself off the event log the same way every other
// subscriber does, so a tick is only ever observed through Append's
// synchronous dispatch.
func New(runID string, strat plugin.Strategy, log eventlog.Log, logger *slog.Logger) *Runner {
	r := &Runner{
		runID:   runID,
		strat:   strat,
		log:     log,
		logger:  logger.With(slog.String("component", "strategy_runner"), slog.String("run_id", runID)),
		pending: make(map[string]chan domain.Envelope),
	}
	forThisRun := func(env domain.Envelope) bool { return env.RunID == runID }
	r.replySubID = log.SubscribeFunc([]string{"data.WindowReady"}, forThisRun, r.handleReply)
	r.tickSubID = log.SubscribeFunc([]string{"clock.Tick"}, forThisRun, r.handleTickEnvelope)
	return r
}

// Close unsubscribes the runner and closes its strategy.
func (r *Runner) Close() error {
	r.log.Unsubscribe(r.replySubID)
	r.log.Unsubscribe(r.tickSubID)
	return r.strat.Close()
}

func (r *Runner) handleReply(env domain.Envelope) {
	r.mu.Lock()
	ch, ok := r.pending[env.CorrID]
	if ok {
		delete(r.pending, env.CorrID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	ch <- env
	close(ch)
}

func (r *Runner) handleTickEnvelope(env domain.Envelope) {
	ts, err := payloadTime(env, "ts")
	if err != nil {
		r.logger.Error("invalid clock.Tick payload", slog.String("error", err.Error()))
		return
	}
	tick := clock.ClockTick{RunID: r.runID, Time: ts}
	if err := r.HandleTick(context.Background(), tick); err != nil {
		r.logger.Error("tick handling failed", slog.String("error", err.Error()))
	}
}

// HandleTick runs one strategy tick to completion, including every
// FetchWindow/PlaceOrder action it requests. Because it is invoked
// synchronously from within the clock.Tick Append call, the clock does not
// advance to the next boundary until this returns -- the determinism
// contract documented on clock.Clock.OnTick.
func (r *Runner) HandleTick(ctx context.Context, tick clock.ClockTick) error {
	actions, err := r.strat.OnTick(ctx, tick.RunID, tick.Time)
	if err != nil {
		return fmt.Errorf("strategyrunner: OnTick: %w", err)
	}
	return r.dispatch(ctx, actions)
}

func (r *Runner) dispatch(ctx context.Context, actions []plugin.Action) error {
	for _, action := range actions {
		switch a := action.(type) {
		case plugin.FetchWindowAction:
			if err := r.fetchWindow(ctx, a); err != nil {
				r.logger.Error("fetch_window failed", slog.String("error", err.Error()))
			}
		case plugin.PlaceOrderAction:
			r.placeOrder(ctx, a)
		default:
			return fmt.Errorf("strategyrunner: unknown action type %T", action)
		}
	}
	return nil
}

func (r *Runner) fetchWindow(ctx context.Context, a plugin.FetchWindowAction) error {
	reply, err := r.requestReply(ctx, "strategy.FetchWindow", map[string]any{
		"symbol":    a.Symbol,
		"timeframe": a.Timeframe,
		"end_ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"lookback":  a.Lookback,
	})
	if err != nil {
		return err
	}
	if reason, ok := reply.Payload["error"]; ok {
		return fmt.Errorf("strategyrunner: window fetch failed: %v", reason)
	}
	actions, err := r.strat.OnData(ctx, reply.Payload)
	if err != nil {
		return fmt.Errorf("strategyrunner: OnData: %w", err)
	}
	return r.dispatch(ctx, actions)
}

// placeOrder is fire-and-forget: strategy.PlaceRequest has no synchronous
// reply envelope in the event vocabulary, so the only observable outcome is
// whatever orders.* events OrderManager eventually emits for this order.
func (r *Runner) placeOrder(ctx context.Context, a plugin.PlaceOrderAction) {
	intent := a.Intent
	intent.RunID = r.runID
	_, err := r.log.Append(ctx, domain.Envelope{
		Type:    "strategy.PlaceRequest",
		RunID:   r.runID,
		Payload: domain.OrderIntentToPayload(intent),
	})
	if err != nil {
		r.logger.Error("append strategy.PlaceRequest failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) requestReply(ctx context.Context, envType string, payload map[string]any) (domain.Envelope, error) {
	corrID := uuid.NewString()
	wait := make(chan domain.Envelope, 1)
	r.mu.Lock()
	r.pending[corrID] = wait
	r.mu.Unlock()

	_, err := r.log.Append(ctx, domain.Envelope{
		Type:    envType,
		RunID:   r.runID,
		CorrID:  corrID,
		Payload: payload,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.pending, corrID)
		r.mu.Unlock()
		return domain.Envelope{}, fmt.Errorf("strategyrunner: append %s: %w", envType, err)
	}

	select {
	case reply := <-wait:
		return reply, nil
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	case <-time.After(replyTimeout):
		return domain.Envelope{}, fmt.Errorf("strategyrunner: %w: no reply to %s", domain.ErrInternal, envType)
	}
}

func payloadTime(env domain.Envelope, key string) (time.Time, error) {
	s, _ := env.Payload[key].(string)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing %q", key)
	}
	return time.Parse(time.RFC3339Nano, s)
}
