// Package router implements the DomainRouter: a singleton that
// rewrites mode-agnostic strategy.FetchWindow / strategy.PlaceRequest
// requests into their live or backtest equivalents, based on the issuing
// run's registered mode. Grounded on the subscribe/dispatch shape of
// internal/cache/redis/signal_bus.go's channel-based fan-out, but wired
// in-process against eventlog.Log.SubscribeFunc instead of Redis Pub/Sub,
// since routing only ever needs in-process delivery.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
	"github.com/weaver-engine/weaver/internal/ordermanager"
)

// Submitter is the subset of ordermanager.Manager the router needs.
type Submitter interface {
	Submit(ctx context.Context, intent domain.OrderIntent, cause domain.Envelope) (domain.OrderState, error)
}

var _ Submitter = (*ordermanager.Manager)(nil)

// RunResources is the per-run state the router needs to dispatch a
// strategy request correctly: which mode the run executes in, its
// OrderManager, and (for live runs only) the bar store to read recent
// history from when a live.FetchWindow arrives.
type RunResources struct {
	Mode         domain.RunMode
	OrderManager Submitter
	BarStore     domain.BarStore // used only when Mode == RunModeLive
}

// Router subscribes twice to the event log: once for the mode-agnostic
// strategy.* requests it rewrites, and once for the live.* events it
// produces and is itself responsible for actually executing (there is no
// separate live-execution component -- the router holds the per-run
// RunResources needed to serve them directly).
type Router struct {
	log    eventlog.Log
	logger *slog.Logger

	mu     sync.RWMutex
	runs   map[string]RunResources
	subID  string
	liveID string
}

// New builds and subscribes a Router.
func New(log eventlog.Log, logger *slog.Logger) *Router {
	r := &Router{
		log:    log,
		logger: logger.With(slog.String("component", "domain_router")),
		runs:   make(map[string]RunResources),
	}
	r.subID = log.SubscribeFunc(
		[]string{"strategy.FetchWindow", "strategy.PlaceRequest"},
		nil,
		r.handleStrategyRequest,
	)
	r.liveID = log.SubscribeFunc(
		[]string{"live.FetchWindow", "live.PlaceOrder"},
		nil,
		r.handleLiveRequest,
	)
	return r
}

// RegisterRun makes resources available for runID's requests. Called by
// RunManager when a run starts.
func (r *Router) RegisterRun(runID string, resources RunResources) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = resources
}

// UnregisterRun removes a run's resources once it stops.
func (r *Router) UnregisterRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Close unsubscribes the router from the event log.
func (r *Router) Close() {
	r.log.Unsubscribe(r.subID)
	r.log.Unsubscribe(r.liveID)
}

func (r *Router) lookupRun(env domain.Envelope) (RunResources, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.runs[env.RunID]
	return res, ok
}

func (r *Router) handleStrategyRequest(env domain.Envelope) {
	res, ok := r.lookupRun(env)
	if !ok {
		r.logger.Warn("request for unregistered run", slog.String("run_id", env.RunID), slog.String("type", env.Type))
		return
	}

	ctx := context.Background()
	switch env.Type {
	case "strategy.FetchWindow":
		r.routeFetchWindow(ctx, env, res)
	case "strategy.PlaceRequest":
		r.routePlaceRequest(ctx, env, res)
	}
}

// routeFetchWindow rewrites a strategy.FetchWindow request into the mode's
// concrete fetch event, preserving the request's corr_id via Caused so the
// eventual data.WindowReady correlates back to the strategy's original
// request regardless of how many hops it took.
func (r *Router) routeFetchWindow(ctx context.Context, env domain.Envelope, res RunResources) {
	eventType := "backtest.FetchWindow"
	if res.Mode == domain.RunModeLive || res.Mode == domain.RunModePaper {
		eventType = "live.FetchWindow"
	}
	out := env.Caused(eventType)
	out.Payload = env.Payload
	if _, err := r.log.Append(ctx, out); err != nil {
		r.logger.Error("forward fetch_window failed", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// routePlaceRequest rewrites a strategy.PlaceRequest into the mode's
// concrete place event. Both flows are fire-and-forget: OrderManager's own
// orders.* events are the only observable outcome, so no synchronous reply
// envelope is emitted here.
func (r *Router) routePlaceRequest(ctx context.Context, env domain.Envelope, res RunResources) {
	eventType := "backtest.PlaceOrder"
	if res.Mode == domain.RunModeLive || res.Mode == domain.RunModePaper {
		eventType = "live.PlaceOrder"
	}
	out := env.Caused(eventType)
	out.Payload = env.Payload
	if _, err := r.log.Append(ctx, out); err != nil {
		r.logger.Error("forward place_request failed", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// handleLiveRequest actually executes the live.FetchWindow / live.PlaceOrder
// events the router itself just emitted -- live runs have no separate
// execution engine the way backtest runs have BacktestEngine, so the
// router fills that role using the run's registered BarStore/OrderManager.
func (r *Router) handleLiveRequest(env domain.Envelope) {
	res, ok := r.lookupRun(env)
	if !ok {
		r.logger.Warn("live request for unregistered run", slog.String("run_id", env.RunID), slog.String("type", env.Type))
		return
	}

	ctx := context.Background()
	switch env.Type {
	case "live.FetchWindow":
		r.executeLiveFetchWindow(ctx, env, res)
	case "live.PlaceOrder":
		r.executeLivePlaceOrder(ctx, env, res)
	}
}

func (r *Router) executeLiveFetchWindow(ctx context.Context, env domain.Envelope, res RunResources) {
	symbol := stringPayload(env, "symbol")
	timeframe := stringPayload(env, "timeframe")
	lookback := intPayload(env, "lookback")
	endTs, err := payloadTime(env, "end_ts")
	if err != nil || res.BarStore == nil {
		r.emitWindowError(ctx, env, symbol, "invalid fetch_window request")
		return
	}

	from := endTs.AddDate(0, 0, -7) // a week of lookback headroom; callers trim via Lookback
	bars, err := res.BarStore.ListRange(ctx, symbol, timeframe, from, endTs)
	if err != nil {
		r.emitWindowError(ctx, env, symbol, err.Error())
		return
	}
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}

	barPayloads := make([]any, len(bars))
	for i, b := range bars {
		barPayloads[i] = domain.BarToPayload(b)
	}
	out := env.Caused("data.WindowReady")
	out.Payload = map[string]any{"symbol": symbol, "bars": barPayloads}
	if _, err := r.log.Append(ctx, out); err != nil {
		r.logger.Error("append data.WindowReady failed", slog.String("error", err.Error()))
	}
}

// emitWindowError signals a fetch failure by reusing data.WindowReady with
// an empty bar list and an "error" payload field -- the spec's event
// vocabulary has no dedicated error type for this, so the existing type is
// reused rather than inventing one.
func (r *Router) emitWindowError(ctx context.Context, env domain.Envelope, symbol, reason string) {
	out := env.Caused("data.WindowReady")
	out.Payload = map[string]any{"symbol": symbol, "bars": []any{}, "error": reason}
	if _, err := r.log.Append(ctx, out); err != nil {
		r.logger.Error("append data.WindowReady (error) failed", slog.String("error", err.Error()))
	}
}

func (r *Router) executeLivePlaceOrder(ctx context.Context, env domain.Envelope, res RunResources) {
	intent, err := domain.OrderIntentFromPayload(env.Payload)
	if err != nil {
		r.logger.Error("decode live.PlaceOrder payload failed", slog.String("error", err.Error()))
		return
	}
	if _, err := res.OrderManager.Submit(ctx, intent, env); err != nil {
		r.logger.Warn("live order submit failed", slog.String("run_id", env.RunID), slog.String("error", err.Error()))
	}
}

func stringPayload(env domain.Envelope, key string) string {
	s, _ := env.Payload[key].(string)
	return s
}

func intPayload(env domain.Envelope, key string) int {
	switch v := env.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadTime(env domain.Envelope, key string) (time.Time, error) {
	s, _ := env.Payload[key].(string)
	if s == "" {
		return time.Time{}, fmt.Errorf("router: missing %q", key)
	}
	return time.Parse(time.RFC3339Nano, s)
}
