package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// Engine is the per-run BacktestEngine: it serves historical windows and
// simulates order execution against a preloaded bar cache, deterministically,
// for the lifetime of one backtest run.
type Engine struct {
	runID  string
	log    eventlog.Log
	logger *slog.Logger

	caches map[string]*BarCache // symbol -> cache
	sims   map[string]*FillSimulator
	pos    *PositionTracker
	stats  *StatsCollector

	subIDs []string
}

// EngineConfig configures one Engine instance.
type EngineConfig struct {
	RunID          string
	Symbols        []string
	Timeframe      string
	Start, End     time.Time
	Policy         FillPolicy
	StartingEquity decimal.Decimal
}

// NewEngine preloads bar caches for every symbol in cfg and subscribes to
// this run's backtest.FetchWindow and backtest.PlaceOrder events.
func NewEngine(ctx context.Context, cfg EngineConfig, barStore domain.BarStore, log eventlog.Log, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		runID:  cfg.RunID,
		log:    log,
		logger: logger.With(slog.String("component", "backtest_engine"), slog.String("run_id", cfg.RunID)),
		caches: make(map[string]*BarCache),
		sims:   make(map[string]*FillSimulator),
		pos:    NewPositionTracker(cfg.RunID),
		stats:  NewStatsCollector(cfg.StartingEquity),
	}

	for _, symbol := range cfg.Symbols {
		cache, err := NewBarCache(ctx, barStore, symbol, cfg.Timeframe, cfg.Start, cfg.End)
		if err != nil {
			return nil, fmt.Errorf("backtest: initialize %s: %w", symbol, err)
		}
		e.caches[symbol] = cache
		e.sims[symbol] = NewFillSimulator(cache, cfg.Policy)
	}

	e.subIDs = append(e.subIDs, log.SubscribeFunc(
		[]string{"backtest.FetchWindow"},
		e.forThisRun,
		e.handleFetchWindow,
	))
	e.subIDs = append(e.subIDs, log.SubscribeFunc(
		[]string{"backtest.PlaceOrder"},
		e.forThisRun,
		e.handlePlaceOrder,
	))

	return e, nil
}

func (e *Engine) forThisRun(env domain.Envelope) bool {
	return env.RunID == e.runID
}

// handleFetchWindow answers a backtest.FetchWindow request from the cache,
// preserving the request's corr_id via Caused.
func (e *Engine) handleFetchWindow(env domain.Envelope) {
	symbol := stringPayload(env, "symbol")
	cache, ok := e.caches[symbol]
	if !ok {
		e.logger.Error("fetch_window for unknown symbol", slog.String("symbol", symbol))
		return
	}

	endTs, err := payloadTime(env, "end_ts")
	if err != nil {
		e.logger.Error("invalid end_ts", slog.String("error", err.Error()))
		return
	}
	lookback := intPayload(env, "lookback")

	bars := cache.Window(endTs, lookback)
	barPayloads := make([]any, len(bars))
	for i, b := range bars {
		barPayloads[i] = domain.BarToPayload(b)
	}

	out := env.Caused("data.WindowReady")
	out.RunID = e.runID
	out.Payload = map[string]any{"symbol": symbol, "bars": barPayloads}
	if _, err := e.log.Append(context.Background(), out); err != nil {
		e.logger.Error("append data.WindowReady failed", slog.String("error", err.Error()))
	}
}

// handlePlaceOrder simulates fill(s) for one backtest.PlaceOrder request
// and emits orders.Filled or orders.Rejected.
func (e *Engine) handlePlaceOrder(env domain.Envelope) {
	intent, err := domain.OrderIntentFromPayload(env.Payload)
	if err != nil {
		e.logger.Error("invalid place_order payload", slog.String("error", err.Error()))
		return
	}
	orderID := stringPayload(env, "order_id")
	if orderID == "" {
		orderID = uuid.NewString()
	}

	sim, ok := e.sims[intent.Symbol]
	if !ok {
		e.emitRejected(env, orderID, "unknown symbol: "+intent.Symbol)
		return
	}

	ts := env.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := sim.Simulate(intent, orderID, ts)
	if err != nil {
		e.emitRejected(env, orderID, err.Error())
		return
	}
	if result.Rejected {
		e.emitRejected(env, orderID, result.Reason)
		return
	}
	if !result.Filled {
		// No bar crossed the trigger: an unfilled limit/stop order is not
		// kept resting or re-evaluated on a later tick; it is rejected.
		e.emitRejected(env, orderID, "no bar crossed the order's trigger price")
		return
	}

	realized := e.pos.ApplyFill(result.Fill)
	e.stats.RecordRealized(realized)

	out := env.Caused("orders.Filled")
	out.RunID = e.runID
	payload := domain.FillToPayload(result.Fill)
	payload["order_id"] = orderID
	payload["status"] = string(result.Status)
	out.Payload = payload
	if _, err := e.log.Append(context.Background(), out); err != nil {
		e.logger.Error("append orders.Filled failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) emitRejected(env domain.Envelope, orderID, reason string) {
	out := env.Caused("orders.Rejected")
	out.RunID = e.runID
	out.Payload = map[string]any{"order_id": orderID, "reject_reason": reason}
	if _, err := e.log.Append(context.Background(), out); err != nil {
		e.logger.Error("append orders.Rejected failed", slog.String("error", err.Error()))
	}
}

// Stats returns the run's statistics so far.
func (e *Engine) Stats() Stats {
	return e.stats.Compute()
}

// Positions returns every tracked position for the run.
func (e *Engine) Positions() []domain.Position {
	return e.pos.All()
}

// Bars returns every bar preloaded for symbol, in chronological order, or
// nil if symbol was not part of this run's configuration.
func (e *Engine) Bars(symbol string) []domain.Bar {
	cache, ok := e.caches[symbol]
	if !ok {
		return nil
	}
	return cache.All()
}

// Close unsubscribes the engine from the event log. Final statistics are
// reported via Stats(); RunManager.drive hands them to the run archiver when
// one is configured, and the run.Completed envelope it emits does not carry
// them. The engine itself emits no lifecycle event, since drive is the
// single source of truth for a run's terminal status.
func (e *Engine) Close(context.Context) error {
	for _, id := range e.subIDs {
		e.log.Unsubscribe(id)
	}
	return nil
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
		return time.Time{}, fmt.Errorf("backtest: missing %q", key)
	}
	return time.Parse(time.RFC3339Nano, s)
}
