// Package runmanager owns the lifecycle of every Run: create, start, stop,
// get, list. Grounded on internal/app/app.go's closers []func() LIFO
// cleanup idiom, generalized from "one mode for the whole process" to "one
// RunContext per run, many runs concurrently in one process". The live and
// backtest code paths share a single drive function; only the Clock
// implementation differs between them, matching the requirement that both
// paths get identical structured error handling.
package runmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	adapterbacktest "github.com/weaver-engine/weaver/internal/adapter/backtest"
	adapterlive "github.com/weaver-engine/weaver/internal/adapter/live"
	"github.com/weaver-engine/weaver/internal/backtest"
	"github.com/weaver-engine/weaver/internal/clock"
	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
	"github.com/weaver-engine/weaver/internal/notify"
	"github.com/weaver-engine/weaver/internal/ordermanager"
	"github.com/weaver-engine/weaver/internal/pluginloader"
	"github.com/weaver-engine/weaver/internal/router"
	"github.com/weaver-engine/weaver/internal/strategyrunner"
)

// BrokerClientFactory builds the live BrokerClient a live or paper run's
// adapter wraps. Constructing it is left to the caller (RunManager doesn't
// know about API credentials) since the wire protocol is out of scope here;
// mode lets the factory pick live vs paper credentials for the same
// broker.
type BrokerClientFactory func(mode domain.RunMode) (adapterlive.BrokerClient, error)

// Deps bundles the shared, process-lifetime dependencies RunManager needs
// to build a RunContext for any run.
type Deps struct {
	Runs     domain.RunStore
	Orders   domain.OrderStore
	Fills    domain.FillStore
	Bars     domain.BarStore
	Audit    domain.AuditStore
	Log      eventlog.Log
	Router   *router.Router
	Plugins  *pluginloader.Registry
	Logger   *slog.Logger
	Broker   BrokerClientFactory
	FillCfg  backtest.FillPolicy
	Notify   *notify.Notifier // optional; nil disables run-lifecycle notifications
	Archiver RunArchiver      // optional; nil disables S3 archival of completed backtests
}

// RunArchiver uploads a completed backtest run's summary statistics and bar
// window to durable blob storage. Satisfied by *s3blob.RunArchiver;
// segregated here so runmanager doesn't import the S3 SDK transitively.
type RunArchiver interface {
	Archive(ctx context.Context, runID, symbol, timeframe string, stats backtest.Stats, bars []domain.Bar) error
}

// RunContext bundles everything one running Run owns: its Clock, optional
// BacktestEngine, StrategyRunner, and a LIFO stack of cleanup closures,
// mirroring internal/app/app.go's process-wide closers stack but scoped to
// one run.
type RunContext struct {
	run     domain.Run
	clock   clock.Clock
	engine  *backtest.Engine // nil for live runs
	runner  *strategyrunner.Runner
	closers []func()

	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool // set by Stop before cancelling, read by drive to disambiguate Stopped from Completed/Error
}

// Manager owns every active RunContext.
type Manager struct {
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*RunContext
}

// New builds a Manager.
func New(deps Deps) *Manager {
	return &Manager{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "run_manager")),
		active: make(map[string]*RunContext),
	}
}

// Create persists a new pending Run and emits run.Created.
func (m *Manager) Create(ctx context.Context, run domain.Run) error {
	run.Status = domain.RunStatusPending
	run.CreatedAt = time.Now().UTC()
	if err := m.deps.Runs.Create(ctx, run); err != nil {
		return fmt.Errorf("runmanager: create: %w", err)
	}
	m.emitLifecycle(ctx, run.ID, "run.Created", map[string]any{"symbol": run.Symbol, "mode": string(run.Mode)})
	return nil
}

// Start transitions a pending run to running and begins driving it. It
// returns once the run's clock and strategy runner are wired and its
// driving goroutine has been launched; it does not block for the run's
// duration.
func (m *Manager) Start(ctx context.Context, runID string, pluginID string, params map[string]any) error {
	run, err := m.deps.Runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("runmanager: start: lookup: %w", err)
	}
	if !run.CanTransition(domain.RunStatusRunning) {
		return fmt.Errorf("runmanager: %w: run %s cannot start from status %s", domain.ErrConflict, runID, run.Status)
	}

	rc, err := m.build(ctx, run, pluginID, params)
	if err != nil {
		return fmt.Errorf("runmanager: build run context: %w", err)
	}

	if err := m.deps.Runs.UpdateStatus(ctx, runID, domain.RunStatusRunning, ""); err != nil {
		m.teardown(rc)
		return fmt.Errorf("runmanager: persist running status: %w", err)
	}
	run.Status = domain.RunStatusRunning
	now := time.Now().UTC()
	run.StartedAt = &now
	rc.run = run

	m.mu.Lock()
	m.active[runID] = rc
	m.mu.Unlock()

	if m.deps.Notify != nil {
		title := fmt.Sprintf("run %s started", runID)
		if err := m.deps.Notify.Notify(ctx, "run_started", title, run.Symbol); err != nil {
			m.logger.Warn("run-started notification failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		}
	}

	m.emitLifecycle(ctx, runID, "run.Started", map[string]any{"symbol": run.Symbol, "mode": string(run.Mode)})

	go m.drive(rc)
	return nil
}

// emitLifecycle appends a run.* lifecycle envelope if an event log is
// configured. Failures are logged, not returned -- a dropped lifecycle
// event never blocks a run from starting, stopping, or completing.
func (m *Manager) emitLifecycle(ctx context.Context, runID, eventType string, payload map[string]any) {
	if m.deps.Log == nil {
		return
	}
	if _, err := m.deps.Log.Append(ctx, domain.Envelope{Type: eventType, RunID: runID, Payload: payload}); err != nil {
		m.logger.Error("failed to append lifecycle event", slog.String("run_id", runID), slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

// build wires a RunContext for run: adapter, OrderManager, optional
// BacktestEngine, Clock, and StrategyRunner, registering the run with the
// shared Router so strategy requests resolve correctly.
func (m *Manager) build(ctx context.Context, run domain.Run, pluginID string, params map[string]any) (*RunContext, error) {
	var closers []func()
	var cl clock.Clock
	var engine *backtest.Engine

	switch run.Mode {
	case domain.RunModeBacktest:
		adapter := adapterbacktest.New(run.ID, m.deps.Log, m.deps.Logger)
		closers = append(closers, func() { _ = adapter.Disconnect(context.Background()) })

		eng, err := backtest.NewEngine(ctx, backtest.EngineConfig{
			RunID:          run.ID,
			Symbols:        []string{run.Symbol},
			Timeframe:      run.Timeframe,
			Start:          run.BacktestFrom,
			End:            run.BacktestTo,
			Policy:         m.deps.FillCfg,
			StartingEquity: decimal.NewFromInt(100000),
		}, m.deps.Bars, m.deps.Log, m.deps.Logger)
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("build backtest engine: %w", err)
		}
		engine = eng
		closers = append(closers, func() { _ = engine.Close(context.Background()) })

		om := ordermanager.New(m.deps.Orders, m.deps.Fills, m.deps.Log, adapter, m.deps.Logger)
		m.deps.Router.RegisterRun(run.ID, router.RunResources{Mode: domain.RunModeBacktest, OrderManager: om})
		closers = append(closers, func() { m.deps.Router.UnregisterRun(run.ID) })

		cl = clock.NewBacktestClock(run.BacktestFrom, run.BacktestTo, m.deps.Log)

	case domain.RunModeLive, domain.RunModePaper:
		if m.deps.Broker == nil {
			runClosers(closers)
			return nil, fmt.Errorf("runmanager: no live broker client factory configured")
		}
		client, err := m.deps.Broker(run.Mode)
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("build broker client for mode %s: %w", run.Mode, err)
		}
		adapter := adapterlive.New(adapterlive.Config{ID: "alpaca-" + run.ID}, client, m.deps.Logger)
		if err := adapter.Connect(ctx); err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("connect live adapter: %w", err)
		}
		closers = append(closers, func() { _ = adapter.Disconnect(context.Background()) })

		om := ordermanager.New(m.deps.Orders, m.deps.Fills, m.deps.Log, adapter, m.deps.Logger)
		m.deps.Router.RegisterRun(run.ID, router.RunResources{Mode: run.Mode, OrderManager: om, BarStore: m.deps.Bars})
		closers = append(closers, func() { m.deps.Router.UnregisterRun(run.ID) })

		cl = clock.NewRealtimeClock(m.deps.Logger, m.deps.Log)

	default:
		runClosers(closers)
		return nil, fmt.Errorf("runmanager: unsupported run mode %q", run.Mode)
	}

	strat, err := m.deps.Plugins.New(pluginID)
	if err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("instantiate plugin %q: %w", pluginID, err)
	}
	if err := strat.Init(ctx, params); err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("init plugin %q: %w", pluginID, err)
	}

	// StrategyRunner subscribes itself to this run's clock.Tick envelopes
	// off the event log rather than receiving a direct callback here --
	// RunManager's only job is to start the clock ticking.
	runner := strategyrunner.New(run.ID, strat, m.deps.Log, m.deps.Logger)
	closers = append(closers, func() { _ = runner.Close() })

	return &RunContext{
		run:     run,
		clock:   cl,
		engine:  engine,
		runner:  runner,
		closers: closers,
		done:    make(chan struct{}),
	}, nil
}

// drive runs rc's clock until it exhausts (backtest) or is stopped (live),
// then records the final status and tears down the run's resources.
func (m *Manager) drive(rc *RunContext) {
	defer close(rc.done)

	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	defer cancel()

	err := rc.clock.Start(ctx, rc.run.ID, timeframeOf(rc.run.Timeframe))

	status := domain.RunStatusCompleted
	errMsg := ""
	switch {
	case rc.stopped.Load():
		// Stop() raced the clock's own stopCh against ctx cancellation, so
		// Start may have returned nil or context.Canceled depending on
		// which the clock's select observed first; either is an
		// explicitly requested stop, never an error.
		status = domain.RunStatusStopped
	case err != nil && err != context.Canceled:
		status = domain.RunStatusError
		errMsg = err.Error()
	}

	if uerr := m.deps.Runs.UpdateStatus(context.Background(), rc.run.ID, status, errMsg); uerr != nil {
		m.logger.Error("failed to persist final run status", slog.String("run_id", rc.run.ID), slog.String("error", uerr.Error()))
	}
	m.emitLifecycle(context.Background(), rc.run.ID, lifecycleEventFor(status), map[string]any{"error": errMsg})
	if m.deps.Audit != nil {
		_ = m.deps.Audit.Log(context.Background(), rc.run.ID, "run."+string(status), map[string]any{"error": errMsg})
	}
	if m.deps.Notify != nil {
		event := "run_" + string(status)
		title := fmt.Sprintf("run %s: %s", rc.run.ID, status)
		msg := rc.run.Symbol
		if errMsg != "" {
			msg = fmt.Sprintf("%s (%s)", msg, errMsg)
		}
		if err := m.deps.Notify.Notify(context.Background(), event, title, msg); err != nil {
			m.logger.Warn("run-lifecycle notification failed", slog.String("run_id", rc.run.ID), slog.String("error", err.Error()))
		}
	}
	if m.deps.Archiver != nil && rc.engine != nil && status == domain.RunStatusCompleted {
		stats := rc.engine.Stats()
		bars := rc.engine.Bars(rc.run.Symbol)
		if err := m.deps.Archiver.Archive(context.Background(), rc.run.ID, rc.run.Symbol, rc.run.Timeframe, stats, bars); err != nil {
			m.logger.Warn("backtest archival failed", slog.String("run_id", rc.run.ID), slog.String("error", err.Error()))
		}
	}

	m.teardown(rc)

	m.mu.Lock()
	delete(m.active, rc.run.ID)
	m.mu.Unlock()
}

func (m *Manager) teardown(rc *RunContext) {
	for i := len(rc.closers) - 1; i >= 0; i-- {
		rc.closers[i]()
	}
}

// Stop requests a graceful stop of a running run. It cancels the run's
// clock and waits (bounded by ctx) for its driving goroutine to finish
// tearing down.
func (m *Manager) Stop(ctx context.Context, runID string) error {
	m.mu.Lock()
	rc, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("runmanager: %w: run %s is not active", domain.ErrNotFound, runID)
	}
	rc.stopped.Store(true)
	rc.clock.Stop()
	if rc.cancel != nil {
		rc.cancel()
	}
	select {
	case <-rc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the persisted record for a run.
func (m *Manager) Get(ctx context.Context, runID string) (domain.Run, error) {
	return m.deps.Runs.GetByID(ctx, runID)
}

// List returns runs matching opts.
func (m *Manager) List(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	return m.deps.Runs.List(ctx, opts)
}

// Stats returns backtest statistics for an active backtest run, or an
// error if runID is not an active backtest run.
func (m *Manager) Stats(runID string) (backtest.Stats, error) {
	m.mu.Lock()
	rc, ok := m.active[runID]
	m.mu.Unlock()
	if !ok || rc.engine == nil {
		return backtest.Stats{}, fmt.Errorf("runmanager: %w: no active backtest run %s", domain.ErrNotFound, runID)
	}
	return rc.engine.Stats(), nil
}

// CloseAll stops every active run, waiting up to the given context's
// deadline for each to finish tearing down. Used on process shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			m.logger.Warn("stop on shutdown failed", slog.String("run_id", id), slog.String("error", err.Error()))
		}
	}
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func timeframeOf(tf string) clock.Timeframe {
	parsed := clock.Timeframe(tf)
	if _, err := parsed.Duration(); err != nil {
		return clock.Timeframe1m
	}
	return parsed
}

func lifecycleEventFor(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusError:
		return "run.Error"
	case domain.RunStatusStopped:
		return "run.Stopped"
	default:
		return "run.Completed"
	}
}
