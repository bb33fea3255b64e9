package router

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSubmitter records every Submit call it receives along with the cause
// envelope it was given, so a test can assert causation chaining.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls []struct {
		intent domain.OrderIntent
		cause  domain.Envelope
	}
}

func (f *fakeSubmitter) Submit(_ context.Context, intent domain.OrderIntent, cause domain.Envelope) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		intent domain.OrderIntent
		cause  domain.Envelope
	}{intent, cause})
	return domain.OrderState{Status: domain.OrderStatusSubmitted}, nil
}

func (f *fakeSubmitter) lastCall() (domain.OrderIntent, domain.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.calls[len(f.calls)-1]
	return last.intent, last.cause
}

// fakeBarStore serves a fixed set of bars for one symbol/timeframe,
// regardless of the requested range, so live.FetchWindow execution can be
// exercised without a real database.
type fakeBarStore struct {
	bars []domain.Bar
	err  error
}

func (f *fakeBarStore) InsertBatch(context.Context, []domain.Bar) error { return nil }
func (f *fakeBarStore) ListRange(context.Context, string, string, time.Time, time.Time) ([]domain.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}
func (f *fakeBarStore) GetLatest(context.Context, string, string) (domain.Bar, error) {
	return domain.Bar{}, domain.ErrNotFound
}

func subscribeAll(log eventlog.Log) (*[]domain.Envelope, func()) {
	var envs []domain.Envelope
	var mu sync.Mutex
	id := log.SubscribeFunc([]string{"*"}, nil, func(env domain.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		envs = append(envs, env)
	})
	return &envs, func() { log.Unsubscribe(id) }
}

func typesOf(envs []domain.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

// byType returns the first recorded envelope of the given type. Append
// dispatches synchronously and recursively, so a rewrite emitted from inside
// a subscriber callback reaches a "*" subscriber before that callback
// returns -- a "*" listener sees a causally nested chain innermost-first,
// not in emission order. Tests key off type rather than position so they
// don't encode that dispatch-order detail.
func byType(envs []domain.Envelope, typ string) domain.Envelope {
	for _, e := range envs {
		if e.Type == typ {
			return e
		}
	}
	return domain.Envelope{}
}

func TestRouter_BacktestFetchWindowRewritesAndPreservesCorrID(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	r.RegisterRun("run-1", RunResources{Mode: domain.RunModeBacktest, OrderManager: &fakeSubmitter{}})

	envs, unsub := subscribeAll(log)
	defer unsub()

	_, err := log.Append(context.Background(), domain.Envelope{
		Type:    "strategy.FetchWindow",
		RunID:   "run-1",
		CorrID:  "corr-1",
		Payload: map[string]any{"symbol": "AAPL"},
	})
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"strategy.FetchWindow", "backtest.FetchWindow"}, typesOf(*envs))
	orig := byType(*envs, "strategy.FetchWindow")
	fwd := byType(*envs, "backtest.FetchWindow")
	require.Equal(t, "corr-1", fwd.CorrID)
	require.Equal(t, orig.ID, fwd.CausationID)
}

func TestRouter_BacktestPlaceRequestRewrites(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	r.RegisterRun("run-1", RunResources{Mode: domain.RunModeBacktest, OrderManager: &fakeSubmitter{}})

	envs, unsub := subscribeAll(log)
	defer unsub()

	_, err := log.Append(context.Background(), domain.Envelope{
		Type:  "strategy.PlaceRequest",
		RunID: "run-1",
	})
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"strategy.PlaceRequest", "backtest.PlaceOrder"}, typesOf(*envs))
}

func TestRouter_LivePlaceRequestExecutesSubmitWithCausationChain(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	sub := &fakeSubmitter{}
	r.RegisterRun("run-2", RunResources{Mode: domain.RunModeLive, OrderManager: sub, BarStore: &fakeBarStore{}})

	intent := domain.OrderIntent{
		ClientOrderID: "coid-1",
		RunID:         "run-2",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Kind:          domain.OrderKindMarket,
		Quantity:      decimal.NewFromInt(5),
	}
	out := domain.Envelope{
		Type:    "strategy.PlaceRequest",
		RunID:   "run-2",
		CorrID:  "corr-live-1",
		Payload: domain.OrderIntentToPayload(intent),
	}
	_, err := log.Append(context.Background(), out)
	require.NoError(t, err)

	require.Len(t, sub.calls, 1)
	gotIntent, cause := sub.lastCall()
	require.Equal(t, "coid-1", gotIntent.ClientOrderID)
	require.Equal(t, "live.PlaceOrder", cause.Type)
	require.Equal(t, "corr-live-1", cause.CorrID)
}

func TestRouter_LiveFetchWindowExecutesAgainstBarStore(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	bars := []domain.Bar{{Symbol: "AAPL", Timeframe: "1m", Ts: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}}
	r.RegisterRun("run-3", RunResources{Mode: domain.RunModeLive, OrderManager: &fakeSubmitter{}, BarStore: &fakeBarStore{bars: bars}})

	envs, unsub := subscribeAll(log)
	defer unsub()

	_, err := log.Append(context.Background(), domain.Envelope{
		Type:  "strategy.FetchWindow",
		RunID: "run-3",
		Payload: map[string]any{
			"symbol":    "AAPL",
			"timeframe": "1m",
			"end_ts":    time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
			"lookback":  10,
		},
	})
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"strategy.FetchWindow", "live.FetchWindow", "data.WindowReady"}, typesOf(*envs))
	ready := byType(*envs, "data.WindowReady")
	gotBars, _ := ready.Payload["bars"].([]any)
	require.Len(t, gotBars, 1)
	_, hasError := ready.Payload["error"]
	require.False(t, hasError)
}

func TestRouter_LiveFetchWindowInvalidRequestEmitsErrorField(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	r.RegisterRun("run-4", RunResources{Mode: domain.RunModeLive, OrderManager: &fakeSubmitter{}, BarStore: &fakeBarStore{}})

	envs, unsub := subscribeAll(log)
	defer unsub()

	_, err := log.Append(context.Background(), domain.Envelope{
		Type:    "strategy.FetchWindow",
		RunID:   "run-4",
		Payload: map[string]any{"symbol": "AAPL"}, // missing end_ts
	})
	require.NoError(t, err)

	ready := byType(*envs, "data.WindowReady")
	require.Equal(t, "data.WindowReady", ready.Type)
	reason, hasError := ready.Payload["error"]
	require.True(t, hasError)
	require.NotEmpty(t, reason)
}

func TestRouter_UnregisteredRunIsIgnoredWithoutPanic(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	require.NotPanics(t, func() {
		_, err := log.Append(context.Background(), domain.Envelope{
			Type:  "strategy.FetchWindow",
			RunID: "never-registered",
		})
		require.NoError(t, err)
	})
}

func TestRouter_UnregisterRunStopsRouting(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	r := New(log, testLogger())
	defer r.Close()

	r.RegisterRun("run-5", RunResources{Mode: domain.RunModeBacktest, OrderManager: &fakeSubmitter{}})
	r.UnregisterRun("run-5")

	envs, unsub := subscribeAll(log)
	defer unsub()

	_, err := log.Append(context.Background(), domain.Envelope{Type: "strategy.FetchWindow", RunID: "run-5"})
	require.NoError(t, err)
	require.Equal(t, []string{"strategy.FetchWindow"}, typesOf(*envs))
}
