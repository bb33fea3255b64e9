package backtest

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

// fakeBarStore serves a fixed, caller-provided bar sequence for any
// symbol/timeframe/range, so NewBarCache can be exercised without a
// database.
type fakeBarStore struct {
	bars []domain.Bar
}

func (f *fakeBarStore) InsertBatch(context.Context, []domain.Bar) error { return nil }
func (f *fakeBarStore) ListRange(context.Context, string, string, time.Time, time.Time) ([]domain.Bar, error) {
	return f.bars, nil
}
func (f *fakeBarStore) GetLatest(context.Context, string, string) (domain.Bar, error) {
	return domain.Bar{}, domain.ErrNotFound
}

func bar(ts time.Time, o, h, l, c decimal.Decimal) domain.Bar {
	return domain.Bar{Symbol: "AAPL", Timeframe: "1m", Ts: ts, Open: o, High: h, Low: l, Close: c, Volume: decimal.NewFromInt(1000)}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

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

func byType(envs []domain.Envelope, typ string) domain.Envelope {
	for _, e := range envs {
		if e.Type == typ {
			return e
		}
	}
	return domain.Envelope{}
}

// BarCache.Window/Next are pure functions over a sorted bar slice -- the
// same cache queried the same way always answers identically, which is
// what lets a backtest replay deterministically.
func TestBarCache_WindowAndNextAreDeterministic(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(102), d(100), d(101)),
		bar(base.Add(2*time.Minute), d(101), d(103), d(101), d(102)),
	}
	store := &fakeBarStore{bars: bars}
	cache, err := NewBarCache(context.Background(), store, "AAPL", "1m", base, base.Add(3*time.Minute))
	require.NoError(t, err)

	w1 := cache.Window(base.Add(2*time.Minute), 10)
	w2 := cache.Window(base.Add(2*time.Minute), 10)
	require.Equal(t, w1, w2)
	require.Len(t, w1, 3)

	capped := cache.Window(base.Add(2*time.Minute), 1)
	require.Len(t, capped, 1)
	require.True(t, capped[0].Ts.Equal(base.Add(2*time.Minute)))

	next, ok := cache.Next(base)
	require.True(t, ok)
	require.True(t, next.Ts.Equal(base.Add(time.Minute)))

	_, ok = cache.Next(base.Add(2 * time.Minute))
	require.False(t, ok, "no bar exists strictly after the last bar")
}

func newTestEngine(t *testing.T, runID string, bars []domain.Bar, policy FillPolicy) (*Engine, eventlog.Log) {
	t.Helper()
	log := eventlog.NewMemoryLog(testLogger())
	store := &fakeBarStore{bars: bars}
	cfg := EngineConfig{
		RunID:     runID,
		Symbols:   []string{"AAPL"},
		Timeframe: "1m",
		Start:     bars[0].Ts,
		End:       bars[len(bars)-1].Ts,
		Policy:    policy,
	}
	e, err := NewEngine(context.Background(), cfg, store, log, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, log
}

func TestHandleFetchWindow_ReturnsWindowedBarsWithCausation(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(102), d(100), d(101)),
	}
	_, log := newTestEngine(t, "run-1", bars, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	req := domain.Envelope{
		Type:   "backtest.FetchWindow",
		RunID:  "run-1",
		CorrID: "corr-fw",
		Payload: map[string]any{
			"symbol":   "AAPL",
			"end_ts":   bars[1].Ts.Format(time.RFC3339Nano),
			"lookback": 10,
		},
	}
	_, err := log.Append(context.Background(), req)
	require.NoError(t, err)

	orig := byType(*envs, "backtest.FetchWindow")
	ready := byType(*envs, "data.WindowReady")
	require.Equal(t, "corr-fw", ready.CorrID)
	require.Equal(t, orig.ID, ready.CausationID)
	gotBars, _ := ready.Payload["bars"].([]any)
	require.Len(t, gotBars, 2)
}

func TestHandleFetchWindow_UnknownSymbolIsIgnoredWithoutPanic(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	_, log := newTestEngine(t, "run-1", []domain.Bar{bar(base, d(1), d(1), d(1), d(1))}, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	require.NotPanics(t, func() {
		_, err := log.Append(context.Background(), domain.Envelope{
			Type:    "backtest.FetchWindow",
			RunID:   "run-1",
			Payload: map[string]any{"symbol": "MSFT", "end_ts": base.Format(time.RFC3339Nano)},
		})
		require.NoError(t, err)
	})
	require.Empty(t, byType(*envs, "data.WindowReady").Type)
}

func placeOrderEnvelope(runID, orderID string, intent domain.OrderIntent, ts time.Time) domain.Envelope {
	payload := domain.OrderIntentToPayload(intent)
	payload["order_id"] = orderID
	return domain.Envelope{
		Type:      "backtest.PlaceOrder",
		RunID:     runID,
		CreatedAt: ts,
		Payload:   payload,
	}
}

func TestHandlePlaceOrder_MarketFillsAtNextBarOpen(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(105), d(106), d(104), d(105)),
	}
	_, log := newTestEngine(t, "run-1", bars, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, Quantity: d(10)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-1", intent, base))
	require.NoError(t, err)

	filled := byType(*envs, "orders.Filled")
	require.Equal(t, "ord-1", filled.Payload["order_id"])
	require.Equal(t, "105", filled.Payload["price"])
}

func TestHandlePlaceOrder_LimitRestsWhenNeverCrossedAndRejects(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(105), d(106), d(104), d(105)),
	}
	_, log := newTestEngine(t, "run-1", bars, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, Quantity: d(10), LimitPrice: d(50)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-2", intent, base))
	require.NoError(t, err)

	rejected := byType(*envs, "orders.Rejected")
	require.Equal(t, "ord-2", rejected.Payload["order_id"])
	require.NotEmpty(t, rejected.Payload["reject_reason"])
}

func TestHandlePlaceOrder_LimitFillsWhenBarCrossesPrice(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(105), d(106), d(98), d(99)),
	}
	_, log := newTestEngine(t, "run-1", bars, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit, Quantity: d(10), LimitPrice: d(99)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-3", intent, base))
	require.NoError(t, err)

	filled := byType(*envs, "orders.Filled")
	require.Equal(t, "99", filled.Payload["price"])
}

func TestHandlePlaceOrder_StopFillsOnceTouched(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(108), d(100), d(107)),
	}
	_, log := newTestEngine(t, "run-1", bars, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindStop, Quantity: d(10), StopPrice: d(105)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-4", intent, base))
	require.NoError(t, err)

	filled := byType(*envs, "orders.Filled")
	require.Equal(t, "105", filled.Payload["price"])
}

func TestHandlePlaceOrder_StopLimitRequiresBothStopTouchAndLimitCross(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	// Stop (105) is touched by the bar's high (108), but the bar's low (106)
	// never reaches the limit price (100), so the order must not fill.
	barsNoFill := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(108), d(106), d(107)),
	}
	_, log := newTestEngine(t, "run-1", barsNoFill, FillPolicy{})
	envs, unsub := subscribeAll(log)

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindStopLimit, Quantity: d(10), StopPrice: d(105), LimitPrice: d(100)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-5", intent, base))
	require.NoError(t, err)
	require.Equal(t, "ord-5", byType(*envs, "orders.Rejected").Payload["order_id"])
	unsub()

	// Same stop, but the bar's low also dips to the limit price: both
	// conditions are satisfied on the same bar, so the order fills there.
	barsFill := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(108), d(99), d(107)),
	}
	_, log2 := newTestEngine(t, "run-2", barsFill, FillPolicy{})
	envs2, unsub2 := subscribeAll(log2)
	defer unsub2()

	intent.RunID = "run-2"
	_, err = log2.Append(context.Background(), placeOrderEnvelope("run-2", "ord-6", intent, base))
	require.NoError(t, err)
	filled := byType(*envs2, "orders.Filled")
	require.Equal(t, "100", filled.Payload["price"])
}

func TestHandlePlaceOrder_UnknownSymbolRejects(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	_, log := newTestEngine(t, "run-1", []domain.Bar{bar(base, d(1), d(1), d(1), d(1))}, FillPolicy{})

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "MSFT", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, Quantity: d(1)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-7", intent, base))
	require.NoError(t, err)

	rejected := byType(*envs, "orders.Rejected")
	require.Equal(t, "ord-7", rejected.Payload["order_id"])
	require.Contains(t, rejected.Payload["reject_reason"], "MSFT")
}

func TestHandlePlaceOrder_CommissionAndSlippageApplied(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	bars := []domain.Bar{
		bar(base, d(100), d(101), d(99), d(100)),
		bar(base.Add(time.Minute), d(100), d(102), d(100), d(101)),
	}
	policy := FillPolicy{
		Slippage:   SlippageModel{Kind: "fixed_bps", Value: d(100)}, // 1%
		Commission: CommissionModel{Kind: "per_share", Value: decimal.NewFromFloat(0.01)},
	}
	_, log := newTestEngine(t, "run-1", bars, policy)

	envs, unsub := subscribeAll(log)
	defer unsub()

	intent := domain.OrderIntent{RunID: "run-1", Symbol: "AAPL", Side: domain.OrderSideBuy, Kind: domain.OrderKindMarket, Quantity: d(10)}
	_, err := log.Append(context.Background(), placeOrderEnvelope("run-1", "ord-8", intent, base))
	require.NoError(t, err)

	filled := byType(*envs, "orders.Filled")
	require.Equal(t, "101", filled.Payload["price"]) // 100 open + 1% slippage on a buy
	require.Equal(t, "0.1", filled.Payload["commission"])
}
