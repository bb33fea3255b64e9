package smacross

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/plugin"
)

func barPayload(closePrice float64, ts time.Time) map[string]any {
	return domain.BarToPayload(domain.Bar{
		Symbol:    "BTC/USD",
		Timeframe: "1h",
		Ts:        ts,
		Open:      decimal.NewFromFloat(closePrice),
		High:      decimal.NewFromFloat(closePrice),
		Low:       decimal.NewFromFloat(closePrice),
		Close:     decimal.NewFromFloat(closePrice),
		Volume:    decimal.NewFromInt(1),
	})
}

func barsPayload(closes []float64) map[string]any {
	bars := make([]any, len(closes))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = barPayload(c, base.Add(time.Duration(i)*time.Hour))
	}
	return map[string]any{"bars": bars}
}

func newInitialized(t *testing.T, fast, slow int) *Strategy {
	t.Helper()
	s := New().(*Strategy)
	require.NoError(t, s.Init(context.Background(), map[string]any{
		"symbol": "BTC/USD",
		"fast":   fast,
		"slow":   slow,
	}))
	return s
}

func TestStrategy_InitRejectsInvalidWindow(t *testing.T) {
	s := New().(*Strategy)
	err := s.Init(context.Background(), map[string]any{"fast": 10, "slow": 10})
	require.Error(t, err)

	err = s.Init(context.Background(), map[string]any{"fast": 30, "slow": 10})
	require.Error(t, err)
}

func TestStrategy_InitAppliesDefaults(t *testing.T) {
	s := New().(*Strategy)
	require.NoError(t, s.Init(context.Background(), map[string]any{}))
	require.Equal(t, "BTC/USD", s.symbol)
	require.Equal(t, "1h", s.timeframe)
	require.Equal(t, 10, s.fastLen)
	require.Equal(t, 30, s.slowLen)
}

func TestStrategy_OnTickRequestsWindowSizedToSlow(t *testing.T) {
	s := newInitialized(t, 2, 4)
	actions, err := s.OnTick(context.Background(), "run-1", time.Now())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	fw, ok := actions[0].(plugin.FetchWindowAction)
	require.True(t, ok)
	require.Equal(t, "BTC/USD", fw.Symbol)
	require.Equal(t, 4, fw.Lookback)
}

func TestStrategy_OnDataTooFewBarsProducesNoAction(t *testing.T) {
	s := newInitialized(t, 2, 4)
	actions, err := s.OnData(context.Background(), barsPayload([]float64{1, 2, 3}))
	require.NoError(t, err)
	require.Nil(t, actions)
}

func TestStrategy_OnDataCrossoverOpensThenClosesPosition(t *testing.T) {
	s := newInitialized(t, 2, 4)

	// Fast (last 2) > slow (last 4) average: an uptrend crossing above.
	actions, err := s.OnData(context.Background(), barsPayload([]float64{1, 1, 5, 9}))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	order, ok := actions[0].(plugin.PlaceOrderAction)
	require.True(t, ok)
	require.Equal(t, domain.OrderSideBuy, order.Intent.Side)
	require.True(t, s.inPos)

	// Already in position and still trending up: no repeat order.
	actions, err = s.OnData(context.Background(), barsPayload([]float64{1, 5, 9, 13}))
	require.NoError(t, err)
	require.Nil(t, actions)

	// Fast average drops below slow: close the position.
	actions, err = s.OnData(context.Background(), barsPayload([]float64{9, 1, 1, 1}))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	order, ok = actions[0].(plugin.PlaceOrderAction)
	require.True(t, ok)
	require.Equal(t, domain.OrderSideSell, order.Intent.Side)
	require.False(t, s.inPos)
}

func TestStrategy_OnDataMalformedBarReturnsError(t *testing.T) {
	s := newInitialized(t, 2, 4)
	badBar := map[string]any{"symbol": "BTC/USD", "close": "not-a-number"}
	payload := map[string]any{
		"bars": []any{badBar, badBar, badBar, badBar},
	}
	_, err := s.OnData(context.Background(), payload)
	require.Error(t, err)
}

func TestSMA_AveragesLastN(t *testing.T) {
	closes := []decimal.Decimal{
		decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3), decimal.NewFromInt(9),
	}
	require.True(t, sma(closes, 2).Equal(decimal.NewFromInt(6)))
}
