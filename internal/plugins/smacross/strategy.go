// Package smacross implements a simple moving-average crossover strategy,
// the one built-in plugin.Strategy compiled into weaverd so a fresh
// deployment has something runnable without writing Go first. Grounded on
// the teacher's internal/strategy/interface.go Strategy contract and
// internal/arbitrage/spread.go's plain-arithmetic signal style, adapted
// from spread-threshold signals to a fast/slow SMA crossover over fetched
// bar windows.
package smacross

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/plugin"
)

// PluginMetadata is discovered statically by internal/pluginloader.Discover
// without compiling this package; it must stay a literal composite value.
var PluginMetadata = plugin.Metadata{
	ID:      "smacross",
	Name:    "SMA Crossover",
	Version: "1.0.0",
}

const id = "smacross"

// Strategy trades one symbol on a fast/slow SMA crossover: fast crossing
// above slow opens a long, fast crossing below slow closes it. One
// instance is created per run by pluginloader.Registry.New.
type Strategy struct {
	symbol    string
	timeframe string
	quantity  decimal.Decimal
	fastLen   int
	slowLen   int
	inPos     bool
}

// New builds an uninitialized Strategy; Init supplies its parameters.
func New() plugin.Strategy {
	return &Strategy{}
}

func (s *Strategy) ID() string { return id }

// Init reads symbol/timeframe/quantity/fast/slow from params, falling back
// to sane defaults for anything missing so a run can be started with an
// empty params map.
func (s *Strategy) Init(_ context.Context, params map[string]any) error {
	s.symbol = stringParam(params, "symbol", "BTC/USD")
	s.timeframe = stringParam(params, "timeframe", "1h")
	s.fastLen = intParam(params, "fast", 10)
	s.slowLen = intParam(params, "slow", 30)
	s.quantity = decimalParam(params, "quantity", decimal.NewFromInt(1))
	if s.fastLen <= 0 || s.slowLen <= 0 || s.fastLen >= s.slowLen {
		return fmt.Errorf("smacross: invalid fast/slow window (fast=%d slow=%d)", s.fastLen, s.slowLen)
	}
	return nil
}

// OnTick requests a fresh bar window each tick; the crossover decision
// itself happens in OnData once the window reply arrives.
func (s *Strategy) OnTick(_ context.Context, _ string, _ time.Time) ([]plugin.Action, error) {
	return []plugin.Action{
		plugin.FetchWindowAction{
			Symbol:    s.symbol,
			Timeframe: s.timeframe,
			Lookback:  s.slowLen,
		},
	}, nil
}

// OnData computes both SMAs over the returned window and emits a
// PlaceOrderAction on a crossover, holding at most one open position at a
// time.
func (s *Strategy) OnData(_ context.Context, payload map[string]any) ([]plugin.Action, error) {
	rawBars, _ := payload["bars"].([]any)
	if len(rawBars) < s.slowLen {
		return nil, nil
	}

	closes := make([]decimal.Decimal, 0, len(rawBars))
	for _, raw := range rawBars {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		bar, err := domain.BarFromPayload(m)
		if err != nil {
			return nil, fmt.Errorf("smacross: decode bar: %w", err)
		}
		closes = append(closes, bar.Close)
	}
	if len(closes) < s.slowLen {
		return nil, nil
	}

	fast := sma(closes, s.fastLen)
	slow := sma(closes, s.slowLen)

	switch {
	case fast.GreaterThan(slow) && !s.inPos:
		s.inPos = true
		return []plugin.Action{s.order(domain.OrderSideBuy)}, nil
	case fast.LessThan(slow) && s.inPos:
		s.inPos = false
		return []plugin.Action{s.order(domain.OrderSideSell)}, nil
	default:
		return nil, nil
	}
}

func (s *Strategy) order(side domain.OrderSide) plugin.Action {
	return plugin.PlaceOrderAction{
		Intent: domain.OrderIntent{
			ClientOrderID: uuid.NewString(),
			Symbol:        s.symbol,
			Side:          side,
			Kind:          domain.OrderKindMarket,
			TimeInForce:   domain.TimeInForceGTC,
			Quantity:      s.quantity,
		},
	}
}

func (s *Strategy) Close() error { return nil }

// sma averages the last n values of closes.
func sma(closes []decimal.Decimal, n int) decimal.Decimal {
	window := closes[len(closes)-n:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func decimalParam(params map[string]any, key string, def decimal.Decimal) decimal.Decimal {
	switch v := params[key].(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	return def
}
