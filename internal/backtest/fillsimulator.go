package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
)

// SlippageModel perturbs a simulated fill price away from the bar's
// reference price.
type SlippageModel struct {
	// Kind is "fixed_bps" (basis points of price) or "range_pct" (percentage
	// of the bar's high-low range). The zero value applies no slippage.
	Kind string
	// Value is the magnitude: basis points for "fixed_bps", a fraction in
	// [0,1] for "range_pct".
	Value decimal.Decimal
}

func (s SlippageModel) apply(side domain.OrderSide, price decimal.Decimal, bar domain.Bar) decimal.Decimal {
	if s.Value.IsZero() {
		return price
	}
	var delta decimal.Decimal
	switch s.Kind {
	case "fixed_bps":
		delta = price.Mul(s.Value).Div(decimal.NewFromInt(10000))
	case "range_pct":
		delta = bar.High.Sub(bar.Low).Mul(s.Value)
	default:
		return price
	}
	if side == domain.OrderSideBuy {
		return price.Add(delta)
	}
	return price.Sub(delta)
}

// CommissionModel computes the fee charged on one fill.
type CommissionModel struct {
	// Kind is "fixed", "per_share", or "percentage".
	Kind  string
	Value decimal.Decimal
}

func (c CommissionModel) apply(qty, price decimal.Decimal) decimal.Decimal {
	switch c.Kind {
	case "fixed":
		return c.Value
	case "per_share":
		return c.Value.Mul(qty)
	case "percentage":
		return qty.Mul(price).Mul(c.Value)
	default:
		return decimal.Zero
	}
}

// FillPolicy bundles the per-run configuration governing how orders fill
// against historical bars. The zero value is a no-slippage, no-commission
// policy, matching a frictionless backtest.
type FillPolicy struct {
	Slippage   SlippageModel
	Commission CommissionModel
}

// FillSimulator fills orders against cached bars deterministically: the
// same bar sequence and order sequence always produce the same fills,
// since it never consults wall-clock time or randomness.
type FillSimulator struct {
	policy FillPolicy
	cache  *BarCache
}

// NewFillSimulator builds a simulator over one run's bar cache.
func NewFillSimulator(cache *BarCache, policy FillPolicy) *FillSimulator {
	return &FillSimulator{policy: policy, cache: cache}
}

// SimResult is the outcome of simulating one order against the cache.
type SimResult struct {
	Filled   bool
	Rejected bool
	Reason   string
	Fill     domain.Fill
	Status   domain.OrderStatus
}

// Simulate runs order against the next bar after ts (market orders fill at
// that bar's open; stop orders fill at the stop price once that bar touches
// it; limit orders fill at the limit price when that bar's range crosses it;
// stop-limit orders need the stop touched and the limit crossed on that same
// bar). It never mutates intent or the cache.
func (s *FillSimulator) Simulate(intent domain.OrderIntent, orderID string, ts time.Time) (SimResult, error) {
	switch intent.Kind {
	case domain.OrderKindMarket:
		return s.simulateMarket(intent, orderID, ts)
	case domain.OrderKindLimit:
		return s.simulateLimit(intent, orderID, ts)
	case domain.OrderKindStop:
		return s.simulateStop(intent, orderID, ts)
	case domain.OrderKindStopLimit:
		return s.simulateStopLimit(intent, orderID, ts)
	default:
		return SimResult{}, fmt.Errorf("backtest: unsupported order kind %q", intent.Kind)
	}
}

func (s *FillSimulator) simulateMarket(intent domain.OrderIntent, orderID string, ts time.Time) (SimResult, error) {
	bar, ok := s.cache.Next(ts)
	if !ok {
		return SimResult{Rejected: true, Reason: "no bar available after order time", Status: domain.OrderStatusRejected}, nil
	}
	price := s.policy.Slippage.apply(intent.Side, bar.Open, bar)
	return s.fillAt(intent, orderID, bar.Ts, price), nil
}

func (s *FillSimulator) simulateLimit(intent domain.OrderIntent, orderID string, ts time.Time) (SimResult, error) {
	bar, ok := s.cache.Next(ts)
	if !ok {
		return SimResult{Rejected: true, Reason: "no bar available after order time", Status: domain.OrderStatusRejected}, nil
	}
	crosses := (intent.Side == domain.OrderSideBuy && bar.Low.LessThanOrEqual(intent.LimitPrice)) ||
		(intent.Side == domain.OrderSideSell && bar.High.GreaterThanOrEqual(intent.LimitPrice))
	if !crosses {
		return SimResult{Filled: false, Status: domain.OrderStatusAccepted}, nil
	}
	return s.fillAt(intent, orderID, bar.Ts, intent.LimitPrice), nil
}

func (s *FillSimulator) simulateStop(intent domain.OrderIntent, orderID string, ts time.Time) (SimResult, error) {
	bar, ok := s.cache.Next(ts)
	if !ok {
		return SimResult{Rejected: true, Reason: "no bar available after order time", Status: domain.OrderStatusRejected}, nil
	}
	touched := (intent.Side == domain.OrderSideBuy && bar.High.GreaterThanOrEqual(intent.StopPrice)) ||
		(intent.Side == domain.OrderSideSell && bar.Low.LessThanOrEqual(intent.StopPrice))
	if !touched {
		return SimResult{Filled: false, Status: domain.OrderStatusAccepted}, nil
	}
	price := s.policy.Slippage.apply(intent.Side, intent.StopPrice, bar)
	return s.fillAt(intent, orderID, bar.Ts, price), nil
}

// simulateStopLimit only fills once the stop price has been touched and the
// bar's range also crosses the limit price on the same bar -- a
// simplification of the usual two-phase "stop triggers, then rests as a
// limit order" behavior, consistent with this simulator's synchronous,
// single-bar-lookahead model (there is no later tick to re-evaluate a
// resting order against).
func (s *FillSimulator) simulateStopLimit(intent domain.OrderIntent, orderID string, ts time.Time) (SimResult, error) {
	bar, ok := s.cache.Next(ts)
	if !ok {
		return SimResult{Rejected: true, Reason: "no bar available after order time", Status: domain.OrderStatusRejected}, nil
	}
	touched := (intent.Side == domain.OrderSideBuy && bar.High.GreaterThanOrEqual(intent.StopPrice)) ||
		(intent.Side == domain.OrderSideSell && bar.Low.LessThanOrEqual(intent.StopPrice))
	if !touched {
		return SimResult{Filled: false, Status: domain.OrderStatusAccepted}, nil
	}
	crosses := (intent.Side == domain.OrderSideBuy && bar.Low.LessThanOrEqual(intent.LimitPrice)) ||
		(intent.Side == domain.OrderSideSell && bar.High.GreaterThanOrEqual(intent.LimitPrice))
	if !crosses {
		return SimResult{Filled: false, Status: domain.OrderStatusAccepted}, nil
	}
	return s.fillAt(intent, orderID, bar.Ts, intent.LimitPrice), nil
}

func (s *FillSimulator) fillAt(intent domain.OrderIntent, orderID string, ts time.Time, price decimal.Decimal) SimResult {
	commission := s.policy.Commission.apply(intent.Quantity, price)
	return SimResult{
		Filled: true,
		Status: domain.OrderStatusFilled,
		Fill: domain.Fill{
			OrderID:    orderID,
			RunID:      intent.RunID,
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Quantity:   intent.Quantity,
			Price:      price,
			Commission: commission,
			ExecutedAt: ts,
		},
	}
}
