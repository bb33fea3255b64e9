package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/weaver-engine/weaver/internal/domain"
)

// PositionTracker maintains sign-aware position state per symbol for one
// run. A fill that reverses direction (a buy larger than the current
// short, or a sell larger than the current long) is split into a closing
// leg that realizes P&L against the prior average entry, followed by an
// opening leg in the new direction -- crossing through zero is never
// implicit, mirroring how a clearing house nets trades before settlement.
type PositionTracker struct {
	positions map[string]domain.Position
	runID     string
}

// NewPositionTracker creates an empty tracker for one run.
func NewPositionTracker(runID string) *PositionTracker {
	return &PositionTracker{positions: make(map[string]domain.Position), runID: runID}
}

// ApplyFill updates the position for fill.Symbol and returns the realized
// P&L delta contributed by this fill (zero unless the fill closes or
// reduces an existing position).
func (t *PositionTracker) ApplyFill(fill domain.Fill) decimal.Decimal {
	pos, ok := t.positions[fill.Symbol]
	if !ok {
		pos = domain.Position{RunID: t.runID, Symbol: fill.Symbol}
	}

	signedQty := fill.Quantity
	if fill.Side == domain.OrderSideSell {
		signedQty = signedQty.Neg()
	}

	realized := decimal.Zero
	switch {
	case pos.Quantity.IsZero():
		pos.Quantity = signedQty
		pos.AvgEntry = fill.Price
	case sameSign(pos.Quantity, signedQty):
		newQty := pos.Quantity.Add(signedQty)
		totalCost := pos.AvgEntry.Mul(pos.Quantity.Abs()).Add(fill.Price.Mul(signedQty.Abs()))
		pos.AvgEntry = totalCost.Div(newQty.Abs())
		pos.Quantity = newQty
	default:
		closingQty := decimal.Min(pos.Quantity.Abs(), signedQty.Abs())
		direction := decimal.NewFromInt(1)
		if pos.Quantity.IsNegative() {
			direction = decimal.NewFromInt(-1)
		}
		realized = fill.Price.Sub(pos.AvgEntry).Mul(closingQty).Mul(direction)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)

		remaining := signedQty.Abs().Sub(closingQty)
		newQty := pos.Quantity.Add(signedQty)
		pos.Quantity = newQty
		if remaining.IsPositive() {
			// Crossed through zero: the excess opens a position in the new
			// direction at the fill price.
			pos.AvgEntry = fill.Price
		} else if pos.Quantity.IsZero() {
			pos.AvgEntry = decimal.Zero
		}
	}

	t.positions[fill.Symbol] = pos
	return realized
}

// MarkToMarket recomputes unrealized P&L for symbol against the last
// traded price, leaving realized P&L and quantity untouched.
func (t *PositionTracker) MarkToMarket(symbol string, lastPrice decimal.Decimal) domain.Position {
	pos, ok := t.positions[symbol]
	if !ok {
		return domain.Position{RunID: t.runID, Symbol: symbol}
	}
	pos.UnrealizedPnL = lastPrice.Sub(pos.AvgEntry).Mul(pos.Quantity)
	t.positions[symbol] = pos
	return pos
}

// Get returns the current position for symbol (the zero position if flat
// or never traded).
func (t *PositionTracker) Get(symbol string) domain.Position {
	pos, ok := t.positions[symbol]
	if !ok {
		return domain.Position{RunID: t.runID, Symbol: symbol}
	}
	return pos
}

// All returns every tracked position, including flat ones that have
// traded at least once.
func (t *PositionTracker) All() []domain.Position {
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}
