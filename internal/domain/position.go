package domain

import "github.com/shopspring/decimal"

// Position is the running, sign-aware inventory for one symbol within a
// single run. Quantity is negative for a short position. Maintained by
// PositionTracker; not persisted, and exposed only through the backtest
// engine's Positions accessor (completion statistics do not include it).
type Position struct {
	RunID         string
	Symbol        string
	Quantity      decimal.Decimal // signed: negative = short
	AvgEntry      decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// IsFlat reports whether the position currently carries no inventory.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool {
	return p.Quantity.IsNegative()
}
