package backtest

import (
	"github.com/shopspring/decimal"
)

// Stats summarizes a completed run. Sharpe, Sortino, and MaxDrawdown are
// reserved fields: callers may report them as zero until a volatility
// model is wired in, without breaking the shape consumers depend on.
type Stats struct {
	TotalReturn      decimal.Decimal
	AnnualizedReturn decimal.Decimal
	WinRate          decimal.Decimal
	ProfitFactor     decimal.Decimal
	Sharpe           decimal.Decimal
	Sortino          decimal.Decimal
	MaxDrawdown      decimal.Decimal
}

// StatsCollector accumulates realized trade outcomes and equity samples
// over a run and derives Stats on demand.
type StatsCollector struct {
	startingEquity decimal.Decimal
	equity         decimal.Decimal
	wins           int
	losses         int
	grossProfit    decimal.Decimal
	grossLoss      decimal.Decimal
	tradingDays    int
}

// NewStatsCollector seeds the collector with the run's starting equity.
func NewStatsCollector(startingEquity decimal.Decimal) *StatsCollector {
	return &StatsCollector{startingEquity: startingEquity, equity: startingEquity}
}

// RecordRealized folds one realized P&L amount (from PositionTracker) into
// the win/loss and gross-profit/gross-loss tallies.
func (s *StatsCollector) RecordRealized(pnl decimal.Decimal) {
	s.equity = s.equity.Add(pnl)
	switch {
	case pnl.IsPositive():
		s.wins++
		s.grossProfit = s.grossProfit.Add(pnl)
	case pnl.IsNegative():
		s.losses++
		s.grossLoss = s.grossLoss.Add(pnl.Abs())
	}
}

// AdvanceDay marks one more trading day elapsed, used for annualization.
func (s *StatsCollector) AdvanceDay() {
	s.tradingDays++
}

// Compute derives final Stats from the accumulated record.
func (s *StatsCollector) Compute() Stats {
	stats := Stats{}
	if s.startingEquity.IsPositive() {
		stats.TotalReturn = s.equity.Sub(s.startingEquity).Div(s.startingEquity)
	}
	if s.tradingDays > 0 {
		const tradingDaysPerYear = 252
		annualizationFactor := decimal.NewFromInt(tradingDaysPerYear).Div(decimal.NewFromInt(int64(s.tradingDays)))
		stats.AnnualizedReturn = stats.TotalReturn.Mul(annualizationFactor)
	}
	totalTrades := s.wins + s.losses
	if totalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(s.wins)).Div(decimal.NewFromInt(int64(totalTrades)))
	}
	if !s.grossLoss.IsZero() {
		stats.ProfitFactor = s.grossProfit.Div(s.grossLoss)
	} else if s.grossProfit.IsPositive() {
		stats.ProfitFactor = s.grossProfit
	}
	return stats
}
