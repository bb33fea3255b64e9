// Package backtest implements the per-run historical-window server and
// deterministic fill simulator described for BacktestEngine: a bar cache,
// a fill simulator, a position tracker, and run-completion statistics.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
)

// BarCache preloads one symbol/timeframe span from the bar repository and
// serves windowed reads from memory for the lifetime of a run, avoiding a
// database round trip on every backtest.FetchWindow.
type BarCache struct {
	symbol    string
	timeframe string
	bars      []domain.Bar
}

// NewBarCache loads [from, to] for symbol/timeframe from store into memory.
func NewBarCache(ctx context.Context, store domain.BarStore, symbol, timeframe string, from, to time.Time) (*BarCache, error) {
	bars, err := store.ListRange(ctx, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("backtest: load bar cache: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })
	return &BarCache{symbol: symbol, timeframe: timeframe, bars: bars}, nil
}

// Window returns the contiguous bars ending at (and including) endTs,
// going back lookback bars. If fewer than lookback bars precede endTs, it
// returns as many as are available.
func (c *BarCache) Window(endTs time.Time, lookback int) []domain.Bar {
	end := sort.Search(len(c.bars), func(i int) bool { return c.bars[i].Ts.After(endTs) })
	start := end - lookback
	if start < 0 {
		start = 0
	}
	out := make([]domain.Bar, end-start)
	copy(out, c.bars[start:end])
	return out
}

// At returns the bar exactly at ts, if present.
func (c *BarCache) At(ts time.Time) (domain.Bar, bool) {
	i := sort.Search(len(c.bars), func(i int) bool { return !c.bars[i].Ts.Before(ts) })
	if i < len(c.bars) && c.bars[i].Ts.Equal(ts) {
		return c.bars[i], true
	}
	return domain.Bar{}, false
}

// Next returns the first bar strictly after ts, grounding "next-bar-open"
// market fill semantics.
func (c *BarCache) Next(ts time.Time) (domain.Bar, bool) {
	i := sort.Search(len(c.bars), func(i int) bool { return c.bars[i].Ts.After(ts) })
	if i < len(c.bars) {
		return c.bars[i], true
	}
	return domain.Bar{}, false
}

// All returns every cached bar in ascending time order.
func (c *BarCache) All() []domain.Bar {
	return c.bars
}
