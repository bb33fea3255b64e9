package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeframe_AlignDown(t *testing.T) {
	ref := time.Date(2026, 7, 30, 14, 37, 12, 0, time.UTC)

	aligned, err := Timeframe1h.AlignDown(ref)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC), aligned)

	aligned, err = Timeframe1d.AlignDown(ref)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), aligned)

	aligned, err = Timeframe15m.AlignDown(ref)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC), aligned)
}

func TestTimeframe_Boundaries(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	bounds, err := Timeframe15m.Boundaries(from, to)
	require.NoError(t, err)
	require.Len(t, bounds, 4) // 00:15, 00:30, 00:45, 01:00 -- from itself is not a completed bar
	require.Equal(t, from.Add(15*time.Minute), bounds[0])
	require.Equal(t, to, bounds[len(bounds)-1])
}

func TestBacktestClock_DeterministicOrder(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)

	var ticks []time.Time
	c := NewBacktestClock(from, to, nil)
	c.OnTick(func(tick ClockTick) {
		ticks = append(ticks, tick.Time)
	})

	err := c.Start(context.Background(), "run-1", Timeframe1h)
	require.NoError(t, err)
	require.Equal(t, []time.Time{from.Add(time.Hour), to}, ticks)
}

func TestBacktestClock_StopHaltsEarly(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	var count int
	c := NewBacktestClock(from, to, nil)
	c.OnTick(func(ClockTick) {
		count++
		if count == 2 {
			c.Stop()
		}
	})

	err := c.Start(context.Background(), "run-1", Timeframe1h)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
