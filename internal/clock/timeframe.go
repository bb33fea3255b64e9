package clock

import (
	"fmt"
	"time"
)

// Timeframe is one of the bar intervals runs can be scheduled against. All
// alignment math below is pure integer arithmetic on Unix nanoseconds --
// never a float -- so boundaries are exact regardless of how far in the
// past or future they are computed.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case Timeframe1m:
		return time.Minute, nil
	case Timeframe5m:
		return 5 * time.Minute, nil
	case Timeframe15m:
		return 15 * time.Minute, nil
	case Timeframe30m:
		return 30 * time.Minute, nil
	case Timeframe1h:
		return time.Hour, nil
	case Timeframe4h:
		return 4 * time.Hour, nil
	case Timeframe1d:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("clock: unknown timeframe %q", tf)
	}
}

// AlignDown returns the most recent timeframe boundary at or before t, in
// UTC. Alignment is anchored to the Unix epoch, so "1h" boundaries fall on
// the hour and "1d" boundaries fall on UTC midnight regardless of t's
// original location.
func (tf Timeframe) AlignDown(t time.Time) (time.Time, error) {
	dur, err := tf.Duration()
	if err != nil {
		return time.Time{}, err
	}
	utc := t.UTC()
	ns := utc.UnixNano()
	durNs := dur.Nanoseconds()
	rem := ns % durNs
	if rem < 0 {
		rem += durNs
	}
	aligned := ns - rem
	return time.Unix(0, aligned).UTC(), nil
}

// Next returns the boundary immediately after t.
func (tf Timeframe) Next(t time.Time) (time.Time, error) {
	aligned, err := tf.AlignDown(t)
	if err != nil {
		return time.Time{}, err
	}
	dur, _ := tf.Duration()
	return aligned.Add(dur), nil
}

// Boundaries returns every aligned boundary in (from, to], excluding from
// itself even when from already falls on a boundary, used by BacktestClock
// to enumerate ticks. Each boundary marks the close of the bar that starts
// at the previous one, so a run spanning exactly one day at "1h" yields 24
// ticks (01:00 .. 24:00), not 25 -- the run's start time is not itself a
// completed bar.
func (tf Timeframe) Boundaries(from, to time.Time) ([]time.Time, error) {
	dur, err := tf.Duration()
	if err != nil {
		return nil, err
	}
	start, err := tf.AlignDown(from)
	if err != nil {
		return nil, err
	}
	if !start.After(from) {
		start = start.Add(dur)
	}
	var out []time.Time
	for t := start; !t.After(to); t = t.Add(dur) {
		out = append(out, t)
	}
	return out, nil
}
