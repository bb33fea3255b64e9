package eventlog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weaver-engine/weaver/internal/domain"
)

// newMemoryForTest is the only constructor exercised here; PostgresLog,
// which needs a live database, is not covered by these tests. The table below is still written against the Log
// interface so that adding PostgresLog to it later is a one-line change.
func newMemoryForTest(t *testing.T) Log {
	t.Helper()
	return NewMemoryLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testLoggers(t *testing.T) []struct {
	name string
	new  func(t *testing.T) Log
} {
	t.Helper()
	return []struct {
		name string
		new  func(t *testing.T) Log
	}{
		{name: "memory", new: newMemoryForTest},
	}
}

func TestLog_AppendAssignsIncreasingSeq(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			var lastSeq int64
			for i := 0; i < 5; i++ {
				seq, err := log.Append(ctx, domain.Envelope{Type: "test.event", CorrID: "c1"})
				require.NoError(t, err)
				require.Greater(t, seq, lastSeq)
				lastSeq = seq
			}
		})
	}
}

func TestLog_ReadFromReturnsInOrder(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				_, err := log.Append(ctx, domain.Envelope{Type: "test.event", CorrID: "c1"})
				require.NoError(t, err)
			}

			recs, err := log.ReadFrom(ctx, 0, 100)
			require.NoError(t, err)
			require.Len(t, recs, 10)
			for i := 1; i < len(recs); i++ {
				require.Greater(t, recs[i].Seq, recs[i-1].Seq)
			}

			// Replay from the middle picks up only what's left.
			mid := recs[4].Seq
			rest, err := log.ReadFrom(ctx, mid, 100)
			require.NoError(t, err)
			require.Len(t, rest, 5)
		})
	}
}

func TestLog_SubscribeFuncDispatchIsSynchronousAndOrdered(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			var seenA, seenB []string
			log.SubscribeFunc([]string{"*"}, nil, func(env domain.Envelope) {
				seenA = append(seenA, env.ID)
			})
			log.SubscribeFunc([]string{"*"}, nil, func(env domain.Envelope) {
				seenB = append(seenB, env.ID)
			})

			_, err := log.Append(ctx, domain.Envelope{ID: "e1", Type: "test.event"})
			require.NoError(t, err)
			// Because dispatch happens inside Append, both subscribers
			// must have already observed the envelope by the time Append
			// returns -- no goroutine scheduling race to wait out.
			require.Equal(t, []string{"e1"}, seenA)
			require.Equal(t, []string{"e1"}, seenB)
		})
	}
}

func TestLog_SubscribeFilterExcludesNonMatching(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			var seen []string
			log.SubscribeFunc([]string{"orders.accepted"}, nil, func(env domain.Envelope) {
				seen = append(seen, env.Type)
			})

			_, err := log.Append(ctx, domain.Envelope{Type: "orders.rejected"})
			require.NoError(t, err)
			_, err = log.Append(ctx, domain.Envelope{Type: "orders.accepted"})
			require.NoError(t, err)

			require.Equal(t, []string{"orders.accepted"}, seen)
		})
	}
}

func TestLog_SubscriberPanicIsIsolated(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			var secondSaw bool
			log.SubscribeFunc([]string{"*"}, nil, func(domain.Envelope) {
				panic("boom")
			})
			log.SubscribeFunc([]string{"*"}, nil, func(domain.Envelope) {
				secondSaw = true
			})

			require.NotPanics(t, func() {
				_, err := log.Append(ctx, domain.Envelope{Type: "test.event"})
				require.NoError(t, err)
			})
			require.True(t, secondSaw)
		})
	}
}

func TestLog_UnsubscribeStopsDelivery(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			count := 0
			subID := log.SubscribeFunc([]string{"*"}, nil, func(domain.Envelope) {
				count++
			})
			_, err := log.Append(ctx, domain.Envelope{Type: "test.event"})
			require.NoError(t, err)
			require.Equal(t, 1, count)

			log.Unsubscribe(subID)
			_, err = log.Append(ctx, domain.Envelope{Type: "test.event"})
			require.NoError(t, err)
			require.Equal(t, 1, count)
		})
	}
}

func TestLog_DispatchIsRegistrationOrder(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			const subs = 20
			var order []int
			for i := 0; i < subs; i++ {
				i := i
				log.SubscribeFunc([]string{"*"}, nil, func(domain.Envelope) {
					order = append(order, i)
				})
			}

			_, err := log.Append(ctx, domain.Envelope{Type: "test.event"})
			require.NoError(t, err)

			want := make([]int, subs)
			for i := range want {
				want[i] = i
			}
			require.Equal(t, want, order, "dispatch order must match subscriber registration order, not map iteration order")
		})
	}
}

func TestLog_ChannelSubscribeDelivers(t *testing.T) {
	for _, tc := range testLoggers(t) {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.new(t)
			ctx := context.Background()

			_, ch := log.Subscribe([]string{"*"}, nil)
			_, err := log.Append(ctx, domain.Envelope{ID: "e1", Type: "test.event"})
			require.NoError(t, err)

			select {
			case env := <-ch:
				require.Equal(t, "e1", env.ID)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for envelope")
			}
		})
	}
}
