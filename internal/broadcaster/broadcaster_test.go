package broadcaster

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

// recordingSink collects every published (type, payload) pair it receives.
type recordingSink struct {
	mu      sync.Mutex
	types   []string
	payload map[string][]byte
}

func newRecordingSink() *recordingSink {
	return &recordingSink{payload: make(map[string][]byte)}
}

func (s *recordingSink) Publish(_ context.Context, envelopeType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, envelopeType)
	s.payload[envelopeType] = payload
	return nil
}

func (s *recordingSink) seenTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestBroadcaster_FansOutToRegisteredSink(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	b := New(log, testLogger())
	defer b.Close()

	sink := newRecordingSink()
	b.Register("conn-1", sink, 8)
	defer b.Unregister("conn-1")

	_, err := log.Append(context.Background(), domain.Envelope{
		Type:    "run.completed",
		Payload: map[string]any{"status": "completed"},
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(sink.seenTypes()) == 1 })
	require.Equal(t, []string{"run.completed"}, sink.seenTypes())

	sink.mu.Lock()
	raw := sink.payload["run.completed"]
	sink.mu.Unlock()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "completed", decoded["status"])
}

func TestBroadcaster_UnregisterStopsDelivery(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	b := New(log, testLogger())
	defer b.Close()

	sink := newRecordingSink()
	b.Register("conn-1", sink, 8)

	_, err := log.Append(context.Background(), domain.Envelope{Type: "run.started"})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(sink.seenTypes()) == 1 })

	b.Unregister("conn-1")

	_, err = log.Append(context.Background(), domain.Envelope{Type: "run.started"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, sink.seenTypes(), 1)
}

func TestBroadcaster_MultipleSinksEachReceiveAll(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	b := New(log, testLogger())
	defer b.Close()

	sinkA := newRecordingSink()
	sinkB := newRecordingSink()
	b.Register("a", sinkA, 8)
	b.Register("b", sinkB, 8)
	defer b.Unregister("a")
	defer b.Unregister("b")

	for i := 0; i < 3; i++ {
		_, err := log.Append(context.Background(), domain.Envelope{Type: "live.fill"})
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return len(sinkA.seenTypes()) == 3 && len(sinkB.seenTypes()) == 3 })
}

func TestBroadcaster_FullBufferDropsWithoutBlocking(t *testing.T) {
	log := eventlog.NewMemoryLog(testLogger())
	b := New(log, testLogger())
	defer b.Close()

	blocking := &blockingSink{release: make(chan struct{})}
	b.Register("slow", blocking, 1)
	defer func() {
		close(blocking.release)
		b.Unregister("slow")
	}()

	for i := 0; i < 5; i++ {
		_, err := log.Append(context.Background(), domain.Envelope{Type: "tick"})
		require.NoError(t, err)
	}
	// No assertion beyond "doesn't deadlock" -- a full buffer must be
	// dropped, never block Append.
}

// blockingSink never returns from Publish until release is closed,
// simulating a slow or stuck connection.
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Publish(_ context.Context, _ string, _ []byte) error {
	<-s.release
	return nil
}
