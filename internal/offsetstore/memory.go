// Package offsetstore provides an in-memory domain.OffsetStore for tests
// and a RunConsumer helper that ties together an eventlog.Log and a
// domain.OffsetStore into a "deliver, then commit" consumer loop.
package offsetstore

import (
	"context"
	"sync"

	"github.com/weaver-engine/weaver/internal/domain"
)

// Memory is an in-memory domain.OffsetStore, mutex-protected.
type Memory struct {
	mu      sync.Mutex
	offsets map[string]int64
}

// NewMemory creates an empty in-memory offset store.
func NewMemory() *Memory {
	return &Memory{offsets: make(map[string]int64)}
}

func (m *Memory) Get(_ context.Context, consumerName string) (domain.ConsumerOffset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ConsumerOffset{ConsumerName: consumerName, Seq: m.offsets[consumerName]}, nil
}

func (m *Memory) Set(_ context.Context, consumerName string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[consumerName] = seq
	return nil
}

var _ domain.OffsetStore = (*Memory)(nil)
