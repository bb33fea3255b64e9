package ordermanager

import (
	"sync"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
)

// dedupCache is the in-process fast path in front of the repository-level
// idempotency lookup: a duplicate Submit within the TTL window is answered
// from memory without a round trip to OrderStore. It is not a substitute
// for the durable (run_id, client_order_id) uniqueness constraint --
// OrderStore.Create still enforces that; this only saves a read on the hot
// path of a strategy resubmitting the same client_order_id in a loop.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	ttl     time.Duration
}

type dedupEntry struct {
	order    domain.OrderState
	recorded time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{entries: make(map[string]dedupEntry), ttl: ttl}
}

// lookup returns the cached order for key if it was recorded within the
// TTL window.
func (d *dedupCache) lookup(key string) (domain.OrderState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[key]
	if !ok || time.Since(entry.recorded) >= d.ttl {
		return domain.OrderState{}, false
	}
	return entry.order, true
}

func (d *dedupCache) record(key string, order domain.OrderState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = dedupEntry{order: order, recorded: time.Now()}
}

func (d *dedupCache) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for k, e := range d.entries {
		if now.Sub(e.recorded) >= d.ttl {
			delete(d.entries, k)
		}
	}
}
