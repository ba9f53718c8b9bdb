package queue

import (
	"sync/atomic"
	"time"
)

const snapshotTTL = 1000 * time.Millisecond

type itemsSnapshot struct {
	items []Item
}

// snapshotCache backs ApproximateItems (§4.10): a bounded-staleness,
// read-mostly view. A miss CAS-bumps the expiry before doing the
// (comparatively expensive) read-locked rebuild, so concurrent callers
// racing the same miss return the previous, still-fresh-enough value
// instead of piling up on the rebuild.
type snapshotCache struct {
	expiresAtNano atomic.Int64
	value         atomic.Pointer[itemsSnapshot]
}

func (c *snapshotCache) get(now time.Time, rebuild func() []Item) []Item {
	if now.UnixNano() < c.expiresAtNano.Load() {
		if v := c.value.Load(); v != nil {
			return v.items
		}
	}

	prevExpiry := c.expiresAtNano.Load()
	newExpiry := now.Add(snapshotTTL).UnixNano()
	if c.expiresAtNano.CompareAndSwap(prevExpiry, newExpiry) {
		items := rebuild()
		c.value.Store(&itemsSnapshot{items: items})
		return items
	}

	// Another caller already claimed this miss; read whatever is
	// cached, even if stale, per §4.10's accepted-staleness contract.
	if v := c.value.Load(); v != nil {
		return v.items
	}
	return rebuild()
}

// ApproximateItems returns a view of every item that is at most ~1s
// stale under normal lock contention (§4.10, §8 boundary behavior).
func (q *BuildQueue) ApproximateItems() []Item {
	return q.snapshot.get(time.Now(), func() []Item {
		q.mu.RLock()
		defer q.mu.RUnlock()
		return q.store.all()
	})
}
