package queue

import "sync/atomic"

// idAllocator hands out monotonically increasing, VM-unique item ids.
type idAllocator struct {
	next uint64
}

// allocate returns the next id, starting at 1.
func (a *idAllocator) allocate() ItemID {
	return ItemID(atomic.AddUint64(&a.next, 1))
}

// seed bumps the allocator so that subsequent ids exceed the given
// maximum; used by Load to prime the counter above anything restored
// from persistence (§4.9).
func (a *idAllocator) seed(max ItemID) {
	for {
		cur := atomic.LoadUint64(&a.next)
		if uint64(max) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&a.next, cur, uint64(max)) {
			return
		}
	}
}
