package queue

import "container/heap"

// waitingHeap orders WaitingItems by (DueAt, ID) ascending and
// implements container/heap.Interface, the same pattern the original
// scheduler's priority queue used for its aged-priority ordering.
type waitingHeap []*WaitingItem

func (h waitingHeap) Len() int { return len(h) }

func (h waitingHeap) Less(i, j int) bool {
	if !h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].DueAt.Before(h[j].DueAt)
	}
	return h[i].id < h[j].id
}

func (h waitingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *waitingHeap) Push(x interface{}) {
	*h = append(*h, x.(*WaitingItem))
}

func (h *waitingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// itemStore holds the four typed stage containers plus waiting-set
// ordering. It is a plain, non-thread-safe collection: all access is
// serialized by BuildQueue's fair reader-writer lock, as §5 specifies.
type itemStore struct {
	waiting   waitingHeap
	blocked   map[ItemID]*BlockedItem
	buildable map[ItemID]*BuildableItem
	pending   map[ItemID]*PendingItem
}

func newItemStore() *itemStore {
	return &itemStore{
		waiting:   make(waitingHeap, 0),
		blocked:   make(map[ItemID]*BlockedItem),
		buildable: make(map[ItemID]*BuildableItem),
		pending:   make(map[ItemID]*PendingItem),
	}
}

func (s *itemStore) pushWaiting(w *WaitingItem) {
	heap.Push(&s.waiting, w)
}

// peekWaiting returns the smallest (DueAt, ID) waiting item without
// removing it, or nil if the waiting set is empty.
func (s *itemStore) peekWaiting() *WaitingItem {
	if len(s.waiting) == 0 {
		return nil
	}
	return s.waiting[0]
}

// popWaiting removes and returns the smallest waiting item.
func (s *itemStore) popWaiting() *WaitingItem {
	if len(s.waiting) == 0 {
		return nil
	}
	return heap.Pop(&s.waiting).(*WaitingItem)
}

// reinsertWaiting re-establishes heap order after a DueAt mutation on
// an item already present in the waiting set (invariant 2: ordering
// must survive timestamp mutation).
func (s *itemStore) reinsertWaiting(w *WaitingItem) {
	for i, cand := range s.waiting {
		if cand == w {
			heap.Fix(&s.waiting, i)
			return
		}
	}
}

// removeWaiting removes a specific waiting item by identity, if present.
func (s *itemStore) removeWaiting(id ItemID) (*WaitingItem, bool) {
	for i, w := range s.waiting {
		if w.id == id {
			heap.Remove(&s.waiting, i)
			return w, true
		}
	}
	return nil, false
}

func (s *itemStore) putBlocked(b *BlockedItem)     { s.blocked[b.id] = b }
func (s *itemStore) removeBlocked(id ItemID)       { delete(s.blocked, id) }
func (s *itemStore) putBuildable(b *BuildableItem) { s.buildable[b.id] = b }
func (s *itemStore) removeBuildable(id ItemID)     { delete(s.buildable, id) }
func (s *itemStore) putPending(p *PendingItem)     { s.pending[p.id] = p }
func (s *itemStore) removePending(id ItemID)       { delete(s.pending, id) }

// item returns the live item with the given id from whichever stage it
// currently resides in.
func (s *itemStore) item(id ItemID) (Item, bool) {
	for _, w := range s.waiting {
		if w.id == id {
			return w, true
		}
	}
	if b, ok := s.blocked[id]; ok {
		return b, true
	}
	if b, ok := s.buildable[id]; ok {
		return b, true
	}
	if p, ok := s.pending[id]; ok {
		return p, true
	}
	return nil, false
}

// isEmpty reports whether all four containers are empty.
func (s *itemStore) isEmpty() bool {
	return len(s.waiting) == 0 && len(s.blocked) == 0 && len(s.buildable) == 0 && len(s.pending) == 0
}

// allNonPending returns a snapshot slice of every item in waiting,
// blocked, and buildable (in that order) -- the set §4.9 persists.
func (s *itemStore) allNonPending() []Item {
	out := make([]Item, 0, len(s.waiting)+len(s.blocked)+len(s.buildable))
	for _, w := range s.waiting {
		out = append(out, w)
	}
	for _, b := range s.blocked {
		out = append(out, b)
	}
	for _, b := range s.buildable {
		out = append(out, b)
	}
	return out
}

// all returns a snapshot of every item across all four stages.
func (s *itemStore) all() []Item {
	out := s.allNonPending()
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// taskInBuildableOrPending reports whether any buildable or pending
// item currently holds this task (§4.5 concurrency guard).
func (s *itemStore) taskInBuildableOrPending(task Task) bool {
	for _, b := range s.buildable {
		if b.task.Equal(task) {
			return true
		}
	}
	for _, p := range s.pending {
		if p.task.Equal(task) {
			return true
		}
	}
	return false
}
