package queue

import (
	"sync"
	"time"
)

// NodeLister supplies the fleet's nodes to the flyweight fast path
// (§4.7), independent of which executors are currently parked. The
// queue never manages node lifecycle itself (out of scope, §1).
type NodeLister interface {
	// Nodes returns every node currently known to the fleet.
	Nodes() []Node
	// MasterNode returns the always-included built-in node, or nil if
	// this deployment has none.
	MasterNode() Node
}

// Config wires a BuildQueue's external collaborators.
type Config struct {
	Nodes     NodeLister
	Resources *ResourceController
}

// BuildQueue is the scheduler described by the specification: quiet
// period admission, the waiting/blocked/buildable/pending lifecycle,
// and assignment of buildable items to parked executors.
//
// Concurrency model (§5): a single fair reader-writer lock (mu) guards
// the four stage containers and the parked-offer map. maintain() and
// Pop() are additionally serialized against each other by opMu, a
// coarser lock than mu, so a maintainer never races an executor that
// is mid-parking.
type BuildQueue struct {
	mu   sync.RWMutex
	opMu sync.Mutex

	store     *itemStore
	ids       idAllocator
	offers    *offerRegistry
	registry  *extensionRegistry
	resources *ResourceController
	nodes     NodeLister
	persist   Persistence

	quiescingMu sync.RWMutex
	quiescing   bool

	snapshot snapshotCache

	stopTimer func()
}

// New constructs an empty BuildQueue ready to accept Schedule calls.
func New(cfg Config) *BuildQueue {
	resources := cfg.Resources
	if resources == nil {
		resources = NewResourceController()
	}
	q := &BuildQueue{
		store:     newItemStore(),
		offers:    newOfferRegistry(),
		registry:  newExtensionRegistry(),
		resources: resources,
		nodes:     cfg.Nodes,
	}
	q.stopTimer = q.startMaintenanceTimer(5 * time.Second)
	return q
}

// SetPersistence installs the Persistence implementation used by Save
// and Load. It is optional; a BuildQueue with none installed treats
// both calls as no-ops.
func (q *BuildQueue) SetPersistence(p Persistence) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persist = p
}

// Close stops the periodic maintenance backstop timer (§5's "weak
// reference" liveness timer; since Go has no finalizer-driven weak
// refs, an explicit Close plays that role instead).
func (q *BuildQueue) Close() {
	if q.stopTimer != nil {
		q.stopTimer()
	}
}

// AddDecisionHandler registers a QueueDecisionHandler consulted on
// every Schedule call.
func (q *BuildQueue) AddDecisionHandler(h QueueDecisionHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registry.AddDecisionHandler(h)
}

// AddDispatcher registers a QueueTaskDispatcher consulted during block
// evaluation and the JobOffer contract.
func (q *BuildQueue) AddDispatcher(d QueueTaskDispatcher) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registry.AddDispatcher(d)
}

// SetSorter installs (or clears, with nil) the QueueSorter used in
// Phase C of maintenance.
func (q *BuildQueue) SetSorter(s QueueSorter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registry.sorter = s
}

// Sorter returns the currently installed QueueSorter, or nil.
func (q *BuildQueue) Sorter() QueueSorter {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.registry.sorter
}

// SetLoadBalancer installs the LoadBalancer used in Phase C.
func (q *BuildQueue) SetLoadBalancer(lb LoadBalancer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registry.loadBalancer = lb
}

// LoadBalancer returns the currently installed LoadBalancer.
func (q *BuildQueue) LoadBalancer() LoadBalancer {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.registry.loadBalancer
}

// SetQuiescing toggles whether the controller is quiescing; while
// quiescing, the flyweight fast path (§4.7) is skipped.
func (q *BuildQueue) SetQuiescing(v bool) {
	q.quiescingMu.Lock()
	defer q.quiescingMu.Unlock()
	q.quiescing = v
}

func (q *BuildQueue) isQuiescing() bool {
	q.quiescingMu.RLock()
	defer q.quiescingMu.RUnlock()
	return q.quiescing
}

func stripNilActions(actions []Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// shouldScheduleAnyway ORs QueueAction.ShouldSchedule from both sides,
// per §4.1 step 4.
func shouldScheduleAnyway(existing, incoming []Action) bool {
	for _, a := range existing {
		if qa, ok := a.(QueueAction); ok && qa.ShouldSchedule(incoming) {
			return true
		}
	}
	for _, a := range incoming {
		if qa, ok := a.(QueueAction); ok && qa.ShouldSchedule(existing) {
			return true
		}
	}
	return false
}

// Schedule admits a task into the queue, coalescing duplicates and
// resetting/pulling-in their due time, per §4.1. It returns the new
// WaitingItem, or nil if the submission was vetoed or folded into an
// existing duplicate.
func (q *BuildQueue) Schedule(task Task, quietPeriod time.Duration, actions ...Action) *WaitingItem {
	actions = stripNilActions(actions)
	if quietPeriod < 0 {
		quietPeriod = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.registry.shouldSchedule(task, actions) {
		logDecision(decision{Event: "vetoed", TaskName: task.FullDisplayName()})
		return nil
	}

	now := time.Now()
	due := now.Add(quietPeriod)

	var existing []Item
	for _, it := range q.store.all() {
		if it.Task().Equal(task) {
			existing = append(existing, it)
		}
	}

	var duplicates []Item
	for _, it := range existing {
		if !shouldScheduleAnyway(it.Actions(), actions) {
			duplicates = append(duplicates, it)
		}
	}

	if len(duplicates) == 0 {
		id := q.ids.allocate()
		w := newWaitingItem(id, task, actions, due, now)
		q.store.pushWaiting(w)
		q.scheduleMaintenanceLocked()
		logDecision(decision{Event: "admitted", TaskName: task.FullDisplayName(), ItemID: id})
		return w
	}

	for _, d := range duplicates {
		for _, a := range actions {
			if fa, ok := a.(FoldableAction); ok {
				fa.FoldIntoExisting(d, task, actions)
			}
		}
	}

	for _, d := range duplicates {
		w, ok := d.(*WaitingItem)
		if !ok {
			continue
		}
		if quietPeriod <= 0 {
			if due.Before(w.DueAt) {
				w.DueAt = due
				q.store.reinsertWaiting(w)
			}
		} else {
			if due.After(w.DueAt) {
				w.DueAt = due
				q.store.reinsertWaiting(w)
			}
		}
	}

	logDecision(decision{Event: "coalesced", TaskName: task.FullDisplayName()})
	return nil
}

// Cancel removes the first occurrence of task across waiting, blocked,
// then buildable (in that order), resolving its future as cancelled.
// Pending items are not cancellable via this path (§4.2).
func (q *BuildQueue) Cancel(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.store.waiting {
		if w.task.Equal(task) {
			q.store.removeWaiting(w.id)
			w.future.Resolve(OutcomeCancelled)
			return true
		}
	}
	for id, b := range q.store.blocked {
		if b.task.Equal(task) {
			q.store.removeBlocked(id)
			b.future.Resolve(OutcomeCancelled)
			return true
		}
	}
	for id, b := range q.store.buildable {
		if b.task.Equal(task) {
			q.store.removeBuildable(id)
			b.future.Resolve(OutcomeCancelled)
			return true
		}
	}
	return false
}

// CancelItem removes the specific item by identity. Pending items
// cannot be cancelled this way (§4.2, §9 open question).
func (q *BuildQueue) CancelItem(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelByIDLocked(item.ID())
}

func (q *BuildQueue) cancelByIDLocked(id ItemID) bool {
	if w, ok := q.store.removeWaiting(id); ok {
		w.future.Resolve(OutcomeCancelled)
		return true
	}
	if b, ok := q.store.blocked[id]; ok {
		q.store.removeBlocked(id)
		b.future.Resolve(OutcomeCancelled)
		return true
	}
	if b, ok := q.store.buildable[id]; ok {
		q.store.removeBuildable(id)
		b.future.Resolve(OutcomeCancelled)
		return true
	}
	return false
}

// Clear cancels everything in waiting, blocked, and buildable, then
// requests maintenance.
func (q *BuildQueue) Clear() {
	q.mu.Lock()
	for _, w := range q.store.waiting {
		w.future.Resolve(OutcomeCancelled)
	}
	q.store.waiting = q.store.waiting[:0]
	for id, b := range q.store.blocked {
		b.future.Resolve(OutcomeCancelled)
		delete(q.store.blocked, id)
	}
	for id, b := range q.store.buildable {
		b.future.Resolve(OutcomeCancelled)
		delete(q.store.buildable, id)
	}
	q.mu.Unlock()
	q.ScheduleMaintenance()
}

// Items returns every item across all four stages.
func (q *BuildQueue) Items() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.all()
}

// ItemsFor returns every item, in any stage, for the given task.
func (q *BuildQueue) ItemsFor(task Task) []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []Item
	for _, it := range q.store.all() {
		if it.Task().Equal(task) {
			out = append(out, it)
		}
	}
	return out
}

// ItemByID returns the item with the given id, if it is still queued.
func (q *BuildQueue) ItemByID(id ItemID) (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.item(id)
}

// ItemForTask returns the first item found for task, if any.
func (q *BuildQueue) ItemForTask(task Task) (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, it := range q.store.all() {
		if it.Task().Equal(task) {
			return it, true
		}
	}
	return nil, false
}

// Contains reports whether task has any item currently queued.
func (q *BuildQueue) Contains(task Task) bool {
	_, ok := q.ItemForTask(task)
	return ok
}

// IsEmpty reports whether the queue holds no items at all.
func (q *BuildQueue) IsEmpty() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.isEmpty()
}

// IsPending reports whether task currently has a pending item.
func (q *BuildQueue) IsPending(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, p := range q.store.pending {
		if p.task.Equal(task) {
			return true
		}
	}
	return false
}

// BuildableItems returns a snapshot of every currently buildable item.
func (q *BuildQueue) BuildableItems() []*BuildableItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*BuildableItem, 0, len(q.store.buildable))
	for _, b := range q.store.buildable {
		out = append(out, b)
	}
	return out
}

// BuildableItemsForNode returns buildable items node would accept,
// independent of whether any executor is currently parked for it.
func (q *BuildQueue) BuildableItemsForNode(node Node) []*BuildableItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*BuildableItem
	for _, b := range q.store.buildable {
		if node.CanTake(b) == nil {
			out = append(out, b)
		}
	}
	return out
}

// PendingItems returns a snapshot of every currently pending item.
func (q *BuildQueue) PendingItems() []*PendingItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*PendingItem, 0, len(q.store.pending))
	for _, p := range q.store.pending {
		out = append(out, p)
	}
	return out
}

// UnblockedItems returns every buildable or pending item: those that
// are not currently blocked on anything.
func (q *BuildQueue) UnblockedItems() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Item, 0, len(q.store.buildable)+len(q.store.pending))
	for _, b := range q.store.buildable {
		out = append(out, b)
	}
	for _, p := range q.store.pending {
		out = append(out, p)
	}
	return out
}

// UnblockedTasks returns the distinct tasks behind UnblockedItems.
func (q *BuildQueue) UnblockedTasks() []Task {
	items := q.UnblockedItems()
	seen := make(map[string]bool, len(items))
	out := make([]Task, 0, len(items))
	for _, it := range items {
		name := it.Task().FullDisplayName()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, it.Task())
	}
	return out
}

// CountBuildableItems returns the number of buildable items.
func (q *BuildQueue) CountBuildableItems() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.store.buildable)
}

func resolvedLabel(task Task, actions []Action) Label {
	for _, a := range actions {
		if la, ok := a.(LabelAssignmentAction); ok {
			if lbl, ok2 := la.AssignedLabel(task); ok2 {
				return lbl
			}
		}
	}
	return task.AssignedLabel()
}

// CountBuildableItemsFor returns the number of buildable items whose
// effective label (task default, or a LabelAssignmentAction override)
// equals label.
func (q *BuildQueue) CountBuildableItemsFor(label Label) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, b := range q.store.buildable {
		if resolvedLabel(b.task, b.actions) == label {
			n++
		}
	}
	return n
}
