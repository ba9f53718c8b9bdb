package queue

import (
	"time"

	"github.com/ridgeci/ridgeline/observability"
)

// ScheduleMaintenance wakes exactly one parked idle executor (the
// first JobOffer with no assigned work unit); that executor re-enters
// Pop, runs Maintain itself, and continues (§4.3). Which offer is
// woken when several are idle is unspecified -- see DESIGN.md's open
// question on this.
func (q *BuildQueue) ScheduleMaintenance() {
	q.offers.wakeOneIdle()
}

// scheduleMaintenanceLocked is the same operation, named for call
// sites already holding q.mu (the offer registry has its own lock, so
// this never deadlocks against it).
func (q *BuildQueue) scheduleMaintenanceLocked() {
	q.offers.wakeOneIdle()
}

// isStillBlocked implements §4.4: a task is blocked if it says so
// directly, if its resources conflict, or if any dispatcher objects.
func (q *BuildQueue) isStillBlocked(item Item) bool {
	task := item.Task()
	if task.IsNonBlocking() {
		return false
	}
	if task.IsBuildBlocked() {
		return true
	}
	if task.CauseOfBlockage() != "" {
		return true
	}
	if q.resources.Conflicts(task.ResourceList()) {
		return true
	}
	if q.registry.canRun(item) != nil {
		return true
	}
	return false
}

// concurrencyAllowsLocked implements §4.5; callers must already hold
// at least a read lock on q.mu.
func (q *BuildQueue) concurrencyAllowsLocked(task Task) bool {
	if task.IsConcurrentBuild() {
		return true
	}
	return !q.store.taskInBuildableOrPending(task)
}

// Maintain runs the three-phase maintenance pass described in §4.3. At
// most one call is in flight at a time, and it is mutually exclusive
// with Pop (§5).
func (q *BuildQueue) Maintain() {
	q.opMu.Lock()
	defer q.opMu.Unlock()

	start := time.Now()
	defer func() { observability.MaintenanceDuration.Observe(time.Since(start).Seconds()) }()

	q.phaseUnblock()
	q.phaseDrainWaiting()
	q.phaseDispatch()

	q.recordStageMetrics()
}

// recordStageMetrics publishes the current depth of each stage and the
// age of the oldest waiting item, read fresh at the end of every pass.
func (q *BuildQueue) recordStageMetrics() {
	q.mu.RLock()
	waiting, blocked := len(q.store.waiting), len(q.store.blocked)
	buildable, pending := len(q.store.buildable), len(q.store.pending)
	var oldest time.Duration
	now := time.Now()
	for _, w := range q.store.waiting {
		if age := now.Sub(w.inQueueSince); age > oldest {
			oldest = age
		}
	}
	q.mu.RUnlock()

	observability.StageDepth.WithLabelValues("waiting").Set(float64(waiting))
	observability.StageDepth.WithLabelValues("blocked").Set(float64(blocked))
	observability.StageDepth.WithLabelValues("buildable").Set(float64(buildable))
	observability.StageDepth.WithLabelValues("pending").Set(float64(pending))
	observability.OldestWaitingItemSeconds.Set(oldest.Seconds())
}

// phaseUnblock is Phase A: a snapshot of the blocked set is evaluated
// without holding the write lock, then re-checked against the live set
// once the write lock is reacquired -- items observed here may have
// disappeared by the time the write lock is taken, and that is
// tolerated by design (§9 open question: stale-tolerant re-check).
func (q *BuildQueue) phaseUnblock() {
	q.mu.RLock()
	snapshot := make([]*BlockedItem, 0, len(q.store.blocked))
	for _, b := range q.store.blocked {
		snapshot = append(snapshot, b)
	}
	var collected []*BlockedItem
	for _, b := range snapshot {
		if !q.isStillBlocked(b) && q.concurrencyAllowsLocked(b.task) {
			collected = append(collected, b)
		}
	}
	q.mu.RUnlock()

	if len(collected) == 0 {
		return
	}

	q.mu.Lock()
	for _, b := range collected {
		live, ok := q.store.blocked[b.id]
		if !ok || live != b {
			continue // disappeared or replaced since the snapshot; skip
		}
		q.store.removeBlocked(live.id)
		q.makeBuildableLocked(unblock(live))
	}
	q.mu.Unlock()
}

// phaseDrainWaiting is Phase B: repeatedly pop the smallest waiting
// item while its due time has arrived, routing it to buildable or
// blocked.
func (q *BuildQueue) phaseDrainWaiting() {
	for {
		q.mu.Lock()
		top := q.store.peekWaiting()
		if top == nil || top.DueAt.After(time.Now()) {
			q.mu.Unlock()
			return
		}
		q.store.popWaiting()
		now := time.Now()

		if !q.isStillBlocked(top) && q.concurrencyAllowsLocked(top.task) {
			q.makeBuildableLocked(toBuildableItem(top, now))
		} else {
			q.store.putBlocked(toBlockedItem(top, now))
		}
		q.mu.Unlock()
	}
}

// phaseDispatch is Phase C: each buildable item is re-checked, matched
// against parked offers via the load balancer, and promoted to
// pending if any main work unit was produced.
func (q *BuildQueue) phaseDispatch() {
	q.mu.RLock()
	buildables := make([]*BuildableItem, 0, len(q.store.buildable))
	for _, b := range q.store.buildable {
		buildables = append(buildables, b)
	}
	sorter := q.registry.sorter
	lb := q.registry.loadBalancer
	q.mu.RUnlock()

	if sorter != nil {
		sorter.Sort(buildables)
	}

	for _, p := range buildables {
		q.mu.Lock()
		live, ok := q.store.buildable[p.id]
		if !ok || live != p {
			q.mu.Unlock()
			continue
		}

		if q.isStillBlocked(p) {
			q.store.removeBuildable(p.id)
			q.store.putBlocked(demote(p))
			q.mu.Unlock()
			continue
		}

		var candidates []*JobOffer
		for _, o := range q.offers.parked() {
			if o.CanTake(q.registry, p) {
				candidates = append(candidates, o)
			}
		}
		if len(candidates) == 0 {
			q.mu.Unlock()
			continue
		}

		mapping := lb.Map(p.task, &MappingWorksheet{Item: p, Candidates: candidates})
		if mapping == nil {
			q.mu.Unlock()
			continue
		}

		ctx := newWorkUnitContext(p)
		mapping.Execute(ctx)
		if ctx.producedMainUnit() {
			q.resources.Reserve(p.task.ResourceList())
			q.store.removeBuildable(p.id)
			q.store.putPending(toPendingItem(p))
		}
		q.mu.Unlock()
	}
}

// makeBuildableLocked implements §4.7: flyweight tasks attempt direct
// placement via the consistent-hash ring first; everything else (and
// any flyweight task that found no accepting node) lands in buildable.
// Callers must hold q.mu for writing.
func (q *BuildQueue) makeBuildableLocked(b *BuildableItem) {
	if b.task.IsFlyweight() && !q.isQuiescing() && q.tryFlyweightPlacementLocked(b) {
		return
	}
	q.store.putBuildable(b)
}

func (q *BuildQueue) tryFlyweightPlacementLocked(b *BuildableItem) bool {
	if q.nodes == nil {
		observability.FlyweightPlacements.WithLabelValues("fell_through").Inc()
		return false
	}
	nodes := q.nodes.Nodes()
	master := q.nodes.MasterNode()
	ring := buildHashRing(nodes, master)
	candidates := ring.walk(b.task.FullDisplayName())

	for _, n := range candidates {
		if n == nil || !n.Online() {
			continue
		}
		// n.CanTake covers label exclusion as well as any other
		// node-side refusal (§4.7 step 3).
		if n.CanTake(b) != nil {
			continue
		}
		if n.StartFlyweightTask(b) {
			q.store.putPending(toPendingItem(b))
			observability.FlyweightPlacements.WithLabelValues("placed").Inc()
			return true
		}
	}
	observability.FlyweightPlacements.WithLabelValues("fell_through").Inc()
	return false
}
