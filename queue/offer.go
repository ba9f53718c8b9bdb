package queue

import "sync"

// Node is the external fleet collaborator a JobOffer is bound to. The
// queue only observes a node's advertised capacity/availability; it
// never manages node lifecycle (out of scope, §1).
type Node interface {
	ID() string
	NumExecutors() int
	Online() bool
	AcceptingTasks() bool
	// CanTake returns a non-nil cause if this node refuses the item,
	// or nil if it would accept it.
	CanTake(item Item) *Cause
	// StartFlyweightTask starts a flyweight task's work unit directly
	// on this node (§4.7 step 4), returning whether it was accepted.
	StartFlyweightTask(item Item) bool
}

// Executor is the external collaborator calling Pop. A "one-off"
// executor already has a specific work unit assigned out of band and
// should be served immediately without parking (§4.8 step 1).
type Executor interface {
	Node() Node
	IsOneOff() bool
	PreassignedWorkUnit() (WorkUnit, bool)
}

// WorkUnit is the unit of execution handed to an executor: either the
// task's main unit, or one produced by a SubTask.
type WorkUnit struct {
	ItemID  ItemID
	Main    bool
	SubTask SubTask
}

// JobOffer represents an executor parked inside the queue awaiting an
// assignment (§3, §4.6). It exists only while the executor is parked.
type JobOffer struct {
	executor Executor

	mu       sync.Mutex
	workUnit *WorkUnit
	wakeCh   chan struct{}
	woken    bool
}

func newJobOffer(exec Executor) *JobOffer {
	return &JobOffer{executor: exec, wakeCh: make(chan struct{})}
}

// Executor returns the executor this offer is parked on behalf of.
func (o *JobOffer) Executor() Executor { return o.executor }

// hasWorkUnit reports whether this offer has already been assigned,
// without blocking.
func (o *JobOffer) hasWorkUnit() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workUnit != nil
}

// WorkUnit returns the assigned work unit, if any.
func (o *JobOffer) WorkUnit() (WorkUnit, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.workUnit == nil {
		return WorkUnit{}, false
	}
	return *o.workUnit, true
}

// Set assigns work to this offer and signals its wake event. It is
// illegal to call Set twice on the same offer (§4.6).
func (o *JobOffer) Set(wu WorkUnit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.workUnit != nil {
		panic("queue: JobOffer.Set called twice")
	}
	cp := wu
	o.workUnit = &cp
	o.wakeLocked()
}

// wake signals the offer's wake event without assigning work, used to
// resume an executor thread for a fresh maintenance pass
// (scheduleMaintenance, §4.3).
func (o *JobOffer) wake() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.wakeLocked()
}

func (o *JobOffer) wakeLocked() {
	if !o.woken {
		o.woken = true
		close(o.wakeCh)
	}
}

// Wait returns the channel that closes when this offer is woken,
// either by assignment or by an external scheduleMaintenance signal.
func (o *JobOffer) Wait() <-chan struct{} {
	return o.wakeCh
}

// CanTake reports whether this offer is eligible to take the given
// buildable item, per the §4.6 contract: the node exists and accepts
// it, no dispatcher objects, and the offer itself is still free and
// its node online/accepting.
func (o *JobOffer) CanTake(registry *extensionRegistry, item *BuildableItem) bool {
	node := o.executor.Node()
	if node == nil {
		return false
	}
	if node.CanTake(item) != nil {
		return false
	}
	if registry.canTake(node, item) != nil {
		return false
	}
	if o.hasWorkUnit() {
		return false
	}
	if !node.Online() || !node.AcceptingTasks() {
		return false
	}
	return true
}

// offerRegistry is the "parked map": one JobOffer per currently
// parked executor.
type offerRegistry struct {
	mu     sync.Mutex
	offers map[Executor]*JobOffer
}

func newOfferRegistry() *offerRegistry {
	return &offerRegistry{offers: make(map[Executor]*JobOffer)}
}

// park registers a fresh offer for exec; panics if one is already
// registered, since the contract guarantees exactly one entry per
// executor (§4.8 step 2a).
func (r *offerRegistry) park(exec Executor) *JobOffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.offers[exec]; exists {
		panic("queue: executor already has a parked JobOffer")
	}
	o := newJobOffer(exec)
	r.offers[exec] = o
	return o
}

// unpark removes exec's offer from the parked map.
func (r *offerRegistry) unpark(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.offers, exec)
}

// parked returns a snapshot of every currently parked offer.
func (r *offerRegistry) parked() []*JobOffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*JobOffer, 0, len(r.offers))
	for _, o := range r.offers {
		out = append(out, o)
	}
	return out
}

// wakeOneIdle wakes the first parked offer with no assigned work unit,
// per scheduleMaintenance's "wakes exactly one" contract (§4.3; which
// offer is unspecified, per the open question in §9/DESIGN.md).
func (r *offerRegistry) wakeOneIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.offers {
		if !o.hasWorkUnit() {
			o.wake()
			return true
		}
	}
	return false
}
