package queue

// QueueDecisionHandler may veto admission of a task before any item is
// created (§4.1 step 2). All registered handlers are queried; any
// false vetoes the submission.
type QueueDecisionHandler interface {
	ShouldSchedule(task Task, actions []Action) bool
}

// QueueTaskDispatcher can veto running an item at all (CanRun) or on a
// specific node (CanTake). A non-nil Cause means "blocked for this
// reason"; nil means no objection. A dispatcher that panics is treated
// as having returned no objection (§7: isolate and log faults).
type QueueTaskDispatcher interface {
	CanRun(item Item) *Cause
	CanTake(node Node, item Item) *Cause
}

// QueueSorter reorders the buildable slice in place before dispatch
// (§4.3 Phase C). Absent a sorter, insertion order is used.
type QueueSorter interface {
	Sort(buildables []*BuildableItem)
}

// extensionRegistry owns the lists of pluggable extension points; all
// are queried, matching §6's "each is a list; all are queried."
type extensionRegistry struct {
	decisionHandlers []QueueDecisionHandler
	dispatchers      []QueueTaskDispatcher
	sorter           QueueSorter
	loadBalancer     LoadBalancer
}

func newExtensionRegistry() *extensionRegistry {
	return &extensionRegistry{loadBalancer: NewRoundRobinLoadBalancer()}
}

func (r *extensionRegistry) AddDecisionHandler(h QueueDecisionHandler) {
	r.decisionHandlers = append(r.decisionHandlers, h)
}

func (r *extensionRegistry) AddDispatcher(d QueueTaskDispatcher) {
	r.dispatchers = append(r.dispatchers, d)
}

func (r *extensionRegistry) shouldSchedule(task Task, actions []Action) bool {
	for _, h := range r.decisionHandlers {
		if !safeShouldSchedule(h, task, actions) {
			return false
		}
	}
	return true
}

// safeShouldSchedule isolates a misbehaving handler: a panic is
// swallowed and treated as "no veto", mirroring how canRun/canTake
// faults are isolated below (§7).
func safeShouldSchedule(h QueueDecisionHandler, task Task, actions []Action) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = true
			logDecision(decision{Event: "decision_handler_fault", TaskName: task.FullDisplayName()})
		}
	}()
	return h.ShouldSchedule(task, actions)
}

// canRun consults every dispatcher's CanRun and returns the first
// non-nil cause, or nil if none object. A panicking dispatcher is
// treated as raising no objection.
func (r *extensionRegistry) canRun(item Item) *Cause {
	for _, d := range r.dispatchers {
		if c := safeCanRun(d, item); c != nil {
			return c
		}
	}
	return nil
}

func safeCanRun(d QueueTaskDispatcher, item Item) (cause *Cause) {
	defer func() {
		if r := recover(); r != nil {
			cause = nil
			logDecision(decision{Event: "dispatcher_fault", TaskName: item.Task().FullDisplayName()})
		}
	}()
	return d.CanRun(item)
}

// canTake consults every dispatcher's CanTake for a candidate node.
func (r *extensionRegistry) canTake(node Node, item Item) *Cause {
	for _, d := range r.dispatchers {
		if c := safeCanTake(d, node, item); c != nil {
			return c
		}
	}
	return nil
}

func safeCanTake(d QueueTaskDispatcher, node Node, item Item) (cause *Cause) {
	defer func() {
		if r := recover(); r != nil {
			cause = nil
			logDecision(decision{Event: "dispatcher_fault", TaskName: item.Task().FullDisplayName()})
		}
	}()
	return d.CanTake(node, item)
}
