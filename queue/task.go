// Package queue implements the build queue scheduler: admission with
// quiet-period coalescing, the waiting/blocked/buildable/pending item
// lifecycle, the maintenance loop that migrates items between stages,
// and the assignment of buildable items to parked executors.
package queue

import "time"

// Label is an opaque placement constraint a task or action may carry.
// Nodes and items are matched against it by Node.CanTake; the queue
// itself never interprets a label's contents.
type Label string

// Cause is an opaque explanation for why a task cannot currently run,
// as reported by Task.CauseOfBlockage or a QueueTaskDispatcher veto.
type Cause string

// Task is the opaque unit of work submitted to the queue. It is never
// mutated by this package; value-equality (Equal) is how duplicate
// submissions for the "same" request are detected during admission.
type Task interface {
	// FullDisplayName is a stable, human-readable identifier used for
	// persistence (tasks are stored by name and resolved by name on
	// load) and as the flyweight consistent-hash key.
	FullDisplayName() string

	// AssignedLabel is the task's default placement constraint, or ""
	// if unconstrained. A LabelAssignmentAction may override it for a
	// specific item.
	AssignedLabel() Label

	// ResourceList names resources this task needs exclusive use of
	// while running; consulted by the ResourceController during block
	// evaluation.
	ResourceList() []string

	// CauseOfBlockage returns a non-empty cause if the task itself
	// reports being blocked (independent of resources/dispatchers), or
	// "" if not.
	CauseOfBlockage() Cause

	// IsBuildBlocked is a cheaper pre-check some tasks use to avoid
	// computing CauseOfBlockage; true means blocked regardless of
	// CauseOfBlockage's value.
	IsBuildBlocked() bool

	// IsConcurrentBuild reports whether more than one item for this
	// task may be buildable/pending simultaneously. When false, any
	// further item for the task is held in blocked while one is
	// buildable or pending.
	IsConcurrentBuild() bool

	// SubTasks lists additional work units produced alongside the main
	// one when an item for this task is executed (§4.8, WorkUnit).
	SubTasks() []SubTask

	// EstimatedDuration is advisory; it informs load balancers and
	// sorters but is never enforced by the core.
	EstimatedDuration() time.Duration

	// IsPersistent reports whether this task's waiting/blocked/buildable
	// items should survive in persistence (§4.9); transient tasks are
	// excluded from save().
	IsPersistent() bool

	// IsFlyweight reports whether this task skips the normal executor
	// slot and is instead placed directly on a node via consistent
	// hashing (§4.7).
	IsFlyweight() bool

	// IsNonBlocking reports whether this task should never enter the
	// blocked stage even if isStillBlocked would otherwise say so
	// (used by lightweight flyweight tasks that must always run).
	IsNonBlocking() bool

	// Equal reports value-equality with another task, used to detect
	// duplicate submissions and concurrency-guard membership.
	Equal(other Task) bool
}

// SubTask is a secondary unit of work carried by a Task; it produces
// its own WorkUnit when the owning item is executed, independent of
// the main work unit.
type SubTask interface {
	Equal(other SubTask) bool
}

// Action is opaque per-request metadata attached to an item. Plain
// actions carry no scheduling behavior; the three capabilities below
// are consulted when present.
type Action interface {
	// Kind is a short tag used only for persistence round-tripping and
	// logging; the core never branches on it directly (type assertions
	// to the three capability interfaces below are used instead).
	Kind() string
}

// QueueAction may veto duplicate coalescing: if either the existing or
// the newly submitted action's ShouldSchedule returns true, the item is
// scheduled again rather than merged into an existing waiting item.
type QueueAction interface {
	Action
	ShouldSchedule(otherActions []Action) bool
}

// FoldableAction is given a chance to merge its effect into an already
// queued duplicate item instead of creating a new one.
type FoldableAction interface {
	Action
	FoldIntoExisting(existing Item, task Task, newActions []Action)
}

// LabelAssignmentAction overrides a task's default label for a single
// item.
type LabelAssignmentAction interface {
	Action
	AssignedLabel(task Task) (Label, bool)
}
