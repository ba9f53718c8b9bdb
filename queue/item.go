package queue

import "time"

// ItemID uniquely and monotonically identifies a queued request across
// its entire lifecycle; it is preserved across stage transitions.
type ItemID uint64

// Outcome is the terminal result of an item's CompletionFuture.
type Outcome int

const (
	// OutcomeRunning means the future has not resolved yet.
	OutcomeRunning Outcome = iota
	// OutcomeStarted means an executor picked up the item's work unit.
	OutcomeStarted
	// OutcomeCancelled means the item was cancelled before execution.
	OutcomeCancelled
)

// CompletionFuture is resolved exactly once, when an item either is
// cancelled or is handed to an executor. It is safe for concurrent use.
type CompletionFuture struct {
	done    chan struct{}
	outcome Outcome
}

// NewCompletionFuture returns a future in the OutcomeRunning state.
func NewCompletionFuture() *CompletionFuture {
	return &CompletionFuture{done: make(chan struct{})}
}

// Resolve settles the future with the given outcome. Calling Resolve
// more than once is a no-op after the first call.
func (f *CompletionFuture) Resolve(outcome Outcome) {
	select {
	case <-f.done:
		return
	default:
	}
	f.outcome = outcome
	close(f.done)
}

// Outcome returns the resolved outcome, blocking until resolution.
func (f *CompletionFuture) Outcome() Outcome {
	<-f.done
	return f.outcome
}

// Done returns a channel closed when the future resolves, for use in
// select statements by callers awaiting completion without blocking.
func (f *CompletionFuture) Done() <-chan struct{} {
	return f.done
}

// Stage identifies which of the four containers an item currently
// resides in.
type Stage int

const (
	StageWaiting Stage = iota
	StageBlocked
	StageBuildable
	StagePending
)

func (s Stage) String() string {
	switch s {
	case StageWaiting:
		return "waiting"
	case StageBlocked:
		return "blocked"
	case StageBuildable:
		return "buildable"
	case StagePending:
		return "pending"
	default:
		return "unknown"
	}
}

// payload is the common fields every stage variant carries, modeled as
// a tagged-variant shared struct per DESIGN.md: transitions replace the
// Item value rather than mutating a stage field in place.
type payload struct {
	id            ItemID
	task          Task
	actions       []Action
	future        *CompletionFuture
	inQueueSince  time.Time
}

// Item is the common read surface of all four stage variants. Stage
// transitions produce a new concrete value; callers hold an Item and
// type-switch (or use Stage()) to reach stage-specific fields.
type Item interface {
	ID() ItemID
	Task() Task
	Actions() []Action
	Future() *CompletionFuture
	InQueueSince() time.Time
	Stage() Stage
}

func (p payload) ID() ItemID                { return p.id }
func (p payload) Task() Task                { return p.task }
func (p payload) Actions() []Action         { return p.actions }
func (p payload) Future() *CompletionFuture { return p.future }
func (p payload) InQueueSince() time.Time   { return p.inQueueSince }

// WaitingItem carries the earliest instant it may leave the waiting
// stage; the waiting set is kept ordered by (DueAt, ID).
type WaitingItem struct {
	payload
	DueAt time.Time
}

func (w *WaitingItem) Stage() Stage { return StageWaiting }

// BlockedItem carries the instant the item first left the waiting
// stage, copied forward on every subsequent transition.
type BlockedItem struct {
	payload
	EnteredNonWaitingAt time.Time
}

func (b *BlockedItem) Stage() Stage { return StageBlocked }

// BuildableItem has no outstanding blocks and awaits an executor.
type BuildableItem struct {
	payload
	EnteredNonWaitingAt time.Time
}

func (b *BuildableItem) Stage() Stage { return StageBuildable }

// PendingItem has been handed to an executor but has not yet started.
type PendingItem struct {
	payload
	EnteredNonWaitingAt time.Time
}

func (p *PendingItem) Stage() Stage { return StagePending }

// toBlockedItem converts a waiting item into its blocked form,
// stamping EnteredNonWaitingAt at the moment of first leaving waiting.
func toBlockedItem(w *WaitingItem, now time.Time) *BlockedItem {
	return &BlockedItem{payload: w.payload, EnteredNonWaitingAt: now}
}

// toBuildableItem converts a waiting item directly into buildable form
// (§4.3 Phase B), stamping EnteredNonWaitingAt now.
func toBuildableItem(w *WaitingItem, now time.Time) *BuildableItem {
	return &BuildableItem{payload: w.payload, EnteredNonWaitingAt: now}
}

// unblock converts a blocked item into buildable form, carrying its
// EnteredNonWaitingAt forward unchanged (§3 invariant: that field is
// copied on subsequent transitions, not reset).
func unblock(b *BlockedItem) *BuildableItem {
	return &BuildableItem{payload: b.payload, EnteredNonWaitingAt: b.EnteredNonWaitingAt}
}

// demote converts a buildable item back into blocked form (Phase C,
// step 1: re-checked and found blocked again before dispatch).
func demote(b *BuildableItem) *BlockedItem {
	return &BlockedItem{payload: b.payload, EnteredNonWaitingAt: b.EnteredNonWaitingAt}
}

// toPendingItem converts a buildable item into pending form, carrying
// EnteredNonWaitingAt forward unchanged.
func toPendingItem(b *BuildableItem) *PendingItem {
	return &PendingItem{payload: b.payload, EnteredNonWaitingAt: b.EnteredNonWaitingAt}
}

// newWaitingItem allocates a brand-new item at admission time.
func newWaitingItem(id ItemID, task Task, actions []Action, dueAt, now time.Time) *WaitingItem {
	return &WaitingItem{
		payload: payload{
			id:           id,
			task:         task,
			actions:      actions,
			future:       NewCompletionFuture(),
			inQueueSince: now,
		},
		DueAt: dueAt,
	}
}
