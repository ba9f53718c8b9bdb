package queue

import "sync"

// MappingWorksheet is handed to a LoadBalancer: the buildable item
// awaiting assignment and the JobOffers currently willing to take it
// (§4.3 Phase C, step 3).
type MappingWorksheet struct {
	Item       *BuildableItem
	Candidates []*JobOffer
}

// assignedUnit records one work unit handed to one offer during a
// Mapping's execution.
type assignedUnit struct {
	offer *JobOffer
	unit  WorkUnit
}

// WorkUnitContext is passed to Mapping.Execute; it is the only way a
// Mapping may assign work units to offers, so the queue can observe
// whether any main work unit was produced (§4.3 step 5).
type WorkUnitContext struct {
	item     *BuildableItem
	assigned []assignedUnit
}

func newWorkUnitContext(item *BuildableItem) *WorkUnitContext {
	return &WorkUnitContext{item: item}
}

// AssignMain assigns the item's main work unit to offer, waking it.
func (ctx *WorkUnitContext) AssignMain(offer *JobOffer) {
	wu := WorkUnit{ItemID: ctx.item.id, Main: true}
	offer.Set(wu)
	ctx.assigned = append(ctx.assigned, assignedUnit{offer: offer, unit: wu})
}

// AssignSubTask assigns a SubTask's work unit to offer, waking it.
func (ctx *WorkUnitContext) AssignSubTask(offer *JobOffer, st SubTask) {
	wu := WorkUnit{ItemID: ctx.item.id, Main: false, SubTask: st}
	offer.Set(wu)
	ctx.assigned = append(ctx.assigned, assignedUnit{offer: offer, unit: wu})
}

// producedMainUnit reports whether AssignMain was called at least once
// during this execution (§4.3 step 5: "if any main work units were
// produced").
func (ctx *WorkUnitContext) producedMainUnit() bool {
	for _, a := range ctx.assigned {
		if a.unit.Main {
			return true
		}
	}
	return false
}

// Mapping is the result of LoadBalancer.Map: it assigns work units to
// some subset of the worksheet's candidates when Execute is called.
type Mapping interface {
	Execute(ctx *WorkUnitContext) bool
}

// LoadBalancer chooses which parked executors should take a buildable
// item's work units. Returning nil means "no assignment possible right
// now" (§4.3 step 4): the item stays buildable.
type LoadBalancer interface {
	Map(task Task, worksheet *MappingWorksheet) Mapping
}

// singleOfferMapping assigns the item's main work unit (and, if the
// task declares subtasks, one subtask unit per additional candidate)
// to a chosen primary offer.
type singleOfferMapping struct {
	primary *JobOffer
	subs    []subAssignment
}

type subAssignment struct {
	offer *JobOffer
	task  SubTask
}

func (m *singleOfferMapping) Execute(ctx *WorkUnitContext) bool {
	ctx.AssignMain(m.primary)
	for _, s := range m.subs {
		ctx.AssignSubTask(s.offer, s.task)
	}
	return true
}

// RoundRobinLoadBalancer is the default LoadBalancer: it cycles
// through candidates per task name so repeated builds of the same task
// spread across the fleet, and opportunistically hands any extra
// candidates the task's declared subtasks.
type RoundRobinLoadBalancer struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewRoundRobinLoadBalancer returns a ready-to-use round-robin balancer.
func NewRoundRobinLoadBalancer() *RoundRobinLoadBalancer {
	return &RoundRobinLoadBalancer{cursors: make(map[string]int)}
}

func (b *RoundRobinLoadBalancer) Map(task Task, worksheet *MappingWorksheet) Mapping {
	if len(worksheet.Candidates) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.cursors == nil {
		b.cursors = make(map[string]int)
	}
	name := task.FullDisplayName()
	idx := b.cursors[name] % len(worksheet.Candidates)
	b.cursors[name] = idx + 1
	b.mu.Unlock()

	primary := worksheet.Candidates[idx]

	subs := task.SubTasks()
	var assignments []subAssignment
	next := (idx + 1) % len(worksheet.Candidates)
	for _, st := range subs {
		if next == idx || len(assignments) >= len(worksheet.Candidates)-1 {
			break
		}
		assignments = append(assignments, subAssignment{offer: worksheet.Candidates[next], task: st})
		next = (next + 1) % len(worksheet.Candidates)
	}

	return &singleOfferMapping{primary: primary, subs: assignments}
}
