// Package health quarantines nodes that repeatedly fail to run work,
// keeping a circuit breaker per node and refusing to offer new items
// to a node while its breaker is open.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/ridgeci/ridgeline/observability"
	"github.com/ridgeci/ridgeline/queue"
)

// State mirrors the classic three-state circuit breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	failureThreshold    int
	openedAt            time.Time
	cooldown            time.Duration
	testCount           int
	testLimit           int
}

func newBreaker(failureThreshold int, cooldown time.Duration, testLimit int) *breaker {
	return &breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		testLimit:        testLimit,
	}
}

func (b *breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) > b.cooldown {
		b.state = StateHalfOpen
		b.testCount = 0
	}
	if b.state == StateHalfOpen {
		if b.testCount < b.testLimit {
			b.testCount++
			return true
		}
		return false
	}
	return b.state == StateClosed
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.testCount++
		if b.testCount >= b.testLimit {
			b.state = StateClosed
			b.testCount = 0
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.testCount = 0
		b.consecutiveFailures = 0
		return
	}
	if b.state == StateClosed && b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Monitor tracks one circuit breaker per node and implements
// queue.QueueTaskDispatcher, vetoing placement onto a quarantined node
// without ever vetoing whether an item may run at all.
type Monitor struct {
	mu               sync.Mutex
	breakers         map[string]*breaker
	failureThreshold int
	cooldown         time.Duration
	testLimit        int
}

// NewMonitor returns a Monitor that opens a node's breaker after
// failureThreshold consecutive failures, holds it open for cooldown,
// then admits up to testLimit probes before fully closing again.
func NewMonitor(failureThreshold int, cooldown time.Duration, testLimit int) *Monitor {
	return &Monitor{
		breakers:         make(map[string]*breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		testLimit:        testLimit,
	}
}

func (m *Monitor) breakerFor(nodeID string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[nodeID]
	if !ok {
		b = newBreaker(m.failureThreshold, m.cooldown, m.testLimit)
		m.breakers[nodeID] = b
	}
	return b
}

// RecordSuccess notes that nodeID completed a work unit without error.
func (m *Monitor) RecordSuccess(nodeID string) {
	b := m.breakerFor(nodeID)
	b.recordSuccess()
	observability.NodeQuarantineState.WithLabelValues(nodeID).Set(float64(b.snapshot()))
}

// RecordFailure notes that nodeID failed a work unit.
func (m *Monitor) RecordFailure(nodeID string) {
	b := m.breakerFor(nodeID)
	b.recordFailure()
	observability.NodeQuarantineState.WithLabelValues(nodeID).Set(float64(b.snapshot()))
}

// State reports nodeID's current breaker state.
func (m *Monitor) State(nodeID string) State {
	return m.breakerFor(nodeID).snapshot()
}

// CanRun never objects: quarantine is a placement concern, not a
// run-at-all concern.
func (m *Monitor) CanRun(item queue.Item) *queue.Cause {
	return nil
}

// CanTake objects to placing item on node while node's breaker is open
// or has exhausted its half-open test budget.
func (m *Monitor) CanTake(node queue.Node, item queue.Item) *queue.Cause {
	b := m.breakerFor(node.ID())
	admitted := b.admit()
	observability.NodeQuarantineState.WithLabelValues(node.ID()).Set(float64(b.snapshot()))
	if admitted {
		return nil
	}
	cause := queue.Cause(fmt.Sprintf("node %s is quarantined", node.ID()))
	return &cause
}
