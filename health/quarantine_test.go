package health

import (
	"testing"
	"time"
)

type fakeNode struct{ id string }

func (f *fakeNode) ID() string                       { return f.id }
func (f *fakeNode) NumExecutors() int                { return 1 }
func (f *fakeNode) Online() bool                     { return true }
func (f *fakeNode) AcceptingTasks() bool             { return true }

func TestMonitorOpensAfterThreshold(t *testing.T) {
	m := NewMonitor(2, time.Hour, 1)
	node := &fakeNode{id: "n1"}

	if st := m.State(node.ID()); st != StateClosed {
		t.Fatalf("expected closed, got %s", st)
	}

	m.RecordFailure("n1")
	if st := m.State("n1"); st != StateClosed {
		t.Fatalf("one failure below threshold should stay closed, got %s", st)
	}

	m.RecordFailure("n1")
	if st := m.State("n1"); st != StateOpen {
		t.Fatalf("threshold failures should open the breaker, got %s", st)
	}
}

func TestMonitorHalfOpenAfterCooldown(t *testing.T) {
	m := NewMonitor(1, time.Millisecond, 1)
	m.RecordFailure("n1")
	if st := m.State("n1"); st != StateOpen {
		t.Fatalf("expected open, got %s", st)
	}

	time.Sleep(5 * time.Millisecond)
	b := m.breakerFor("n1")
	if !b.admit() {
		t.Fatal("after cooldown, a probe should be admitted")
	}
	if st := b.snapshot(); st != StateHalfOpen {
		t.Fatalf("expected half_open after cooldown probe, got %s", st)
	}
}

func TestMonitorRecoversOnSuccess(t *testing.T) {
	m := NewMonitor(1, time.Millisecond, 2)
	m.RecordFailure("n1")
	time.Sleep(5 * time.Millisecond)
	m.breakerFor("n1").admit() // consume one half-open probe

	m.RecordSuccess("n1")
	m.RecordSuccess("n1")
	if st := m.State("n1"); st != StateClosed {
		t.Fatalf("enough successes in half-open should close the breaker, got %s", st)
	}
}
