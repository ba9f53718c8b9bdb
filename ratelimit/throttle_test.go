package ratelimit

import (
	"testing"
	"time"

	"github.com/ridgeci/ridgeline/queue"
)

type fakeTask struct {
	name string
	key  string
}

func (f *fakeTask) FullDisplayName() string            { return f.name }
func (f *fakeTask) AssignedLabel() queue.Label          { return "" }
func (f *fakeTask) ResourceList() []string              { return nil }
func (f *fakeTask) CauseOfBlockage() queue.Cause        { return "" }
func (f *fakeTask) IsBuildBlocked() bool                { return false }
func (f *fakeTask) IsConcurrentBuild() bool             { return false }
func (f *fakeTask) SubTasks() []queue.SubTask           { return nil }
func (f *fakeTask) EstimatedDuration() time.Duration    { return 0 }
func (f *fakeTask) IsPersistent() bool                  { return true }
func (f *fakeTask) IsFlyweight() bool                   { return false }
func (f *fakeTask) IsNonBlocking() bool                 { return false }
func (f *fakeTask) Equal(other queue.Task) bool {
	o, ok := other.(*fakeTask)
	return ok && o.name == f.name
}

func byKey(task queue.Task) string {
	return task.(*fakeTask).key
}

func TestThrottleAllowsWithinBurst(t *testing.T) {
	th := NewThrottle(1, 2, byKey)
	task := &fakeTask{name: "a", key: "alice"}

	if !th.ShouldSchedule(task, nil) {
		t.Fatal("first admission should be allowed")
	}
	if !th.ShouldSchedule(task, nil) {
		t.Fatal("second admission within burst should be allowed")
	}
	if th.ShouldSchedule(task, nil) {
		t.Fatal("third admission should exceed the burst of 2")
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	th := NewThrottle(1, 1, byKey)
	alice := &fakeTask{name: "a", key: "alice"}
	bob := &fakeTask{name: "b", key: "bob"}

	if !th.ShouldSchedule(alice, nil) {
		t.Fatal("alice's first admission should be allowed")
	}
	if !th.ShouldSchedule(bob, nil) {
		t.Fatal("bob's bucket is independent of alice's")
	}
}

func TestThrottleIgnoresEmptyKey(t *testing.T) {
	th := NewThrottle(1, 1, func(queue.Task) string { return "" })
	task := &fakeTask{name: "a"}

	for i := 0; i < 5; i++ {
		if !th.ShouldSchedule(task, nil) {
			t.Fatalf("empty-key tasks should never be throttled, failed at iteration %d", i)
		}
	}
}
