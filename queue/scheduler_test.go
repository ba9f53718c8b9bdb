package queue

import (
	"context"
	"testing"
	"time"
)

func TestScheduleAndPopSimpleTask(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	task := newSimpleTask("build-a")
	w := q.Schedule(task, 0)
	if w == nil {
		t.Fatal("expected a fresh WaitingItem, got nil")
	}

	exec := &fakeExecutor{node: newFakeNode("n1")}
	wu, err := q.Pop(context.Background(), exec)
	if err != nil {
		t.Fatalf("Pop returned error: %v", err)
	}
	if !wu.Main {
		t.Fatal("expected the main work unit")
	}
	if wu.ItemID != w.ID() {
		t.Fatalf("expected item %d, got %d", w.ID(), wu.ItemID)
	}
	if q.Contains(task) {
		t.Fatal("item should have left the queue once popped")
	}
}

func TestScheduleCoalescesDuplicateDuringQuietPeriod(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	task := newSimpleTask("build-b")
	first := q.Schedule(task, time.Minute)
	if first == nil {
		t.Fatal("expected the first submission to be admitted")
	}

	second := q.Schedule(task, time.Minute)
	if second != nil {
		t.Fatal("expected the second submission to coalesce into the first")
	}

	items := q.ItemsFor(task)
	if len(items) != 1 {
		t.Fatalf("expected exactly one item after coalescing, got %d", len(items))
	}
}

func TestScheduleQuietPeriodPullsDueTimeEarlier(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	task := newSimpleTask("build-c")
	first := q.Schedule(task, time.Hour)
	if first == nil {
		t.Fatal("expected admission")
	}
	originalDue := first.DueAt

	second := q.Schedule(task, 0)
	if second != nil {
		t.Fatal("expected coalescing, not a second item")
	}
	if !first.DueAt.Before(originalDue) {
		t.Fatalf("expected due time pulled earlier: was %v, now %v", originalDue, first.DueAt)
	}
}

func TestScheduleVetoForcesFreshItemDespiteEquality(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	task := newSimpleTask("build-d")
	first := q.Schedule(task, 0)
	if first == nil {
		t.Fatal("expected admission")
	}

	second := q.Schedule(task, 0, vetoAction{schedule: true})
	if second == nil {
		t.Fatal("expected a second distinct item when a QueueAction forces scheduling")
	}
	if second.ID() == first.ID() {
		t.Fatal("expected a new item identity")
	}
}

func TestConcurrencyGuardBlocksSecondItemForNonConcurrentTask(t *testing.T) {
	q := New(Config{})
	defer q.Close()

	task := newSimpleTask("build-e")
	first := q.Schedule(task, 0)
	if first == nil {
		t.Fatal("expected admission")
	}
	q.Maintain()
	if q.CountBuildableItems() != 1 {
		t.Fatalf("expected the first item to reach buildable, got %d buildable items", q.CountBuildableItems())
	}

	second := q.Schedule(task, 0, vetoAction{schedule: true})
	if second == nil {
		t.Fatal("expected a second item forced past coalescing")
	}
	q.Maintain()

	item, ok := q.ItemByID(second.ID())
	if !ok {
		t.Fatal("second item vanished")
	}
	if item.Stage() != StageBlocked {
		t.Fatalf("expected the second item blocked behind the first (non-concurrent task), got stage %v", item.Stage())
	}
}

func TestFlyweightPlacementBypassesBuildableStage(t *testing.T) {
	node := newFakeNode("fly-1")
	q := New(Config{Nodes: &fakeNodeLister{nodes: []Node{node}}})
	defer q.Close()

	task := newSimpleTask("fly-task")
	task.flyweight = true

	w := q.Schedule(task, 0)
	if w == nil {
		t.Fatal("expected admission")
	}
	q.Maintain()

	item, ok := q.ItemByID(w.ID())
	if !ok {
		t.Fatal("flyweight item vanished")
	}
	if item.Stage() != StagePending {
		t.Fatalf("expected the flyweight task placed directly as pending, got stage %v", item.Stage())
	}
	if q.CountBuildableItems() != 0 {
		t.Fatal("flyweight task should never have touched the buildable stage")
	}
}
