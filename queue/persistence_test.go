package queue

import "testing"

type fakeResolver struct {
	tasks map[string]*simpleTask
}

func (r *fakeResolver) ResolveTask(name string) (Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

func TestCrashRecoveryReloadsPersistedItems(t *testing.T) {
	dir := t.TempDir()

	taskA := newSimpleTask("persist-a")
	taskB := newSimpleTask("persist-b")

	q1 := New(Config{})
	q1.SetPersistence(NewFilePersistence(dir))
	if w := q1.Schedule(taskA, 0); w == nil {
		t.Fatal("expected taskA admitted")
	}
	if w := q1.Schedule(taskB, 0); w == nil {
		t.Fatal("expected taskB admitted")
	}
	if err := q1.Save(nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	q1.Close()

	resolver := &fakeResolver{tasks: map[string]*simpleTask{
		"persist-a": taskA,
		"persist-b": taskB,
	}}

	q2 := New(Config{})
	q2.SetPersistence(NewFilePersistence(dir))
	if err := q2.Load(resolver, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer q2.Close()

	if !q2.Contains(taskA) {
		t.Fatal("expected taskA restored")
	}
	if !q2.Contains(taskB) {
		t.Fatal("expected taskB restored")
	}

	items := q2.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 restored items, got %d", len(items))
	}
}

func TestCrashRecoveryDropsUnresolvableTask(t *testing.T) {
	dir := t.TempDir()

	known := newSimpleTask("known")
	unknown := newSimpleTask("unknown")

	q1 := New(Config{})
	q1.SetPersistence(NewFilePersistence(dir))
	q1.Schedule(known, 0)
	q1.Schedule(unknown, 0)
	if err := q1.Save(nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	q1.Close()

	resolver := &fakeResolver{tasks: map[string]*simpleTask{"known": known}}

	q2 := New(Config{})
	q2.SetPersistence(NewFilePersistence(dir))
	if err := q2.Load(resolver, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer q2.Close()

	if !q2.Contains(known) {
		t.Fatal("expected the resolvable task restored")
	}
	if len(q2.Items()) != 1 {
		t.Fatalf("expected exactly 1 restored item (unresolvable one dropped), got %d", len(q2.Items()))
	}
}
