package main

import (
	"sync"
	"time"

	"github.com/ridgeci/ridgeline/queue"
)

// job is the simplest possible queue.Task: a named, unparameterized
// build with no resource needs, no subtasks, and no flyweight or
// non-blocking behavior. Real deployments would implement queue.Task
// against their own pipeline/job definitions; job exists so this
// binary has something concrete to schedule.
type job struct {
	name     string
	label    queue.Label
	blocked  bool
	resource string
}

func (j *job) FullDisplayName() string         { return j.name }
func (j *job) AssignedLabel() queue.Label      { return j.label }
func (j *job) IsBuildBlocked() bool            { return j.blocked }
func (j *job) CauseOfBlockage() queue.Cause    { return "" }
func (j *job) IsConcurrentBuild() bool         { return false }
func (j *job) SubTasks() []queue.SubTask       { return nil }
func (j *job) EstimatedDuration() time.Duration { return 0 }
func (j *job) IsPersistent() bool              { return true }
func (j *job) IsFlyweight() bool               { return false }
func (j *job) IsNonBlocking() bool             { return false }

func (j *job) ResourceList() []string {
	if j.resource == "" {
		return nil
	}
	return []string{j.resource}
}

func (j *job) Equal(other queue.Task) bool {
	o, ok := other.(*job)
	return ok && o.name == j.name
}

// jobRegistry is an in-memory queue.TaskResolver keyed by job name;
// the HTTP API resolves incoming task names against it.
type jobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*job)}
}

func (r *jobRegistry) define(name string, opts ...func(*job)) *job {
	j := &job{name: name}
	for _, opt := range opts {
		opt(j)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = j
	return j
}

func (r *jobRegistry) ResolveTask(name string) (queue.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}
