// Package ratelimit admits or rejects incoming schedule requests by
// submitter key, guarding against a single noisy submitter flooding
// the queue with waiting items.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/ridgeci/ridgeline/observability"
	"github.com/ridgeci/ridgeline/queue"
)

// KeyFunc extracts the rate-limit bucket key for a task, e.g. the
// submitting user or the job's folder. Tasks with no meaningful key
// should return "".
type KeyFunc func(task queue.Task) string

// Throttle is a QueueDecisionHandler backed by a per-key token bucket,
// one bucket per distinct key returned by KeyFunc. An empty key is
// never throttled.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	keyOf    KeyFunc
	r        rate.Limit
	b        int
}

// NewThrottle returns a Throttle allowing r schedule admissions per
// second per key, with burst b.
func NewThrottle(r float64, b int, keyOf KeyFunc) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		keyOf:    keyOf,
		r:        rate.Limit(r),
		b:        b,
	}
}

func (t *Throttle) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.r, t.b)
		t.limiters[key] = l
	}
	return l
}

// ShouldSchedule implements queue.QueueDecisionHandler: it vetoes
// admission once the submitter's bucket is exhausted. actions is
// unused; the limit is keyed purely on the task.
func (t *Throttle) ShouldSchedule(task queue.Task, actions []queue.Action) bool {
	key := t.keyOf(task)
	if key == "" {
		return true
	}
	if t.limiterFor(key).Allow() {
		return true
	}
	observability.ThrottledAdmissions.WithLabelValues(key).Inc()
	return false
}
