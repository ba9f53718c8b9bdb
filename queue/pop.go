package queue

import (
	"context"
	"time"
)

// minPopSleep is the floor on how long Pop waits between maintenance
// attempts even when the next waiting item is due very soon (§4.8 step
// 2c: "sleep = max(100ms, ...)").
const minPopSleep = 100 * time.Millisecond

// Pop is called by an executor thread to fetch work, blocking as
// needed (§4.8). It returns ctx.Err() if ctx is cancelled while
// parked.
func (q *BuildQueue) Pop(ctx context.Context, exec Executor) (WorkUnit, error) {
	if exec.IsOneOff() {
		if wu, ok := exec.PreassignedWorkUnit(); ok {
			q.mu.Lock()
			q.completePendingLocked(wu)
			q.mu.Unlock()
			return wu, nil
		}
	}

	for {
		q.opMu.Lock()
		offer := q.offers.park(exec)
		q.opMu.Unlock()

		q.Maintain()

		var timerCh <-chan time.Time
		var timer *time.Timer
		q.mu.RLock()
		top := q.store.peekWaiting()
		q.mu.RUnlock()
		if top != nil {
			d := time.Until(top.DueAt)
			if d < minPopSleep {
				d = minPopSleep
			}
			timer = time.NewTimer(d)
			timerCh = timer.C
		}

		select {
		case <-ctx.Done():
			q.offers.unpark(exec)
			if timer != nil {
				timer.Stop()
			}
			if wu, ok := offer.WorkUnit(); ok {
				q.reclaimAbortedWorkUnit(wu)
				q.ScheduleMaintenance()
			}
			return WorkUnit{}, ctx.Err()

		case <-offer.Wait():
			if timer != nil {
				timer.Stop()
			}

		case <-timerCh:
		}

		q.offers.unpark(exec)

		wu, ok := offer.WorkUnit()
		if !ok {
			continue // spurious wake for maintenance; loop and try again
		}
		if wu.Main {
			q.mu.Lock()
			q.completePendingLocked(wu)
			q.mu.Unlock()
		}
		return wu, nil
	}
}

// completePendingLocked removes a pending item once its main work unit
// has actually been picked up, releasing the resources Reserve claimed
// when it was dispatched (§5: resources transfer to the executor's own
// accounting at this point). Callers must hold q.mu for writing.
func (q *BuildQueue) completePendingLocked(wu WorkUnit) {
	if p, ok := q.store.pending[wu.ItemID]; ok && wu.Main {
		q.resources.Release(p.task.ResourceList())
		p.future.Resolve(OutcomeStarted)
	}
	q.store.removePending(wu.ItemID)
}

// reclaimAbortedWorkUnit releases a main work unit's item back to
// buildable after an executor is interrupted mid-assignment (§4.8 step
// 3), so the next maintenance pass can hand it to another executor.
func (q *BuildQueue) reclaimAbortedWorkUnit(wu WorkUnit) {
	if !wu.Main {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.store.pending[wu.ItemID]; ok {
		q.resources.Release(p.task.ResourceList())
		q.store.removePending(wu.ItemID)
		q.store.putBuildable(&BuildableItem{payload: p.payload, EnteredNonWaitingAt: p.EnteredNonWaitingAt})
	}
}
