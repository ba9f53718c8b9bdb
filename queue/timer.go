package queue

import "time"

// startMaintenanceTimer starts the periodic maintenance backstop: even
// if every executor is parked and nothing ever calls ScheduleMaintenance
// (a buggy dispatcher, a missed wake), maintenance still runs at this
// interval and the queue cannot wedge indefinitely. It returns a stop
// function safe to call more than once.
func (q *BuildQueue) startMaintenanceTimer(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				q.Maintain()
			case <-done:
				return
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		ticker.Stop()
		close(done)
	}
}
