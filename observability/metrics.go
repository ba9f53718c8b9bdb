// Package observability exposes the queue's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageDepth tracks the number of items currently in each stage.
	StageDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ridgeline_queue_stage_depth",
		Help: "Current number of items in each queue stage",
	}, []string{"stage"})

	// AdmissionDecisions tracks Schedule outcomes.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridgeline_admission_decisions_total",
		Help: "Total number of admission decisions made by Schedule",
	}, []string{"decision"}) // admitted, vetoed_or_coalesced

	// MaintenanceDuration tracks how long each Maintain pass takes.
	MaintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ridgeline_maintenance_duration_seconds",
		Help:    "Duration of one Maintain() pass",
		Buckets: prometheus.DefBuckets,
	})

	// FlyweightPlacements tracks the flyweight fast path's outcomes.
	FlyweightPlacements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridgeline_flyweight_placements_total",
		Help: "Flyweight fast-path placement attempts by outcome",
	}, []string{"outcome"}) // placed, fell_through

	// OldestWaitingItemSeconds tracks how long the oldest waiting item
	// has been queued.
	OldestWaitingItemSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ridgeline_oldest_waiting_item_seconds",
		Help: "Age in seconds of the oldest item still in the waiting stage",
	})

	// NodeQuarantineState tracks each node's circuit breaker state.
	NodeQuarantineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ridgeline_node_quarantine_state",
		Help: "Per-node circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"node_id"})

	// PersistenceOperations tracks Save/Load outcomes.
	PersistenceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridgeline_persistence_operations_total",
		Help: "Persistence save/load operations by outcome",
	}, []string{"op", "outcome"})

	// ThrottledAdmissions tracks admissions rejected by the rate limiter.
	ThrottledAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridgeline_throttled_admissions_total",
		Help: "Admissions vetoed by the submitter rate limiter",
	}, []string{"key"})

	// SchedulerFaults tracks isolated faults: a panicking extension
	// point or a persistence I/O failure, visible without ever feeding
	// back into a scheduling decision.
	SchedulerFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridgeline_scheduler_faults_total",
		Help: "Isolated faults by component and reason",
	}, []string{"component", "reason"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
