// Package metrics provides Prometheus metrics for the pipeline
// orchestrator: session outcomes, engine selection, per-source flow
// results, destination availability, and setup-phase latency.
//
// Metrics are registered automatically via promauto and recorded only
// when the session's Monitoring flag is on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts orchestrator sessions by result
	// (completed, fatal).
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revlake_sessions_total",
			Help: "Total orchestrator sessions by result",
		},
		[]string{"result"},
	)

	// EngineSelections counts engine selections by engine name.
	EngineSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revlake_engine_selections_total",
			Help: "Engine selections by engine",
		},
		[]string{"engine"},
	)

	// FlowOutcomes counts per-source flow outcomes
	// (configured, started, configure_failed, start_failed).
	FlowOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revlake_flow_outcomes_total",
			Help: "Per-source flow outcomes",
		},
		[]string{"source", "outcome"},
	)

	// DestinationActive reports destination availability as 0/1 gauges.
	DestinationActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "revlake_destination_active",
			Help: "Destination availability (1 active, 0 inactive)",
		},
		[]string{"destination"},
	)

	// SetupPhaseDuration observes per-phase setup latency in seconds.
	SetupPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revlake_setup_phase_duration_seconds",
			Help:    "Setup phase latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
)

// Timer measures the duration of one setup phase.
type Timer struct {
	phase string
	start time.Time
}

// NewTimer starts a timer for a setup phase.
func NewTimer(phase string) *Timer {
	return &Timer{phase: phase, start: time.Now()}
}

// Stop records the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	SetupPhaseDuration.WithLabelValues(t.phase).Observe(elapsed.Seconds())
	return elapsed
}

// SetDestinationActive records a destination's availability.
func SetDestinationActive(destination string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	DestinationActive.WithLabelValues(destination).Set(v)
}
