// Package metrics provides the orchestrator's Prometheus metrics:
// counters and gauges for devices, rounds, aggregation, and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Devices ────────────────────────────────────────────────────────────────

// DevicesOnline tracks currently online devices.
var DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "edgeorchestra",
	Name:      "devices_online",
	Help:      "Number of devices currently online.",
})

// DevicesQuarantined tracks currently quarantined devices.
var DevicesQuarantined = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "edgeorchestra",
	Name:      "devices_quarantined",
	Help:      "Number of devices currently quarantined.",
})

// HeartbeatLatency tracks heartbeat round-trip latency.
var HeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "edgeorchestra",
	Name:      "heartbeat_latency_seconds",
	Help:      "Heartbeat round-trip latency.",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// HeartbeatsReceived tracks heartbeats received, by outcome.
var HeartbeatsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edgeorchestra",
	Name:      "heartbeats_received_total",
	Help:      "Total heartbeats received, by outcome (ok, stale_sequence).",
}, []string{"outcome"})

// ─── Rounds ─────────────────────────────────────────────────────────────────

// RoundDuration tracks time from a round opening to closing.
var RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "edgeorchestra",
	Name:      "round_duration_seconds",
	Help:      "Time from round open to close.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
})

// RoundsClosed tracks rounds that reached an aggregate, by job.
var RoundsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edgeorchestra",
	Name:      "rounds_closed_total",
	Help:      "Total rounds successfully aggregated.",
}, []string{"job_id"})

// RoundsAborted tracks rounds that missed quorum.
var RoundsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edgeorchestra",
	Name:      "rounds_aborted_total",
	Help:      "Total rounds aborted below quorum.",
}, []string{"job_id"})

// QuorumMisses tracks selection attempts that failed to reach quorum.
var QuorumMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edgeorchestra",
	Name:      "quorum_misses_total",
	Help:      "Total selection attempts that did not reach quorum.",
}, []string{"job_id"})

// ─── Aggregation ────────────────────────────────────────────────────────────

// AggregationDeltaNorm tracks the L2 norm of a round's aggregated delta.
var AggregationDeltaNorm = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "edgeorchestra",
	Name:      "aggregation_delta_norm",
	Help:      "L2 norm of a round's aggregated weight delta.",
	Buckets:   prometheus.DefBuckets,
}, []string{"architecture"})

// AggregationDuration tracks wall time spent inside Aggregate.
var AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "edgeorchestra",
	Name:      "aggregation_duration_seconds",
	Help:      "Wall time spent aggregating a round's submissions.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
})

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobsActive tracks currently running training jobs.
var JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "edgeorchestra",
	Name:      "jobs_active",
	Help:      "Number of training jobs currently running.",
})

// JobsTerminal tracks jobs that reached a terminal state, by status.
var JobsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edgeorchestra",
	Name:      "jobs_terminal_total",
	Help:      "Total jobs reaching a terminal state, by status.",
}, []string{"status"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "edgeorchestra",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// CircuitBreakerState tracks the storage circuit breaker's state
// (0=closed, 1=half_open, 2=open).
var CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "edgeorchestra",
	Name:      "circuit_breaker_state",
	Help:      "Storage circuit breaker state (0=closed, 1=half_open, 2=open).",
})
