// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Jobs
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_jobs_enqueued_total",
			Help: "Jobs accepted by the queue",
		},
		[]string{"kind"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_jobs_finished_total",
			Help: "Jobs that reached a terminal state",
		},
		[]string{"kind", "state"}, // success, failure, revoked
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_job_retries_total",
			Help: "Job attempts scheduled for retry",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trophysync_job_duration_seconds",
			Help:    "Wall time of a job attempt",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trophysync_jobs_active",
			Help: "Jobs currently running on a worker",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trophysync_jobs_queued",
			Help: "Jobs waiting for a worker",
		},
	)

	// Sync
	GamesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_games_processed_total",
			Help: "Games handled by sync jobs by outcome",
		},
		[]string{"mode", "outcome"}, // synced, skipped, failed
	)

	AchievementsReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trophysync_achievements_reconciled_total",
			Help: "Achievement rows written by reconciliation",
		},
	)

	PlatinumsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trophysync_platinums_awarded_total",
			Help: "Completion notifications created",
		},
	)

	// Provider
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_provider_requests_total",
			Help: "Requests sent to the achievement provider",
		},
		[]string{"endpoint", "status"}, // ok, error, cached
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trophysync_provider_request_duration_seconds",
			Help:    "Latency of achievement provider requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trophysync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trophysync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// ObserveJob records a finished job attempt.
func ObserveJob(kind, state string, elapsed time.Duration) {
	JobsFinished.WithLabelValues(kind, state).Inc()
	JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveProviderRequest records one provider round trip.
func ObserveProviderRequest(endpoint string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ProviderRequests.WithLabelValues(endpoint, status).Inc()
	ProviderLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
