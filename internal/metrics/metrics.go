package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaq_submissions_total",
			Help: "Total number of submissions by admission outcome",
		},
		[]string{"outcome"}, // cache_hit, direct, queued, rejected
	)

	JobsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaq_jobs_completed_total",
			Help: "Total number of jobs completed by workers",
		},
	)

	JobsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaq_jobs_failed_total",
			Help: "Total number of jobs that reached the failed state",
		},
	)

	JobsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaq_jobs_retried_total",
			Help: "Total number of job attempts returned to pending for retry",
		},
	)

	JobsReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaq_jobs_reclaimed_total",
			Help: "Total number of stale processing jobs reclaimed",
		},
	)

	InferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaq_inference_requests_total",
			Help: "Total number of individual inference endpoint calls",
		},
		[]string{"endpoint", "outcome"}, // success, failure, rejected
	)

	// Gauges
	DirectInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaq_direct_in_flight",
			Help: "Current number of requests being processed synchronously",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaq_queue_depth",
			Help: "Current number of pending jobs in the queue",
		},
	)

	EndpointCircuitOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaq_endpoint_circuit_open",
			Help: "Whether an endpoint's circuit breaker is currently open (1) or not (0)",
		},
		[]string{"endpoint"},
	)

	// Histogram for inference call duration
	InferenceDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaq_inference_duration_seconds",
			Help:    "Inference endpoint call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~163s
		},
		[]string{"endpoint"},
	)
)
