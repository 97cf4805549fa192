package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Orchestrator ────────────────────────────────────────────────────────────

	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "jobs_enqueued_total",
		Help:      "Total jobs accepted for processing, labelled by queue type.",
	}, []string{"queue_type"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "jobs_processed_total",
		Help:      "Total jobs processed, labelled by queue type and terminal status.",
	}, []string{"queue_type", "status"})

	JobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being executed.",
	}, []string{"queue_type"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "job_duration_seconds",
		Help:      "End-to-end job execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"queue_type"})

	JobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "retries_total",
		Help:      "Total retry attempts.",
	}, []string{"queue_type"})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "orchestrator",
		Name:      "dead_letters_total",
		Help:      "Total jobs that exhausted their retry budget.",
	}, []string{"queue_type"})

	// ─── Cache ───────────────────────────────────────────────────────────────────

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Job-result cache hits, labelled by queue type.",
	}, []string{"queue_type"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Job-result cache misses, labelled by queue type.",
	}, []string{"queue_type"})

	// ─── Payload optimizer ───────────────────────────────────────────────────────

	CompressionSavedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "optimizer",
		Name:      "compression_saved_bytes_total",
		Help:      "Bytes saved by payload compression.",
	}, []string{"queue_type"})

	// ─── Batch scheduler ─────────────────────────────────────────────────────────

	BatchesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "batch",
		Name:      "flushes_total",
		Help:      "Batch flushes, labelled by queue type and trigger (size | timeout).",
	}, []string{"queue_type", "trigger"})

	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queueforge",
		Subsystem: "batch",
		Name:      "size",
		Help:      "Number of jobs per flushed batch.",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"queue_type"})

	// ─── Health engine ───────────────────────────────────────────────────────────

	QueueHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "queueforge",
		Subsystem: "health",
		Name:      "score",
		Help:      "Latest overall health score [0,100] per queue.",
	}, []string{"queue_type"})

	AlertsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "health",
		Name:      "alerts_fired_total",
		Help:      "Alert instances fired, labelled by rule and severity.",
	}, []string{"rule", "severity"})

	// ─── Fallback queue ──────────────────────────────────────────────────────────

	FallbackQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "queueforge",
		Subsystem: "fallback",
		Name:      "depth",
		Help:      "Jobs held by the in-memory fallback queue.",
	})

	FallbackActivations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "queueforge",
		Subsystem: "fallback",
		Name:      "activations_total",
		Help:      "Times the orchestrator switched to the fallback queue.",
	})
)
