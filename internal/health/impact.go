package health

import (
	"fmt"
	"math"
	"time"
)

// BusinessImpactSnapshot translates raw queue metrics into operator-facing
// figures. Every field is derived deterministically from the sample so two
// identical samples always produce the same snapshot.
type BusinessImpactSnapshot struct {
	QueueType           string    `json:"queue_type"`
	AffectedJobsPerHour float64   `json:"affected_jobs_per_hour"`
	BacklogDrainMinutes float64   `json:"backlog_drain_minutes"`
	FailedJobsPerHour   float64   `json:"failed_jobs_per_hour"`
	EstimatedDelayMs    float64   `json:"estimated_delay_ms"`
	ComputedAt          time.Time `json:"computed_at"`
}

// ComputeImpact derives impact figures from a sample.
//
// Affected jobs/hour is the hourly rate scaled by the error rate. Backlog
// drain time assumes the current throughput holds. Estimated delay is the
// waiting depth times average latency, spread over active workers.
func ComputeImpact(s PerformanceSample) BusinessImpactSnapshot {
	snap := BusinessImpactSnapshot{
		QueueType:  s.QueueType,
		ComputedAt: s.Timestamp,
	}

	snap.FailedJobsPerHour = s.Throughput.JobsPerHour * s.Reliability.ErrorRate / 100
	snap.AffectedJobsPerHour = snap.FailedJobsPerHour

	if s.Throughput.JobsPerSecond > 0 {
		snap.BacklogDrainMinutes = float64(s.Waiting) / s.Throughput.JobsPerSecond / 60
	} else if s.Waiting > 0 {
		snap.BacklogDrainMinutes = math.Inf(1)
	}

	workers := float64(s.Active)
	if workers < 1 {
		workers = 1
	}
	snap.EstimatedDelayMs = float64(s.Waiting) * s.Latency.AvgMs / workers

	return snap
}

// Describe renders the impact line most relevant to the breached metric.
func (b BusinessImpactSnapshot) Describe(metric Metric) string {
	switch metric {
	case MetricErrorRate, MetricDeadLetters:
		return fmt.Sprintf("approximately %.0f jobs/hour failing on queue %s", b.FailedJobsPerHour, b.QueueType)
	case MetricQueueDepth:
		if math.IsInf(b.BacklogDrainMinutes, 1) {
			return fmt.Sprintf("backlog on queue %s is not draining at current throughput", b.QueueType)
		}
		return fmt.Sprintf("backlog on queue %s needs %.1f minutes to drain at current throughput", b.QueueType, b.BacklogDrainMinutes)
	case MetricLatencyP95, MetricThroughput:
		return fmt.Sprintf("waiting jobs on queue %s face an estimated %.0fms extra delay", b.QueueType, b.EstimatedDelayMs)
	default:
		return fmt.Sprintf("queue %s degraded; %.0f jobs/hour affected", b.QueueType, b.AffectedJobsPerHour)
	}
}
