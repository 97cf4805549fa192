package health

import (
	"math"
	"time"
)

// Targets are the per-queue expectations health scores are judged against.
type Targets struct {
	ThroughputPerSec float64 `json:"throughput_per_sec"`
	LatencyMs        float64 `json:"latency_ms"`
	SafeMemoryMB     float64 `json:"safe_memory_mb"`
	SafeCPUPercent   float64 `json:"safe_cpu_percent"`
}

// DefaultTargets are used for queues without explicit targets.
func DefaultTargets() Targets {
	return Targets{
		ThroughputPerSec: 10,
		LatencyMs:        500,
		SafeMemoryMB:     512,
		SafeCPUPercent:   70,
	}
}

// ComponentScores are the four weighted inputs to the overall score.
type ComponentScores struct {
	Throughput  float64 `json:"throughput"`
	Latency     float64 `json:"latency"`
	Reliability float64 `json:"reliability"`
	Resources   float64 `json:"resources"`
}

// Score weights. Reliability and throughput dominate.
const (
	weightThroughput  = 0.30
	weightLatency     = 0.25
	weightReliability = 0.30
	weightResources   = 0.15
)

// HealthScore is the per-queue composite assessment.
type HealthScore struct {
	QueueType       string          `json:"queue_type"`
	Overall         int             `json:"overall"` // [0,100]
	Grade           string          `json:"grade"`   // A..F
	Components      ComponentScores `json:"components"`
	Recommendations []string        `json:"recommendations"`
	Timestamp       time.Time       `json:"timestamp"`
}

// throughputScore steps from 100 at ≥1.2× target down to 20 below 0.4×.
func throughputScore(actual, target float64) float64 {
	if target <= 0 {
		return 100
	}
	ratio := actual / target
	switch {
	case ratio >= 1.2:
		return 100
	case ratio >= 1.0:
		return 90
	case ratio >= 0.8:
		return 75
	case ratio >= 0.6:
		return 55
	case ratio >= 0.4:
		return 35
	default:
		return 20
	}
}

// latencyScore steps from 100 at ≤0.5× target down to 20 above 3×.
func latencyScore(actual, target float64) float64 {
	if target <= 0 || actual <= 0 {
		return 100
	}
	ratio := actual / target
	switch {
	case ratio <= 0.5:
		return 100
	case ratio <= 0.75:
		return 90
	case ratio <= 1.0:
		return 80
	case ratio <= 1.5:
		return 65
	case ratio <= 2.0:
		return 50
	case ratio <= 3.0:
		return 35
	default:
		return 20
	}
}

// Dead-letter and retry penalty thresholds.
const (
	deadLetterRatioHigh     = 0.05
	deadLetterRatioModerate = 0.01
	retryRateHigh           = 0.2
	retryRateModerate       = 0.1
)

// reliabilityScore starts from the success rate and subtracts penalties
// for dead-letter pressure and retry churn.
func reliabilityScore(r ReliabilityStats, processed int64) float64 {
	score := r.SuccessRate

	if processed > 0 {
		dlRatio := float64(r.DeadLetterCount) / float64(processed)
		switch {
		case dlRatio > deadLetterRatioHigh:
			score -= 20
		case dlRatio > deadLetterRatioModerate:
			score -= 10
		}
	}

	switch {
	case r.RetryRate > retryRateHigh:
		score -= 15
	case r.RetryRate > retryRateModerate:
		score -= 10
	}

	return clamp(score, 0, 100)
}

// resourceScore averages memory and CPU sub-scores. Usage at or below the
// safe threshold scores 100; above it the score falls linearly, reaching 0
// at twice the threshold.
func resourceScore(r ResourceStats, t Targets) float64 {
	sub := func(usage, safe float64) float64 {
		if safe <= 0 || usage <= safe {
			return 100
		}
		over := (usage - safe) / safe // 0..1 maps to 100..0
		return clamp(100*(1-over), 0, 100)
	}
	return (sub(r.MemoryMB, t.SafeMemoryMB) + sub(r.CPUPercent, t.SafeCPUPercent)) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func grade(overall int) string {
	switch {
	case overall >= 90:
		return "A"
	case overall >= 80:
		return "B"
	case overall >= 70:
		return "C"
	case overall >= 60:
		return "D"
	default:
		return "F"
	}
}

// ScoreSample produces the weighted health assessment for one sample.
// processed is the number of jobs handled in the sample window.
func ScoreSample(s PerformanceSample, t Targets, processed int64) HealthScore {
	comp := ComponentScores{
		Throughput:  throughputScore(s.Throughput.JobsPerSecond, t.ThroughputPerSec),
		Latency:     latencyScore(s.Latency.AvgMs, t.LatencyMs),
		Reliability: reliabilityScore(s.Reliability, processed),
		Resources:   resourceScore(s.Resources, t),
	}

	overall := int(math.Round(
		comp.Throughput*weightThroughput +
			comp.Latency*weightLatency +
			comp.Reliability*weightReliability +
			comp.Resources*weightResources,
	))

	return HealthScore{
		QueueType:       s.QueueType,
		Overall:         overall,
		Grade:           grade(overall),
		Components:      comp,
		Recommendations: recommend(comp, s),
		Timestamp:       s.Timestamp,
	}
}

// recommend emits one actionable line per weak component.
func recommend(c ComponentScores, s PerformanceSample) []string {
	var recs []string
	if c.Throughput < 60 {
		recs = append(recs, "throughput below target: raise worker concurrency or enable batching")
	}
	if c.Latency < 60 {
		recs = append(recs, "latency above target: check processor hot paths and payload sizes")
	}
	if c.Reliability < 60 {
		recs = append(recs, "reliability degraded: inspect dead-lettered jobs and recent error spike")
	}
	if c.Resources < 60 {
		recs = append(recs, "resource pressure: lower batch sizes or raise the memory limit")
	}
	if s.Optimization.CacheHitRate < 0.1 && s.Optimization.CacheHitRate > 0 {
		recs = append(recs, "cache hit rate under 10%: review cache key coverage and TTLs")
	}
	return recs
}
