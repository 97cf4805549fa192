package health

import (
	"sort"
	"time"
)

// ThroughputStats describe observed processing rates.
type ThroughputStats struct {
	JobsPerSecond float64 `json:"jobs_per_second"`
	JobsPerMinute float64 `json:"jobs_per_minute"`
	JobsPerHour   float64 `json:"jobs_per_hour"`
	PeakPerHour   float64 `json:"peak_per_hour"`
}

// LatencyStats describe observed job durations in milliseconds.
type LatencyStats struct {
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// ResourceStats describe process resource usage at sample time.
type ResourceStats struct {
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// OptimizationStats describe how effective batching, compression, caching
// and deduplication were over the sample window.
type OptimizationStats struct {
	BatchRate        float64 `json:"batch_rate"`        // fraction of jobs processed in batches
	CompressionRatio float64 `json:"compression_ratio"` // optimized/original bytes, 1.0 = no savings
	CacheHitRate     float64 `json:"cache_hit_rate"`
	DedupRate        float64 `json:"dedup_rate"`
}

// ReliabilityStats describe success and failure behaviour.
type ReliabilityStats struct {
	SuccessRate     float64 `json:"success_rate"` // percent [0,100]
	ErrorRate       float64 `json:"error_rate"`   // percent [0,100]
	RetryRate       float64 `json:"retry_rate"`   // retries per processed job
	DeadLetterCount int64   `json:"dead_letter_count"`
}

// PerformanceSample is a per-queue timestamped snapshot. Samples form a
// bounded, time-windowed history owned exclusively by the Engine.
type PerformanceSample struct {
	QueueType    string            `json:"queue_type"`
	Timestamp    time.Time         `json:"timestamp"`
	Throughput   ThroughputStats   `json:"throughput"`
	Latency      LatencyStats      `json:"latency"`
	Resources    ResourceStats     `json:"resources"`
	Optimization OptimizationStats `json:"optimization"`
	Reliability  ReliabilityStats  `json:"reliability"`
	Waiting      int64             `json:"waiting"`
	Active       int64             `json:"active"`
}

// percentile returns the p-th percentile (0 < p ≤ 100) of sorted, using
// the nearest-rank method. sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// latencyStats computes avg and percentiles from raw durations (ms).
func latencyStats(durationsMs []float64) LatencyStats {
	if len(durationsMs) == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, len(durationsMs))
	copy(sorted, durationsMs)
	sort.Float64s(sorted)

	var sum float64
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		AvgMs: sum / float64(len(sorted)),
		P50Ms: percentile(sorted, 50),
		P95Ms: percentile(sorted, 95),
		P99Ms: percentile(sorted, 99),
	}
}
