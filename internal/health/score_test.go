package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughputScore_Steps(t *testing.T) {
	target := 10.0
	cases := []struct {
		actual float64
		want   float64
	}{
		{12, 100},
		{10, 90},
		{8, 75},
		{6, 55},
		{4, 35},
		{3.9, 20},
		{0, 20},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, throughputScore(tc.actual, target), "actual=%v", tc.actual)
	}
}

func TestThroughputScore_ZeroTargetIsHealthy(t *testing.T) {
	assert.Equal(t, 100.0, throughputScore(0, 0))
}

func TestLatencyScore_Steps(t *testing.T) {
	target := 100.0
	cases := []struct {
		actual float64
		want   float64
	}{
		{50, 100},
		{75, 90},
		{100, 80},
		{150, 65},
		{200, 50},
		{300, 35},
		{301, 20},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, latencyScore(tc.actual, target), "actual=%v", tc.actual)
	}
}

func TestReliabilityScore_Penalties(t *testing.T) {
	// Clean: success rate passes through.
	score := reliabilityScore(ReliabilityStats{SuccessRate: 95}, 100)
	assert.Equal(t, 95.0, score)

	// High dead-letter ratio (6/100 > 5%) costs 20 points.
	score = reliabilityScore(ReliabilityStats{SuccessRate: 95, DeadLetterCount: 6}, 100)
	assert.Equal(t, 75.0, score)

	// Moderate retry rate costs 10 points.
	score = reliabilityScore(ReliabilityStats{SuccessRate: 95, RetryRate: 0.15}, 100)
	assert.Equal(t, 85.0, score)

	// Combined penalties stack but clamp at zero.
	score = reliabilityScore(ReliabilityStats{SuccessRate: 10, DeadLetterCount: 50, RetryRate: 0.5}, 100)
	assert.Equal(t, 0.0, score)
}

func TestResourceScore_LinearPenalty(t *testing.T) {
	targets := Targets{SafeMemoryMB: 100, SafeCPUPercent: 50}

	// At or below the safe thresholds: perfect.
	assert.Equal(t, 100.0, resourceScore(ResourceStats{MemoryMB: 100, CPUPercent: 50}, targets))

	// Memory 50% over threshold halves the memory sub-score.
	score := resourceScore(ResourceStats{MemoryMB: 150, CPUPercent: 50}, targets)
	assert.Equal(t, 75.0, score)

	// At double the threshold the sub-score bottoms out.
	score = resourceScore(ResourceStats{MemoryMB: 200, CPUPercent: 100}, targets)
	assert.Equal(t, 0.0, score)
}

func TestScoreSample_WeightsAndGrade(t *testing.T) {
	sample := PerformanceSample{
		QueueType:  "export",
		Timestamp:  time.Now(),
		Throughput: ThroughputStats{JobsPerSecond: 12},
		Latency:    LatencyStats{AvgMs: 50},
		Resources:  ResourceStats{MemoryMB: 10, CPUPercent: 5},
		Reliability: ReliabilityStats{
			SuccessRate: 100,
		},
	}
	targets := Targets{ThroughputPerSec: 10, LatencyMs: 100, SafeMemoryMB: 100, SafeCPUPercent: 50}

	score := ScoreSample(sample, targets, 120)
	// Every component at 100: weights sum to 1.0.
	assert.Equal(t, 100, score.Overall)
	assert.Equal(t, "A", score.Grade)
	assert.Empty(t, score.Recommendations)
}

func TestScoreSample_WeightedBlend(t *testing.T) {
	sample := PerformanceSample{
		QueueType:   "email",
		Timestamp:   time.Now(),
		Throughput:  ThroughputStats{JobsPerSecond: 6}, // ratio 0.6 → 55
		Latency:     LatencyStats{AvgMs: 160},          // ratio 1.6 → 50
		Resources:   ResourceStats{MemoryMB: 10},       // 100
		Reliability: ReliabilityStats{SuccessRate: 80}, // 80
	}
	targets := Targets{ThroughputPerSec: 10, LatencyMs: 100, SafeMemoryMB: 100, SafeCPUPercent: 50}

	score := ScoreSample(sample, targets, 50)
	// 55*0.30 + 50*0.25 + 80*0.30 + 100*0.15 = 16.5 + 12.5 + 24 + 15 = 68
	assert.Equal(t, 68, score.Overall)
	assert.Equal(t, "D", score.Grade)
	assert.NotEmpty(t, score.Recommendations)
}

func TestGrades(t *testing.T) {
	cases := map[int]string{95: "A", 90: "A", 85: "B", 80: "B", 75: "C", 70: "C", 65: "D", 60: "D", 59: "F", 0: "F"}
	for overall, want := range cases {
		assert.Equal(t, want, grade(overall), "overall=%d", overall)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50.0, percentile(sorted, 50))
	assert.Equal(t, 100.0, percentile(sorted, 99))
	assert.Equal(t, 10.0, percentile(sorted, 1))
	assert.Equal(t, 0.0, percentile(nil, 95))
}

func TestLatencyStats_FromDurations(t *testing.T) {
	stats := latencyStats([]float64{100, 200, 300, 400})
	require.Equal(t, 250.0, stats.AvgMs)
	assert.Equal(t, 200.0, stats.P50Ms)
	assert.Equal(t, 400.0, stats.P99Ms)

	assert.Equal(t, LatencyStats{}, latencyStats(nil))
}
