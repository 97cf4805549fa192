package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/queueforge/queueforge/internal/cache"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

// QueueState is the live depth snapshot the engine polls each sample tick.
type QueueState struct {
	Waiting int64
	Active  int64
	Delayed int64
}

// StatePoller exposes queue depths to the engine. The orchestrator
// implements it; tests supply a stub.
type StatePoller interface {
	QueueStates(ctx context.Context) map[string]QueueState
}

// maxDurations bounds the per-queue latency buffer between samples.
const maxDurations = 2048

// accumulator collects raw counts for one queue between samples. It is
// reset each tick; lifetime totals live in the sample history.
type accumulator struct {
	processed   int64
	succeeded   int64
	failed      int64
	retries     int64
	deadLetters int64

	cacheHits   int64
	cacheMisses int64
	dedupHits   int64

	batchedJobs int64

	originalBytes  int64
	optimizedBytes int64

	durationsMs []float64
}

func (a *accumulator) reset() {
	*a = accumulator{durationsMs: a.durationsMs[:0]}
}

// EngineOptions tune sampling cadence and retention.
type EngineOptions struct {
	SampleInterval time.Duration // default 15s
	MaxSamples     int           // per-queue history bound, default 240
	ScoreTTL       time.Duration // cache TTL for published scores, default 2×interval
	Logger         *slog.Logger

	// ResourceProbe overrides how process resources are measured.
	ResourceProbe func() ResourceStats
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.SampleInterval <= 0 {
		o.SampleInterval = 15 * time.Second
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = 240
	}
	if o.ScoreTTL <= 0 {
		o.ScoreTTL = 2 * o.SampleInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ResourceProbe == nil {
		o.ResourceProbe = runtimeResources
	}
	return o
}

func runtimeResources() ResourceStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ResourceStats{MemoryMB: float64(ms.HeapAlloc) / (1 << 20)}
}

// Engine turns raw per-job reports into periodic performance samples,
// health scores and alerts. The orchestrator reports into it; callers
// read scores and samples back out.
type Engine struct {
	opts   EngineOptions
	poller StatePoller
	store  cache.Store
	alerts *AlertManager
	logger *slog.Logger

	mu         sync.Mutex
	acc        map[string]*accumulator
	samples    map[string][]PerformanceSample
	scores     map[string]HealthScore
	targets    map[string]Targets
	peakHourly map[string]float64
	lastSample time.Time

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewEngine builds an engine. store may be nil, in which case scores are
// kept in memory only.
func NewEngine(poller StatePoller, store cache.Store, opts EngineOptions) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:       opts,
		poller:     poller,
		store:      store,
		alerts:     NewAlertManager(),
		logger:     opts.Logger.With("component", "health_engine"),
		acc:        make(map[string]*accumulator),
		samples:    make(map[string][]PerformanceSample),
		scores:     make(map[string]HealthScore),
		targets:    make(map[string]Targets),
		peakHourly: make(map[string]float64),
		lastSample: time.Now(),
	}
}

// Alerts exposes the alert manager for rule administration.
func (e *Engine) Alerts() *AlertManager { return e.alerts }

// SetTargets overrides scoring targets for one queue.
func (e *Engine) SetTargets(queueType string, t Targets) {
	e.mu.Lock()
	e.targets[queueType] = t
	e.mu.Unlock()
}

func (e *Engine) accFor(queueType string) *accumulator {
	a, ok := e.acc[queueType]
	if !ok {
		a = &accumulator{}
		e.acc[queueType] = a
	}
	return a
}

// ReportJob records one finished execution attempt that reached a
// terminal outcome for this attempt.
func (e *Engine) ReportJob(queueType string, d time.Duration, succeeded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.accFor(queueType)
	a.processed++
	if succeeded {
		a.succeeded++
	} else {
		a.failed++
	}
	if len(a.durationsMs) < maxDurations {
		a.durationsMs = append(a.durationsMs, float64(d)/float64(time.Millisecond))
	}
}

// ReportRetry records a retry attempt being scheduled.
func (e *Engine) ReportRetry(queueType string) {
	e.mu.Lock()
	e.accFor(queueType).retries++
	e.mu.Unlock()
}

// ReportDeadLetter records a job exhausting its retry budget.
func (e *Engine) ReportDeadLetter(queueType string) {
	e.mu.Lock()
	e.accFor(queueType).deadLetters++
	e.mu.Unlock()
}

// ReportCacheLookup records a result-cache probe.
func (e *Engine) ReportCacheLookup(queueType string, hit bool) {
	e.mu.Lock()
	a := e.accFor(queueType)
	if hit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	e.mu.Unlock()
}

// ReportDedup records a job skipped because an identical one was in flight.
func (e *Engine) ReportDedup(queueType string) {
	e.mu.Lock()
	e.accFor(queueType).dedupHits++
	e.mu.Unlock()
}

// ReportBatch records jobs flushed as part of a batch.
func (e *Engine) ReportBatch(queueType string, size int) {
	e.mu.Lock()
	e.accFor(queueType).batchedJobs += int64(size)
	e.mu.Unlock()
}

// ReportCompression records optimizer byte counts for one payload.
func (e *Engine) ReportCompression(queueType string, originalBytes, optimizedBytes int) {
	e.mu.Lock()
	a := e.accFor(queueType)
	a.originalBytes += int64(originalBytes)
	a.optimizedBytes += int64(optimizedBytes)
	e.mu.Unlock()
}

// Start launches the sampler loop. Stop with Stop or by cancelling ctx.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})

	go func() {
		defer close(e.loopDone)
		ticker := time.NewTicker(e.opts.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SampleNow(ctx)
			}
		}
	}()
	e.logger.Info("health sampler started", "interval", e.opts.SampleInterval)
}

// Stop halts the sampler loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.loopCancel != nil {
		e.loopCancel()
		<-e.loopDone
	}
}

// SampleNow takes one sample for every known queue, scores it, evaluates
// alerts and publishes results. The loop calls it on each tick; tests and
// on-demand metrics reads call it directly.
func (e *Engine) SampleNow(ctx context.Context) {
	states := map[string]QueueState{}
	if e.poller != nil {
		states = e.poller.QueueStates(ctx)
	}

	e.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(e.lastSample).Seconds()
	if elapsed <= 0 {
		elapsed = e.opts.SampleInterval.Seconds()
	}
	e.lastSample = now

	// Union of queues we polled and queues we have reports for.
	queues := make(map[string]struct{}, len(states)+len(e.acc))
	for q := range states {
		queues[q] = struct{}{}
	}
	for q := range e.acc {
		queues[q] = struct{}{}
	}

	type scored struct {
		sample PerformanceSample
		score  HealthScore
		impact BusinessImpactSnapshot
	}
	var results []scored

	for q := range queues {
		a := e.accFor(q)
		state := states[q]

		perSec := float64(a.processed) / elapsed
		hourly := perSec * 3600
		if hourly > e.peakHourly[q] {
			e.peakHourly[q] = hourly
		}

		sample := PerformanceSample{
			QueueType: q,
			Timestamp: now,
			Throughput: ThroughputStats{
				JobsPerSecond: perSec,
				JobsPerMinute: perSec * 60,
				JobsPerHour:   hourly,
				PeakPerHour:   e.peakHourly[q],
			},
			Latency:   latencyStats(a.durationsMs),
			Resources: e.opts.ResourceProbe(),
			Waiting:   state.Waiting,
			Active:    state.Active,
		}

		if a.processed > 0 {
			sample.Reliability = ReliabilityStats{
				SuccessRate:     100 * float64(a.succeeded) / float64(a.processed),
				ErrorRate:       100 * float64(a.failed) / float64(a.processed),
				RetryRate:       float64(a.retries) / float64(a.processed),
				DeadLetterCount: a.deadLetters,
			}
			sample.Optimization.BatchRate = float64(a.batchedJobs) / float64(a.processed)
		} else {
			// No traffic this window; report fully healthy reliability.
			sample.Reliability = ReliabilityStats{SuccessRate: 100}
		}
		if lookups := a.cacheHits + a.cacheMisses; lookups > 0 {
			sample.Optimization.CacheHitRate = float64(a.cacheHits) / float64(lookups)
			sample.Optimization.DedupRate = float64(a.dedupHits) / float64(lookups)
		}
		if a.originalBytes > 0 {
			sample.Optimization.CompressionRatio = float64(a.optimizedBytes) / float64(a.originalBytes)
		} else {
			sample.Optimization.CompressionRatio = 1
		}

		targets, ok := e.targets[q]
		if !ok {
			targets = DefaultTargets()
		}
		score := ScoreSample(sample, targets, a.processed)
		impact := ComputeImpact(sample)

		hist := append(e.samples[q], sample)
		if len(hist) > e.opts.MaxSamples {
			hist = hist[len(hist)-e.opts.MaxSamples:]
		}
		e.samples[q] = hist
		e.scores[q] = score

		results = append(results, scored{sample: sample, score: score, impact: impact})
		a.reset()
	}
	e.mu.Unlock()

	for _, r := range results {
		telemetry.QueueHealthScore.WithLabelValues(r.sample.QueueType).Set(float64(r.score.Overall))

		for _, inst := range e.alerts.Evaluate(r.sample, r.score, r.impact) {
			e.logger.Warn("alert fired",
				"rule", inst.RuleName,
				"queue_type", inst.QueueType,
				"metric", inst.Metric,
				"value", inst.Value,
				"threshold", inst.Threshold,
				"severity", inst.Severity)
		}

		if e.store != nil {
			e.publish(ctx, r.sample.QueueType, r.score)
		}
	}
}

func (e *Engine) publish(ctx context.Context, queueType string, score HealthScore) {
	body, err := json.Marshal(score)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, "health:score:"+queueType, body, e.opts.ScoreTTL); err != nil {
		e.logger.Warn("failed to publish health score", "queue_type", queueType, "error", err)
	}
}

// Score returns the latest health score for a queue.
func (e *Engine) Score(queueType string) (HealthScore, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scores[queueType]
	return s, ok
}

// Scores returns the latest score per queue.
func (e *Engine) Scores() map[string]HealthScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]HealthScore, len(e.scores))
	for q, s := range e.scores {
		out[q] = s
	}
	return out
}

// Samples returns the bounded sample history for a queue, oldest first.
func (e *Engine) Samples(queueType string) []PerformanceSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := e.samples[queueType]
	out := make([]PerformanceSample, len(hist))
	copy(out, hist)
	return out
}

// Latest returns the most recent sample for a queue.
func (e *Engine) Latest(queueType string) (PerformanceSample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := e.samples[queueType]
	if len(hist) == 0 {
		return PerformanceSample{}, false
	}
	return hist[len(hist)-1], true
}

// Impact computes the business impact snapshot from the latest sample.
func (e *Engine) Impact(queueType string) (BusinessImpactSnapshot, bool) {
	s, ok := e.Latest(queueType)
	if !ok {
		return BusinessImpactSnapshot{}, false
	}
	return ComputeImpact(s), true
}
