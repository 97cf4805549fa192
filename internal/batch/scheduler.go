package batch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

// FlushOutcome is what the flusher reports back for one executed batch.
type FlushOutcome struct {
	Errs                  []error // aligned with the flushed jobs
	CacheHits             int
	CompressionSavedBytes int
}

// Flusher executes an accumulated batch. The scheduler guarantees jobs are
// in arrival order and never more than the window's max size.
type Flusher func(ctx context.Context, queueType, kind string, jobs []*domain.Job) FlushOutcome

// FlushStats summarizes one completed flush.
type FlushStats struct {
	QueueType             string
	Kind                  string
	Trigger               string // "size" or "timeout"
	Processed             int
	Succeeded             int
	Failed                int
	Total                 time.Duration
	AvgPerJob             time.Duration
	HeapDeltaBytes        int64
	CacheHits             int
	CompressionSavedBytes int
}

type windowKey struct {
	queueType string
	kind      string
}

type window struct {
	jobs    []*domain.Job
	timer   *time.Timer
	maxSize int
}

// Scheduler accumulates jobs per (queueType, kind) key into time/size
// bounded batches. A window flushes when it reaches its max size or when
// its timeout elapses, whichever comes first.
type Scheduler struct {
	mu      sync.Mutex
	windows map[windowKey]*window

	flush   Flusher
	onFlush func(FlushStats) // optional observer, called after each flush
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler that hands full or expired batches to
// flush. onFlush may be nil.
func NewScheduler(flush Flusher, onFlush func(FlushStats), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		windows: make(map[windowKey]*window),
		flush:   flush,
		onFlush: onFlush,
		logger:  logger,
	}
}

// Add appends job to the pending window for its (queueType, kind) key,
// creating the window and starting its timeout timer on first use. When the
// window reaches cfg.Batch.MaxSize the timer is cancelled and the batch
// flushes immediately in the calling goroutine.
func (s *Scheduler) Add(ctx context.Context, job *domain.Job, cfg *config.QueueTypeConfig) {
	key := windowKey{queueType: job.QueueType, kind: job.Kind}

	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok {
		w = &window{maxSize: cfg.Batch.MaxSize}
		w.timer = time.AfterFunc(cfg.Batch.Timeout, func() {
			s.flushKey(ctx, key, "timeout")
		})
		s.windows[key] = w
	}
	w.jobs = append(w.jobs, job)

	if len(w.jobs) >= w.maxSize {
		w.timer.Stop()
		jobs := w.jobs
		delete(s.windows, key)
		s.mu.Unlock()
		s.run(ctx, key, jobs, "size")
		return
	}
	s.mu.Unlock()
}

// flushKey removes the window for key and executes whatever accumulated,
// even a partial batch.
func (s *Scheduler) flushKey(ctx context.Context, key windowKey, trigger string) {
	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	jobs := w.jobs
	delete(s.windows, key)
	s.mu.Unlock()

	if len(jobs) == 0 {
		return
	}
	s.run(ctx, key, jobs, trigger)
}

// Drain flushes every pending window. Called on shutdown so accumulated
// jobs are not lost.
func (s *Scheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	keys := make([]windowKey, 0, len(s.windows))
	for key, w := range s.windows {
		w.timer.Stop()
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.flushKey(ctx, key, "timeout")
	}
}

// Pending returns how many jobs are accumulated for the given key.
func (s *Scheduler) Pending(queueType, kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[windowKey{queueType: queueType, kind: kind}]
	if !ok {
		return 0
	}
	return len(w.jobs)
}

func (s *Scheduler) run(ctx context.Context, key windowKey, jobs []*domain.Job, trigger string) {
	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	outcome := s.flush(ctx, key.queueType, key.kind, jobs)

	total := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	succeeded := 0
	for _, err := range outcome.Errs {
		if err == nil {
			succeeded++
		}
	}

	stats := FlushStats{
		QueueType:             key.queueType,
		Kind:                  key.kind,
		Trigger:               trigger,
		Processed:             len(jobs),
		Succeeded:             succeeded,
		Failed:                len(jobs) - succeeded,
		Total:                 total,
		AvgPerJob:             total / time.Duration(len(jobs)),
		HeapDeltaBytes:        int64(memAfter.HeapAlloc) - int64(memBefore.HeapAlloc),
		CacheHits:             outcome.CacheHits,
		CompressionSavedBytes: outcome.CompressionSavedBytes,
	}

	telemetry.BatchesFlushed.WithLabelValues(key.queueType, trigger).Inc()
	telemetry.BatchSize.WithLabelValues(key.queueType).Observe(float64(len(jobs)))

	s.logger.Info("batch flushed",
		slog.String("queue_type", key.queueType),
		slog.String("kind", key.kind),
		slog.String("trigger", trigger),
		slog.Int("size", len(jobs)),
		slog.Int("failed", stats.Failed),
		slog.Duration("total", total),
	)

	if s.onFlush != nil {
		s.onFlush(stats)
	}
}
