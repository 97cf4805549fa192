// Package memqueue is a self-contained in-memory job queue used when the
// durable broker is unreachable. It simulates bounded concurrency with a
// fixed-interval dispatch loop and keeps every guarantee local: priority
// ordering, retry with capped exponential backoff, delayed promotion,
// capacity enforcement and graceful drain.
package memqueue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/pkg/retry"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

// ErrShutDown is returned by AddJob after Shutdown; unlike a capacity
// failure it is permanent and not worth backing off on.
var ErrShutDown = errors.New("memqueue: queue shut down")

// Handler executes one job. A nil error completes the job; an error
// schedules a retry or permanently fails it.
type Handler func(ctx context.Context, job *domain.Job) error

// Options configure a Queue. Zero values take the documented defaults.
type Options struct {
	MaxConcurrentJobs int           // default 5
	MemoryLimitBytes  int64         // default 64 MB
	TickInterval      time.Duration // dispatch poll, default 100ms
	PromoteInterval   time.Duration // delayed-promotion poll, default 250ms
	RetentionWindow   time.Duration // terminal-job retention, default 10m
	DefaultAttempts   int           // default 3
	Backoff           retry.Config  // default: 1s base doubling, 30s cap
	Logger            *slog.Logger
}

func (o *Options) withDefaults() {
	if o.MaxConcurrentJobs <= 0 {
		o.MaxConcurrentJobs = 5
	}
	if o.MemoryLimitBytes <= 0 {
		o.MemoryLimitBytes = 64 << 20
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 100 * time.Millisecond
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = 250 * time.Millisecond
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = 10 * time.Minute
	}
	if o.DefaultAttempts <= 0 {
		o.DefaultAttempts = 3
	}
	if o.Backoff.BaseDelay <= 0 {
		// Matches the durable broker's retry curve: 1s doubling per
		// attempt, capped at 30s.
		o.Backoff = retry.Config{
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
			Strategy:  retry.Exponential,
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats is a point-in-time population count.
type Stats struct {
	Pending    int
	Active     int
	Completed  int
	Failed     int
	Delayed    int
	MemoryUsed int64
}

// Queue is the fallback in-memory priority queue.
type Queue struct {
	opts Options

	mu       sync.Mutex
	jobs     map[string]*domain.Job
	pending  pendingHeap
	seq      uint64
	active   int
	memUsed  int64
	handlers map[string]Handler
	paused   bool
	closed   bool

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup // tick loops
	inflightWG sync.WaitGroup // dispatched jobs

	logger *slog.Logger
}

// New creates a Queue and starts its dispatch and promotion loops.
func New(opts Options) *Queue {
	opts.withDefaults()
	q := &Queue{
		opts:     opts,
		jobs:     make(map[string]*domain.Job),
		handlers: make(map[string]Handler),
		logger:   opts.Logger,
	}
	q.startLoops()
	return q
}

// RegisterHandler binds execution logic to a job type. Replaces any
// previous handler for the type.
func (q *Queue) RegisterHandler(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// AddOptions are the per-job knobs accepted by AddJob.
type AddOptions struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// memoryEstimate approximates a job's in-flight footprint as twice its
// serialized payload size.
func memoryEstimate(payload []byte) int64 {
	return 2 * int64(len(payload))
}

// AddJob enqueues a job and returns its id. When the memory estimate would
// exceed the configured ceiling, a cleanup sweep removes aged terminal
// jobs first; if the queue is still over capacity the enqueue fails with
// *domain.CapacityExceededError.
func (q *Queue) AddJob(jobType string, payload []byte, opts AddOptions) (string, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.opts.DefaultAttempts
	}

	est := memoryEstimate(payload)
	now := time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrShutDown
	}

	if q.memUsed+est > q.opts.MemoryLimitBytes {
		q.sweepLocked(now)
		if q.memUsed+est > q.opts.MemoryLimitBytes {
			return "", &domain.CapacityExceededError{EstimatedBytes: q.memUsed + est, LimitBytes: q.opts.MemoryLimitBytes}
		}
	}

	job := &domain.Job{
		ID:          uuid.New().String(),
		QueueType:   jobType,
		Kind:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		after := now.Add(opts.Delay)
		job.Status = domain.StatusDelayed
		job.ProcessAfter = &after
	}

	q.jobs[job.ID] = job
	q.memUsed += est
	if job.Status == domain.StatusPending {
		q.pushLocked(job)
	}
	telemetry.FallbackQueueDepth.Set(float64(len(q.jobs)))
	return job.ID, nil
}

func (q *Queue) pushLocked(job *domain.Job) {
	q.seq++
	heap.Push(&q.pending, &item{job: job, seq: q.seq})
}

// sweepLocked removes terminal jobs older than the retention window.
func (q *Queue) sweepLocked(now time.Time) {
	for id, job := range q.jobs {
		if job.Status.IsTerminal() && now.Sub(job.UpdatedAt) > q.opts.RetentionWindow {
			q.memUsed -= memoryEstimate(job.Payload)
			delete(q.jobs, id)
		}
	}
	telemetry.FallbackQueueDepth.Set(float64(len(q.jobs)))
}

// GetJob returns the job by id.
func (q *Queue) GetJob(id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	cp := *job
	return &cp, nil
}

// GetJobs lists jobs matching the filter, ordered by creation time.
func (q *Queue) GetJobs(filter domain.JobFilter) []*domain.Job {
	q.mu.Lock()
	var out []*domain.Job
	for _, job := range q.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// RemoveJob deletes a job that is still pending or delayed. Jobs already
// handed to a handler run to completion.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return &domain.JobNotFoundError{JobID: id}
	}
	if job.Status != domain.StatusPending && job.Status != domain.StatusDelayed {
		return &domain.JobNotFoundError{JobID: id}
	}
	// Lazy removal: the dispatch loop skips jobs no longer in the map.
	q.memUsed -= memoryEstimate(job.Payload)
	delete(q.jobs, id)
	telemetry.FallbackQueueDepth.Set(float64(len(q.jobs)))
	return nil
}

// Stats returns current population counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Active: q.active, MemoryUsed: q.memUsed}
	for _, job := range q.jobs {
		switch job.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusDelayed:
			s.Delayed++
		}
	}
	return s
}

// Pause stops both periodic loops. In-flight jobs finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || q.closed {
		return
	}
	q.paused = true
	q.stopLoopsLocked()
	q.logger.Info("fallback queue paused")
}

// Resume restarts the loops after a Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused || q.closed {
		return
	}
	q.paused = false
	q.startLoopsLocked()
	q.logger.Info("fallback queue resumed")
}

// Clear drops every job that is not actively executing.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*domain.Job)
	q.pending = q.pending[:0]
	q.memUsed = 0
	telemetry.FallbackQueueDepth.Set(0)
}

// Shutdown stops intake and both loops, then waits up to timeout for
// in-flight jobs to drain. Jobs still active past the timeout are logged
// and abandoned.
func (q *Queue) Shutdown(timeout time.Duration) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if !q.paused {
		q.stopLoopsLocked()
	}
	q.mu.Unlock()

	q.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		q.inflightWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("fallback queue drained cleanly")
	case <-time.After(timeout):
		q.mu.Lock()
		stillActive := q.active
		q.mu.Unlock()
		q.logger.Warn("fallback queue shutdown timed out with jobs still active",
			slog.Int("active", stillActive),
		)
	}
}

func (q *Queue) startLoops() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.startLoopsLocked()
}

func (q *Queue) startLoopsLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	q.loopCancel = cancel
	q.loopWG.Add(2)
	go q.dispatchLoop(ctx)
	go q.promoteLoop(ctx)
}

func (q *Queue) stopLoopsLocked() {
	if q.loopCancel != nil {
		q.loopCancel()
	}
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.loopWG.Done()
	ticker := time.NewTicker(q.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.dispatchTick(ctx)
		}
	}
}

// dispatchTick pulls up to maxConcurrentJobs − active pending jobs, in
// priority order with FIFO tie-break, and runs each against its handler.
func (q *Queue) dispatchTick(ctx context.Context) {
	q.mu.Lock()
	budget := q.opts.MaxConcurrentJobs - q.active
	var batch []*domain.Job
	for budget > 0 && q.pending.Len() > 0 {
		it := heap.Pop(&q.pending).(*item)
		job, ok := q.jobs[it.job.ID]
		if !ok || job.Status != domain.StatusPending {
			continue // removed or already re-queued
		}
		job.Status = domain.StatusProcessing
		job.UpdatedAt = time.Now().UTC()
		batch = append(batch, job)
		q.active++
		budget--
	}
	q.mu.Unlock()

	for _, job := range batch {
		q.inflightWG.Add(1)
		go q.execute(ctx, job)
	}
}

func (q *Queue) execute(ctx context.Context, job *domain.Job) {
	defer q.inflightWG.Done()

	q.mu.Lock()
	h := q.handlers[job.QueueType]
	q.mu.Unlock()

	var err error
	if h == nil {
		err = &domain.ProcessorNotFoundError{QueueType: job.QueueType}
	} else {
		err = h(ctx, job)
	}

	now := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	job.Attempts++
	job.UpdatedAt = now

	if err == nil {
		job.Status = domain.StatusCompleted
		t := now
		job.CompletedAt = &t
		return
	}

	job.LastError = err.Error()

	// No handler means no retry can ever succeed.
	if _, noHandler := err.(*domain.ProcessorNotFoundError); noHandler || job.Attempts >= job.MaxAttempts {
		job.Status = domain.StatusFailed
		q.logger.Error("fallback job permanently failed",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.QueueType),
			slog.Int("attempts", job.Attempts),
			slog.String("error", err.Error()),
		)
		return
	}

	delay := q.opts.Backoff.Delay(job.Attempts)
	after := now.Add(delay)
	job.Status = domain.StatusDelayed
	job.ProcessAfter = &after
	q.logger.Warn("fallback job failed, scheduling retry",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
		slog.Duration("delay", delay),
	)
}

func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.loopWG.Done()
	ticker := time.NewTicker(q.opts.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteTick()
		}
	}
}

// promoteTick moves delayed jobs whose ProcessAfter has elapsed back to
// pending.
func (q *Queue) promoteTick() {
	now := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Status == domain.StatusDelayed && job.ProcessAfter != nil && !job.ProcessAfter.After(now) {
			job.Status = domain.StatusPending
			job.ProcessAfter = nil
			job.UpdatedAt = now
			q.pushLocked(job)
		}
	}
}
