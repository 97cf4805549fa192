package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/queueforge/queueforge/internal/broker"
	"github.com/queueforge/queueforge/internal/cache"
	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/internal/health"
	"github.com/queueforge/queueforge/internal/memqueue"
	"github.com/queueforge/queueforge/internal/optimize"
	"github.com/queueforge/queueforge/internal/processor"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

// Enqueue accepts a payload for processing on the named queue and returns
// the job id. Payloads past the queue's compression threshold are
// optimized before publication; with deduplication enabled, a payload
// whose result is already cached completes without being published.
func (o *Orchestrator) Enqueue(ctx context.Context, queueType string, payload []byte, opts domain.EnqueueOptions) (string, error) {
	o.mu.Lock()
	q, ok := o.queues[queueType]
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return "", errors.New("orchestrator is shut down")
	}
	if !ok {
		return "", errors.New("queue not created: " + queueType)
	}

	cfg := o.configs.Get(queueType)
	kind := opts.Kind
	if kind == "" {
		kind = queueType
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cfg.Retry.MaxAttempts
	}

	if cfg.Cache.Enabled && cfg.Cache.Deduplicate && o.cache != nil {
		if id, done := o.dedupEnqueue(ctx, queueType, kind, payload); done {
			return id, nil
		}
	}

	o.mu.Lock()
	mode := q.mode
	o.mu.Unlock()

	if mode == modeFallback {
		// The emergency path skips compression: payloads stay resident in
		// process memory either way, and the handler expects raw bytes.
		id, err := o.fallback.AddJob(queueType, payload, memqueue.AddOptions{
			Priority:    opts.Priority,
			Delay:       opts.Delay,
			MaxAttempts: maxAttempts,
		})
		if err != nil {
			return "", err
		}
		telemetry.JobsEnqueued.WithLabelValues(queueType).Inc()
		return id, nil
	}

	optimizer := optimize.New(cfg.Performance.CompressionThresholdBytes)
	res, err := optimizer.Optimize(payload)
	if err != nil {
		return "", err
	}
	if saved := res.SavedBytes(); saved > 0 {
		telemetry.CompressionSavedBytes.WithLabelValues(queueType).Add(float64(saved))
	}
	if o.engine != nil {
		o.engine.ReportCompression(queueType, res.OriginalSize, res.OptimizedSize)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		QueueType:   queueType,
		Kind:        kind,
		Payload:     res.Payload,
		Compressed:  res.Compressed,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		after := now.Add(opts.Delay)
		job.Status = domain.StatusDelayed
		job.ProcessAfter = &after
	}

	if o.archive != nil {
		if err := o.archive.Create(ctx, job); err != nil {
			o.logger.Warn("failed to archive job", "job_id", job.ID, "error", err.Error())
		}
	}

	if err := o.broker.Publish(ctx, queueType, job); err != nil {
		var unavailable *domain.BrokerUnavailableError
		if !errors.As(err, &unavailable) {
			return "", err
		}
		o.activateFallback(queueType, q)
		id, fbErr := o.fallback.AddJob(queueType, payload, memqueue.AddOptions{
			Priority:    opts.Priority,
			Delay:       opts.Delay,
			MaxAttempts: maxAttempts,
		})
		if fbErr != nil {
			return "", fbErr
		}
		telemetry.JobsEnqueued.WithLabelValues(queueType).Inc()
		return id, nil
	}

	telemetry.JobsEnqueued.WithLabelValues(queueType).Inc()
	return job.ID, nil
}

// dedupEnqueue short-circuits enqueues whose result is already cached.
// The returned job is terminal from birth.
func (o *Orchestrator) dedupEnqueue(ctx context.Context, queueType, kind string, payload []byte) (string, bool) {
	key := cache.ResultKey(queueType, kind, payload)
	_, err := o.cache.Get(ctx, key)
	if err != nil {
		return "", false
	}

	if o.engine != nil {
		o.engine.ReportCacheLookup(queueType, true)
		o.engine.ReportDedup(queueType)
	}
	telemetry.CacheHitsTotal.WithLabelValues(queueType).Inc()

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		QueueType:   queueType,
		Kind:        kind,
		Payload:     payload,
		Status:      domain.StatusCompleted,
		MaxAttempts: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	if o.archive != nil {
		if err := o.archive.Create(ctx, job); err != nil {
			o.logger.Warn("failed to archive deduplicated job", "job_id", job.ID, "error", err.Error())
		}
	}
	o.emit(domain.Event{Kind: domain.EventJobCompleted, QueueType: queueType, JobID: job.ID, At: now})
	o.logger.Info("enqueue deduplicated against cached result", "queue_type", queueType, "job_id", job.ID)
	return job.ID, true
}

// GetJob resolves a job by id, checking the fallback queue before the
// archive.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if job, err := o.fallback.GetJob(id); err == nil {
		return job, nil
	}
	if o.archive != nil {
		return o.archive.GetByID(ctx, id)
	}
	return nil, &domain.JobNotFoundError{JobID: id}
}

// GetJobs lists jobs matching the filter. Fallback-resident jobs take
// precedence over archived rows with the same id.
func (o *Orchestrator) GetJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	local := o.fallback.GetJobs(filter)

	if o.archive == nil {
		return local, nil
	}
	archived, err := o.archive.List(ctx, filter)
	if err != nil {
		o.logger.Warn("archive listing failed, returning fallback jobs only", "error", err.Error())
		return local, nil
	}

	seen := make(map[string]struct{}, len(local))
	out := make([]*domain.Job, 0, len(local)+len(archived))
	for _, job := range local {
		seen[job.ID] = struct{}{}
		out = append(out, job)
	}
	for _, job := range archived {
		if _, dup := seen[job.ID]; !dup {
			out = append(out, job)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetDeadLetters lists the most recent dead-lettered jobs for a queue
// from the archive.
func (o *Orchestrator) GetDeadLetters(ctx context.Context, queueType string, limit int) ([]*domain.Job, error) {
	if o.archive == nil {
		return nil, errors.New("job archive not configured")
	}
	return o.archive.ListDeadLetters(ctx, queueType, limit)
}

// QueueMetrics is the per-queue operational snapshot returned by
// GetMetrics.
type QueueMetrics struct {
	QueueType string              `json:"queue_type"`
	Mode      string              `json:"mode"` // "broker" or "fallback"
	Paused    bool                `json:"paused"`
	Counts    broker.Counts       `json:"counts"`
	Health    *health.HealthScore `json:"health,omitempty"`
}

// GetMetrics reports the queue's current populations and latest health
// score.
func (o *Orchestrator) GetMetrics(ctx context.Context, queueType string) (*QueueMetrics, error) {
	o.mu.Lock()
	q, ok := o.queues[queueType]
	if !ok {
		o.mu.Unlock()
		return nil, errors.New("queue not created: " + queueType)
	}
	mode := q.mode
	paused := q.paused
	o.mu.Unlock()

	m := &QueueMetrics{QueueType: queueType, Paused: paused}
	if mode == modeBroker {
		m.Mode = "broker"
		counts, err := o.broker.Counts(ctx, queueType)
		if err != nil {
			o.logger.Warn("broker counts unavailable", "queue_type", queueType, "error", err.Error())
		} else {
			m.Counts = counts
		}
	} else {
		m.Mode = "fallback"
		m.Counts = o.fallbackCounts(queueType)
	}

	if o.engine != nil {
		if score, ok := o.engine.Score(queueType); ok {
			m.Health = &score
		}
	}
	return m, nil
}

// PerformanceReport bundles the health engine's view of one queue.
type PerformanceReport struct {
	QueueType string                         `json:"queue_type"`
	Samples   []health.PerformanceSample     `json:"samples"`
	Score     *health.HealthScore            `json:"score,omitempty"`
	Impact    *health.BusinessImpactSnapshot `json:"impact,omitempty"`
}

// GetQueuePerformanceMetrics returns the sampled performance history,
// latest score and business-impact snapshot for a queue.
func (o *Orchestrator) GetQueuePerformanceMetrics(queueType string) (*PerformanceReport, error) {
	if o.engine == nil {
		return nil, errors.New("health engine not configured")
	}
	report := &PerformanceReport{
		QueueType: queueType,
		Samples:   o.engine.Samples(queueType),
	}
	if score, ok := o.engine.Score(queueType); ok {
		report.Score = &score
	}
	if impact, ok := o.engine.Impact(queueType); ok {
		report.Impact = &impact
	}
	return report, nil
}

// RegisterProcessor adds a processor to the registry.
func (o *Orchestrator) RegisterProcessor(p processor.Processor, override bool) error {
	return o.processors.Register(p, override)
}

// UnregisterProcessor removes a processor and runs its cleanup hook.
func (o *Orchestrator) UnregisterProcessor(ctx context.Context, processorID string) error {
	return o.processors.Unregister(ctx, processorID)
}

// GetConfiguration returns a copy of the queue's configuration.
func (o *Orchestrator) GetConfiguration(queueType string) *config.QueueTypeConfig {
	return o.configs.Get(queueType)
}

// UpdateConfiguration re-validates and applies cfg. A concurrency change
// on a live broker consumer restarts it with the new worker count.
func (o *Orchestrator) UpdateConfiguration(cfg *config.QueueTypeConfig) error {
	previous := o.configs.Get(cfg.QueueType)
	if err := o.configs.Update(cfg); err != nil {
		return err
	}

	if previous.Concurrency == cfg.Concurrency {
		return nil
	}
	o.mu.Lock()
	q, ok := o.queues[cfg.QueueType]
	restart := ok && q.mode == modeBroker && !q.paused
	o.mu.Unlock()
	if restart {
		o.stopConsumer(q)
		o.startConsumer(cfg.QueueType, q, cfg.Concurrency)
		o.logger.Info("consumer restarted for new concurrency",
			"queue_type", cfg.QueueType, "concurrency", cfg.Concurrency)
	}
	return nil
}

// fallbackCounts derives broker-style counts from the fallback queue's
// jobs for one queue type.
func (o *Orchestrator) fallbackCounts(queueType string) broker.Counts {
	var c broker.Counts
	for _, job := range o.fallback.GetJobs(domain.JobFilter{Kind: queueType}) {
		switch job.Status {
		case domain.StatusPending:
			c.Waiting++
		case domain.StatusProcessing:
			c.Active++
		case domain.StatusCompleted:
			c.Completed++
		case domain.StatusFailed:
			c.Failed++
		case domain.StatusDelayed:
			c.Delayed++
		}
	}
	return c
}

// QueueStates implements health.StatePoller so the engine can sample live
// queue depths.
func (o *Orchestrator) QueueStates(ctx context.Context) map[string]health.QueueState {
	o.mu.Lock()
	modes := make(map[string]queueMode, len(o.queues))
	for qt, q := range o.queues {
		modes[qt] = q.mode
	}
	o.mu.Unlock()

	out := make(map[string]health.QueueState, len(modes))
	for qt, mode := range modes {
		if mode == modeBroker {
			counts, err := o.broker.Counts(ctx, qt)
			if err != nil {
				continue
			}
			out[qt] = health.QueueState{Waiting: counts.Waiting, Active: counts.Active, Delayed: counts.Delayed}
			continue
		}
		counts := o.fallbackCounts(qt)
		out[qt] = health.QueueState{Waiting: counts.Waiting, Active: counts.Active, Delayed: counts.Delayed}
	}
	return out
}
