package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/queueforge/queueforge/internal/batch"
	"github.com/queueforge/queueforge/internal/cache"
	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/internal/optimize"
	"github.com/queueforge/queueforge/pkg/retry"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

// retryConfig maps a queue's retry policy onto the retry package. The
// delay cap matches the fallback queue's curve.
func retryConfig(policy config.RetryPolicy) retry.Config {
	strategy := retry.Exponential
	if policy.Strategy == config.RetryLinear {
		strategy = retry.Linear
	}
	return retry.Config{
		MaxAttempts: policy.MaxAttempts,
		BaseDelay:   policy.BackoffBase,
		MaxDelay:    30 * time.Second,
		Strategy:    strategy,
	}
}

// handleDelivery is the broker worker function. Returning nil commits the
// message; retries and dead-lettering happen in-process, so a delivered
// job is always committed once its outcome is decided.
func (o *Orchestrator) handleDelivery(ctx context.Context, job *domain.Job) error {
	if err := o.waitUntilDue(ctx, job); err != nil {
		return err // shutdown mid-wait; leave uncommitted for redelivery
	}

	cfg := o.configs.Get(job.QueueType)
	if cfg.Batch.Enabled {
		o.batches.Add(ctx, job, cfg)
		return nil
	}
	o.processJob(ctx, job, cfg)
	return nil
}

// waitUntilDue blocks until the job's ProcessAfter has passed.
func (o *Orchestrator) waitUntilDue(ctx context.Context, job *domain.Job) error {
	if job.ProcessAfter == nil {
		return nil
	}
	wait := time.Until(*job.ProcessAfter)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// processJob runs the full single-job pipeline: restore payload, consult
// the result cache, dispatch with retry, store the result, archive and
// report. The job always reaches a terminal state.
func (o *Orchestrator) processJob(ctx context.Context, job *domain.Job, cfg *config.QueueTypeConfig) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "orchestrator.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("queue.type", job.QueueType),
		attribute.String("job.kind", job.Kind),
	)

	optimizer := optimize.New(cfg.Performance.CompressionThresholdBytes)
	data, err := optimizer.Restore(job.Payload, job.Compressed)
	if err != nil {
		// An unrecoverable payload can never process; fail immediately.
		span.RecordError(err)
		span.SetStatus(codes.Error, "payload restore failed")
		job.Attempts++
		o.finishFailure(ctx, job, err)
		return
	}
	job.Payload = data
	job.Compressed = false

	var key string
	if cfg.Cache.Enabled && o.cache != nil {
		key = cache.ResultKey(job.QueueType, job.Kind, data)
		if _, ok := o.cacheLookup(ctx, job.QueueType, key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			o.finishSuccess(ctx, job, 0)
			return
		}
	}

	result, dur, procErr := o.dispatchWithRetry(ctx, job, cfg)
	if procErr != nil {
		span.RecordError(procErr)
		span.SetStatus(codes.Error, "job failed permanently")
		o.finishFailure(ctx, job, procErr)
		return
	}

	if key != "" {
		o.cacheStore(ctx, job.QueueType, key, result, cfg.Cache.ResultTTL)
	}
	o.finishSuccess(ctx, job, dur)
}

// cacheLookup probes the result cache. Store failures other than a miss
// are logged and treated as misses so an unavailable cache never blocks
// processing.
func (o *Orchestrator) cacheLookup(ctx context.Context, queueType, key string) ([]byte, bool) {
	result, err := o.cache.Get(ctx, key)
	switch {
	case err == nil:
		telemetry.CacheHitsTotal.WithLabelValues(queueType).Inc()
		if o.engine != nil {
			o.engine.ReportCacheLookup(queueType, true)
		}
		return result, true
	case errors.Is(err, cache.ErrMiss):
		telemetry.CacheMissesTotal.WithLabelValues(queueType).Inc()
		if o.engine != nil {
			o.engine.ReportCacheLookup(queueType, false)
		}
		return nil, false
	default:
		cacheErr := &domain.CacheUnavailableError{Op: "get", Err: err}
		o.logger.Warn("cache unavailable, bypassing", "queue_type", queueType, "error", cacheErr.Error())
		return nil, false
	}
}

func (o *Orchestrator) cacheStore(ctx context.Context, queueType, key string, result []byte, ttl time.Duration) {
	if err := o.cache.Set(ctx, key, result, ttl); err != nil {
		cacheErr := &domain.CacheUnavailableError{Op: "set", Err: err}
		o.logger.Warn("failed to cache job result", "queue_type", queueType, "error", cacheErr.Error())
	}
}

// dispatchWithRetry executes the job through the processor registry under
// the queue's retry policy. Each attempt increments job.Attempts, records
// an execution row and reports into the health engine. A missing processor
// aborts retries: no later attempt could succeed.
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, job *domain.Job, cfg *config.QueueTypeConfig) ([]byte, time.Duration, error) {
	var result []byte
	var lastDur time.Duration

	rc := retryConfig(cfg.Retry)
	// A per-job budget set at enqueue narrows the queue's policy, never
	// widens it.
	if job.MaxAttempts > 0 && job.MaxAttempts < rc.MaxAttempts {
		rc.MaxAttempts = job.MaxAttempts
	}
	rc.OnRetry = func(attempt int, err error) {
		telemetry.JobRetriesTotal.WithLabelValues(job.QueueType).Inc()
		if o.engine != nil {
			o.engine.ReportRetry(job.QueueType)
		}
		o.logger.Warn("job attempt failed, retrying",
			"job_id", job.ID, "attempt", attempt, "error", err.Error())
	}

	err := retry.Do(ctx, rc, func() error {
		job.Attempts++
		telemetry.JobsInFlight.WithLabelValues(job.QueueType).Inc()
		start := time.Now()
		res, procErr := o.processors.ProcessJob(ctx, job.QueueType, job, cfg)
		lastDur = time.Since(start)
		telemetry.JobsInFlight.WithLabelValues(job.QueueType).Dec()

		o.recordExecution(ctx, job, lastDur, procErr)
		if o.engine != nil {
			o.engine.ReportJob(job.QueueType, lastDur, procErr == nil)
		}

		if procErr != nil {
			var notFound *domain.ProcessorNotFoundError
			if errors.As(procErr, &notFound) {
				return retry.Abort(procErr)
			}
			return procErr
		}
		result = res
		return nil
	})
	return result, lastDur, err
}

// recordExecution archives one attempt, best-effort.
func (o *Orchestrator) recordExecution(ctx context.Context, job *domain.Job, d time.Duration, procErr error) {
	if o.archive == nil {
		return
	}
	status := domain.StatusCompleted
	errText := ""
	if procErr != nil {
		status = domain.StatusFailed
		errText = procErr.Error()
	}
	exec := &domain.JobExecution{
		JobID:      job.ID,
		QueueType:  job.QueueType,
		Attempt:    job.Attempts,
		Status:     status,
		DurationMs: d.Milliseconds(),
		Error:      errText,
	}
	if err := o.archive.RecordExecution(ctx, exec); err != nil {
		o.logger.Warn("failed to archive execution", "job_id", job.ID, "error", err.Error())
	}
}

func (o *Orchestrator) finishSuccess(ctx context.Context, job *domain.Job, d time.Duration) {
	now := time.Now().UTC()
	job.Status = domain.StatusCompleted
	job.UpdatedAt = now
	job.CompletedAt = &now

	telemetry.JobsProcessed.WithLabelValues(job.QueueType, "completed").Inc()
	if d > 0 {
		telemetry.JobDurationSeconds.WithLabelValues(job.QueueType).Observe(d.Seconds())
	}
	o.archiveStatus(ctx, job)
	o.emit(domain.Event{
		Kind:      domain.EventJobCompleted,
		QueueType: job.QueueType,
		JobID:     job.ID,
		Duration:  d,
		At:        now,
	})
}

// finishFailure marks the job permanently failed and publishes it to the
// dead-letter topic when the broker keeps one.
func (o *Orchestrator) finishFailure(ctx context.Context, job *domain.Job, procErr error) {
	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.LastError = procErr.Error()
	job.UpdatedAt = now

	telemetry.JobsProcessed.WithLabelValues(job.QueueType, "failed").Inc()
	telemetry.DeadLettersTotal.WithLabelValues(job.QueueType).Inc()
	if o.engine != nil {
		o.engine.ReportDeadLetter(job.QueueType)
	}

	if dl, ok := o.broker.(DeadLetterer); ok {
		if err := dl.PublishDeadLetter(ctx, job); err != nil {
			o.logger.Error("failed to publish dead letter", "job_id", job.ID, "error", err.Error())
		}
	}

	o.archiveStatus(ctx, job)
	o.emit(domain.Event{
		Kind:      domain.EventJobFailed,
		QueueType: job.QueueType,
		JobID:     job.ID,
		Err:       procErr,
		At:        now,
	})
	o.logger.Error("job permanently failed",
		"job_id", job.ID,
		"queue_type", job.QueueType,
		"attempts", job.Attempts,
		"error", procErr.Error())
}

func (o *Orchestrator) archiveStatus(ctx context.Context, job *domain.Job) {
	if o.archive == nil {
		return
	}
	if err := o.archive.UpdateStatus(ctx, job.ID, job.Status, job.LastError); err != nil {
		o.logger.Warn("failed to archive job status", "job_id", job.ID, "error", err.Error())
	}
}

// flushBatch is the batch scheduler's flusher. Cached jobs complete from
// the cache; the remainder goes through the registry's batch path, which
// degrades to isolated sequential processing on failure.
func (o *Orchestrator) flushBatch(ctx context.Context, queueType, _ string, jobs []*domain.Job) batch.FlushOutcome {
	cfg := o.configs.Get(queueType)
	optimizer := optimize.New(cfg.Performance.CompressionThresholdBytes)
	outcome := batch.FlushOutcome{Errs: make([]error, len(jobs))}

	keys := make([]string, len(jobs))
	var pending []*domain.Job
	var pendingIdx []int

	for i, job := range jobs {
		wireLen := len(job.Payload)
		wasCompressed := job.Compressed
		data, err := optimizer.Restore(job.Payload, job.Compressed)
		if err != nil {
			job.Attempts++
			outcome.Errs[i] = err
			o.finishFailure(ctx, job, err)
			continue
		}
		job.Payload = data
		job.Compressed = false
		if wasCompressed {
			outcome.CompressionSavedBytes += len(data) - wireLen
		}

		if cfg.Cache.Enabled && o.cache != nil {
			keys[i] = cache.ResultKey(job.QueueType, job.Kind, data)
			if _, ok := o.cacheLookup(ctx, queueType, keys[i]); ok {
				outcome.CacheHits++
				o.finishSuccess(ctx, job, 0)
				continue
			}
		}
		pending = append(pending, job)
		pendingIdx = append(pendingIdx, i)
	}

	if len(pending) > 0 {
		start := time.Now()
		for _, job := range pending {
			job.Attempts++
		}
		results, errs := o.processors.ProcessBatch(ctx, queueType, pending, cfg)
		per := time.Since(start) / time.Duration(len(pending))

		for j, job := range pending {
			i := pendingIdx[j]
			outcome.Errs[i] = errs[j]
			o.recordExecution(ctx, job, per, errs[j])
			if o.engine != nil {
				o.engine.ReportJob(queueType, per, errs[j] == nil)
			}
			if errs[j] != nil {
				o.finishFailure(ctx, job, errs[j])
				continue
			}
			if keys[i] != "" {
				o.cacheStore(ctx, queueType, keys[i], results[j], cfg.Cache.ResultTTL)
			}
			o.finishSuccess(ctx, job, per)
		}
	}

	if o.engine != nil {
		o.engine.ReportBatch(queueType, len(jobs))
	}
	return outcome
}

// fallbackHandler executes one fallback-queue job through the processor
// registry. The fallback queue owns retry scheduling; the handler reports
// a single attempt's outcome.
func (o *Orchestrator) fallbackHandler(ctx context.Context, job *domain.Job) error {
	cfg := o.configs.Get(job.QueueType)

	start := time.Now()
	_, err := o.processors.ProcessJob(ctx, job.QueueType, job, cfg)
	dur := time.Since(start)

	if o.engine != nil {
		o.engine.ReportJob(job.QueueType, dur, err == nil)
	}
	if err == nil {
		telemetry.JobsProcessed.WithLabelValues(job.QueueType, "completed").Inc()
		telemetry.JobDurationSeconds.WithLabelValues(job.QueueType).Observe(dur.Seconds())
		o.emit(domain.Event{
			Kind:      domain.EventJobCompleted,
			QueueType: job.QueueType,
			JobID:     job.ID,
			Duration:  dur,
			At:        time.Now().UTC(),
		})
	}
	return err
}
