package processor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

// Registry maps queue types to their registered processors and dispatches
// job execution. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Processor
	byType    map[string][]string // queue type → processor IDs, registration order
	stats     map[string]*procStats
	observers []domain.Observer
	logger    *slog.Logger
}

type procStats struct {
	mu              sync.Mutex
	processed       int64
	succeeded       int64
	failed          int64
	avgLatencyMs    float64
	healthy         bool
	lastHealthCheck time.Time
}

func (s *procStats) record(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if err != nil {
		s.failed++
	} else {
		s.succeeded++
	}
	// Incremental rolling mean.
	ms := float64(d.Milliseconds())
	s.avgLatencyMs += (ms - s.avgLatencyMs) / float64(s.processed)
}

func (s *procStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Processed:       s.processed,
		Succeeded:       s.succeeded,
		Failed:          s.failed,
		AvgLatencyMs:    s.avgLatencyMs,
		Healthy:         s.healthy,
		LastHealthCheck: s.lastHealthCheck,
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:   make(map[string]Processor),
		byType: make(map[string][]string),
		stats:  make(map[string]*procStats),
		logger: logger,
	}
}

// Register adds a processor and indexes it under each supported queue type.
// Registering an ID that already exists fails unless override is true, in
// which case the previous processor is replaced and re-indexed.
func (r *Registry) Register(p Processor, override bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.byID[id]; exists {
		if !override {
			return &domain.ProcessorConflictError{ProcessorID: id}
		}
		r.dropIndexLocked(id)
	}

	r.byID[id] = p
	r.stats[id] = &procStats{healthy: true}
	for _, qt := range p.QueueTypes() {
		r.byType[qt] = append(r.byType[qt], id)
	}

	r.logger.Info("processor registered",
		slog.String("processor_id", id),
		slog.Any("queue_types", p.QueueTypes()),
		slog.Bool("override", override),
	)
	return nil
}

// Unregister removes all type mappings for the processor and invokes its
// cleanup hook if present.
func (r *Registry) Unregister(ctx context.Context, processorID string) error {
	r.mu.Lock()
	p, ok := r.byID[processorID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("processor %q not registered", processorID)
	}
	r.dropIndexLocked(processorID)
	delete(r.byID, processorID)
	delete(r.stats, processorID)
	r.mu.Unlock()

	if hook, ok := p.(CleanupHook); ok {
		if err := hook.Cleanup(ctx); err != nil {
			r.logger.Error("processor cleanup hook failed",
				slog.String("processor_id", processorID),
				slog.String("error", err.Error()),
			)
		}
	}
	r.logger.Info("processor unregistered", slog.String("processor_id", processorID))
	return nil
}

func (r *Registry) dropIndexLocked(processorID string) {
	for qt, ids := range r.byType {
		ids = slices.DeleteFunc(ids, func(id string) bool { return id == processorID })
		if len(ids) == 0 {
			delete(r.byType, qt)
		} else {
			r.byType[qt] = ids
		}
	}
}

// GetProcessor returns the first processor registered for queueType.
// Selection beyond "first registered" is deliberately not implemented; it
// is a configuration point, not a load-balancing policy.
func (r *Registry) GetProcessor(queueType string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byType[queueType]
	if len(ids) == 0 {
		return nil, &domain.ProcessorNotFoundError{QueueType: queueType}
	}
	return r.byID[ids[0]], nil
}

// Stats returns a snapshot of the processor's running counters.
func (r *Registry) Stats(processorID string) (Stats, bool) {
	r.mu.RLock()
	s, ok := r.stats[processorID]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return s.snapshot(), true
}

// ProcessJob resolves the processor for queueType, validates the job when
// the processor supports validation, dispatches it, and records latency and
// outcome against the processor's counters.
func (r *Registry) ProcessJob(ctx context.Context, queueType string, job *domain.Job, cfg *config.QueueTypeConfig) ([]byte, error) {
	p, err := r.GetProcessor(queueType)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("processor").Start(ctx, "processor.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("processor.id", p.ID()),
		attribute.String("job.id", job.ID),
		attribute.String("queue.type", queueType),
	)

	if v, ok := p.(Validator); ok {
		if err := v.ValidateJob(job); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job validation failed")
			return nil, &domain.JobProcessingError{JobID: job.ID, Attempt: job.Attempts, Err: err}
		}
	}

	start := time.Now()
	result, procErr := p.Process(ctx, job, cfg)
	elapsed := time.Since(start)

	r.mu.RLock()
	stats := r.stats[p.ID()]
	r.mu.RUnlock()
	if stats != nil {
		stats.record(elapsed, procErr)
	}

	if procErr != nil {
		span.RecordError(procErr)
		span.SetStatus(codes.Error, "processing failed")
		return nil, &domain.JobProcessingError{JobID: job.ID, Attempt: job.Attempts, Err: procErr}
	}
	return result, nil
}

// ProcessBatch executes jobs through the processor's batch method when it
// has one. A batch-level failure, or the absence of a batch method,
// degrades to sequential per-job processing with isolated error capture:
// one bad job never aborts the rest. The returned slices align
// index-for-index with jobs.
func (r *Registry) ProcessBatch(ctx context.Context, queueType string, jobs []*domain.Job, cfg *config.QueueTypeConfig) ([][]byte, []error) {
	results := make([][]byte, len(jobs))
	errs := make([]error, len(jobs))

	p, err := r.GetProcessor(queueType)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return results, errs
	}

	if bp, ok := p.(BatchProcessor); ok {
		start := time.Now()
		batchResults, batchErr := bp.ProcessBatch(ctx, jobs, cfg)
		elapsed := time.Since(start)

		r.mu.RLock()
		stats := r.stats[p.ID()]
		r.mu.RUnlock()

		if batchErr == nil && len(batchResults) == len(jobs) {
			if stats != nil {
				per := elapsed / time.Duration(len(jobs))
				for range jobs {
					stats.record(per, nil)
				}
			}
			return batchResults, errs
		}
		r.logger.Warn("batch processing failed, degrading to sequential",
			slog.String("queue_type", queueType),
			slog.Int("batch_size", len(jobs)),
			slog.Any("error", batchErr),
		)
	}

	for i, job := range jobs {
		results[i], errs[i] = r.ProcessJob(ctx, queueType, job, cfg)
	}
	return results, errs
}
