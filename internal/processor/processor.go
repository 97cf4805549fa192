package processor

import (
	"context"
	"time"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

// Processor is pluggable execution logic bound to one or more queue types.
type Processor interface {
	ID() string
	QueueTypes() []string
	Process(ctx context.Context, job *domain.Job, cfg *config.QueueTypeConfig) ([]byte, error)
}

// BatchProcessor is implemented by processors that can amortize overhead
// across a whole batch. Results must align index-for-index with jobs.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, jobs []*domain.Job, cfg *config.QueueTypeConfig) ([][]byte, error)
}

// Validator is implemented by processors that can reject a job's payload
// before execution.
type Validator interface {
	ValidateJob(job *domain.Job) error
}

// HealthChecker is implemented by processors with a liveness probe. A probe
// error or timeout flags the processor unhealthy; it is never treated as a
// crash.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CleanupHook is invoked once when a processor is unregistered.
type CleanupHook interface {
	Cleanup(ctx context.Context) error
}

// Stats is a snapshot of a processor's running counters.
type Stats struct {
	Processed       int64
	Succeeded       int64
	Failed          int64
	AvgLatencyMs    float64
	Healthy         bool
	LastHealthCheck time.Time
}
