package broker

import (
	"context"

	"github.com/queueforge/queueforge/internal/domain"
)

// WorkerFunc processes a single delivered job. Return nil to acknowledge;
// an error leaves the job unacknowledged for redelivery (at-least-once).
type WorkerFunc func(ctx context.Context, job *domain.Job) error

// Counts is a point-in-time view of a queue's job populations, sampled by
// the metrics engine.
type Counts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
}

// Broker is the durable queue collaborator. It accepts queue creation with
// a concurrency bound, delivers jobs at-least-once to a registered worker
// function, and exposes job-population counts for sampling.
type Broker interface {
	// Publish enqueues a job onto the named queue.
	Publish(ctx context.Context, queueType string, job *domain.Job) error
	// Consume delivers jobs to fn with up to concurrency workers. Blocks
	// until ctx is cancelled.
	Consume(ctx context.Context, queueType string, concurrency int, fn WorkerFunc) error
	// Counts reports the queue's current job populations.
	Counts(ctx context.Context, queueType string) (Counts, error)
	// Ping verifies the broker is reachable.
	Ping(ctx context.Context) error
	Close() error
}
