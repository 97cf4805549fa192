package domain

import (
	"fmt"
	"strings"
	"time"
)

// ConfigValidationError is returned when a queue configuration violates its
// declared field ranges. Fatal: callers must not proceed with the config.
type ConfigValidationError struct {
	QueueType string
	Fields    []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for queue type %q: %s",
		e.QueueType, strings.Join(e.Fields, "; "))
}

// ProcessorNotFoundError is returned when no processor is registered for a
// queue type. The job is marked failed without retrying.
type ProcessorNotFoundError struct {
	QueueType string
}

func (e *ProcessorNotFoundError) Error() string {
	return fmt.Sprintf("no processor registered for queue type %q", e.QueueType)
}

// ProcessorConflictError is returned when registering a processor whose ID
// is already taken and override was not requested.
type ProcessorConflictError struct {
	ProcessorID string
}

func (e *ProcessorConflictError) Error() string {
	return fmt.Sprintf("processor %q already registered (use override to replace)", e.ProcessorID)
}

// JobProcessingError wraps a failure from a processor's execution. Retried
// per the job's backoff policy up to MaxAttempts.
type JobProcessingError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *JobProcessingError) Error() string {
	return fmt.Sprintf("job %s failed on attempt %d: %v", e.JobID, e.Attempt, e.Err)
}

func (e *JobProcessingError) Unwrap() error { return e.Err }

// CapacityExceededError is returned when an enqueue would push the fallback
// queue past its memory ceiling and no terminal jobs could be pruned.
type CapacityExceededError struct {
	EstimatedBytes int64
	LimitBytes     int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("queue capacity exceeded: estimated %d bytes against limit %d", e.EstimatedBytes, e.LimitBytes)
}

// ComponentTimeoutError marks one component of a coordinated operation as
// timed out. The aggregate result is degraded, not aborted.
type ComponentTimeoutError struct {
	Component string
	Timeout   time.Duration
}

func (e *ComponentTimeoutError) Error() string {
	return fmt.Sprintf("component %q timed out after %s", e.Component, e.Timeout)
}

// CacheUnavailableError signals a cache get/set failure. Logged and
// bypassed; processing continues without caching.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable during %s: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// JobNotFoundError is returned when a job ID does not exist.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// BrokerUnavailableError signals the durable broker could not be reached.
// The orchestrator swaps in the fallback in-memory queue.
type BrokerUnavailableError struct {
	Err error
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable: %v", e.Err)
}

func (e *BrokerUnavailableError) Unwrap() error { return e.Err }
