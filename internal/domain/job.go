package domain

import "time"

// Status represents the states a job can be in.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDelayed    Status = "DELAYED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the core domain entity representing a unit of queued work.
type Job struct {
	ID           string     `json:"id"`
	QueueType    string     `json:"queue_type"`
	Kind         string     `json:"kind"`
	Payload      []byte     `json:"payload"`
	Compressed   bool       `json:"compressed"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Status       Status     `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessAfter *time.Time `json:"process_after,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CanTransition reports whether moving from the job's current status to
// next is a legal lifecycle transition:
//
//	pending  → processing
//	processing → completed | failed | delayed
//	delayed  → pending
func (j *Job) CanTransition(next Status) bool {
	switch j.Status {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusDelayed
	case StatusDelayed:
		return next == StatusPending
	default:
		return false
	}
}

// JobExecution records a single execution attempt of a job.
type JobExecution struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	QueueType  string    `json:"queue_type"`
	Attempt    int       `json:"attempt"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// JobFilter narrows GetJobs listings.
type JobFilter struct {
	Status *Status
	Kind   string
	Limit  int
}

// EnqueueOptions are the caller-facing knobs accepted on enqueue.
type EnqueueOptions struct {
	Kind        string
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}
