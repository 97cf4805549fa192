package domain

import "time"

// EventKind discriminates lifecycle event payloads.
type EventKind string

const (
	EventJobCompleted       EventKind = "job.completed"
	EventJobFailed          EventKind = "job.failed"
	EventJobProgress        EventKind = "job.progress"
	EventConfigChanged      EventKind = "config.changed"
	EventProcessorUnhealthy EventKind = "processor.unhealthy"
)

// Event is the typed payload delivered to lifecycle observers.
type Event struct {
	Kind        EventKind
	QueueType   string
	JobID       string
	ProcessorID string
	Duration    time.Duration
	Progress    float64
	Err         error
	At          time.Time
}

// Observer receives lifecycle events. Implementations must not block;
// emitters drop events for slow observers rather than stall processing.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }
