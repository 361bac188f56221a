package engine

// Lifecycle event names.
const (
	EventOpen       = "open"
	EventClose      = "close"
	EventJobStart   = "job_start"
	EventJobDone    = "job_done"
	EventJobFailed  = "job_failed"
	EventOverloaded = "overloaded"
)

// Event represents a handle lifecycle event: a name, the handle id and
// optional key/values.
type Event struct {
	Name   string
	Handle string
	Fields map[string]any
}

// EventPublisher receives events from a handle. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
