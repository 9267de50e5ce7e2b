package scheduler

import "time"

// EventKind identifies a job lifecycle event.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventSuccess   EventKind = "success"
	EventError     EventKind = "error"
	EventMissed    EventKind = "missed"
)

// Event is a single lifecycle notification from the Core.
type Event struct {
	JobID string
	Kind  EventKind

	// ScheduledAt is the fire time that produced this event.
	ScheduledAt time.Time

	// Value is the handler's return value (success only).
	Value any

	// Err is the handler failure (error only).
	Err error
}

// Listener consumes Core events. Calls are serialized per job but may
// interleave across jobs; implementations must be safe for concurrent use.
type Listener func(Event)
