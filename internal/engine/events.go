package engine

import "time"

// EventKind identifies a transition lifecycle signal.
type EventKind int

const (
	EventStarted EventKind = iota
	EventCompleted
	EventCanceled
	EventPaused
	EventResumed
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventCanceled:
		return "canceled"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// TransitionEvent is delivered to observers on every transition lifecycle
// change.
type TransitionEvent struct {
	Kind     EventKind
	PhaseID  string
	State    PhaseState
	Duration time.Duration
}

// Observer receives transition lifecycle events. Observers are registered
// on the engine by its owner; the engine has no global event bus.
type Observer interface {
	TransitionEvent(ev TransitionEvent)
}
