package hub

import (
	"encoding/json"
	"time"

	"sessionlink/pkg/types"
)

// EventKind identifies a connection lifecycle event
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
	EventReconnecting
	EventReconnected
	EventFailed
	EventStatus
)

// String returns the lowercase name used in logs and the journal.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventFailed:
		return "failed"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is one observable fact about the connection. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind         EventKind
	Time         time.Time
	SessionCode  string
	ConnectionID uint64

	// EventMessage
	Envelope *types.Envelope

	// EventClose
	Code   int
	Reason string
	Manual bool

	// EventError
	Err error

	// EventReconnecting
	Attempt int
	Delay   time.Duration

	// EventReconnected
	Payload json.RawMessage

	// EventStatus
	Status types.Status
}

// Observer receives events in publish order on the hub goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
