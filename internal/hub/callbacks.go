package hub

import (
	"encoding/json"
	"time"

	"sessionlink/pkg/types"
)

// Callbacks is an Observer built from optional per-kind functions. Nil fields
// are skipped, so a subscriber only fills in what it needs.
type Callbacks struct {
	OnOpen         func()
	OnMessage      func(env *types.Envelope)
	OnClose        func(code int, reason string, manual bool)
	OnError        func(err error)
	OnReconnecting func(attempt int, delay time.Duration)
	OnReconnected  func(payload json.RawMessage)
	OnFailed       func()
	OnStatus       func(status types.Status)
}

// OnEvent dispatches e to the matching callback.
func (c Callbacks) OnEvent(e Event) {
	switch e.Kind {
	case EventOpen:
		if c.OnOpen != nil {
			c.OnOpen()
		}
	case EventMessage:
		if c.OnMessage != nil {
			c.OnMessage(e.Envelope)
		}
	case EventClose:
		if c.OnClose != nil {
			c.OnClose(e.Code, e.Reason, e.Manual)
		}
	case EventError:
		if c.OnError != nil {
			c.OnError(e.Err)
		}
	case EventReconnecting:
		if c.OnReconnecting != nil {
			c.OnReconnecting(e.Attempt, e.Delay)
		}
	case EventReconnected:
		if c.OnReconnected != nil {
			c.OnReconnected(e.Payload)
		}
	case EventFailed:
		if c.OnFailed != nil {
			c.OnFailed()
		}
	case EventStatus:
		if c.OnStatus != nil {
			c.OnStatus(e.Status)
		}
	}
}
