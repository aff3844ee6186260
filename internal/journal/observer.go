package journal

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"sessionlink/internal/hub"
)

// Observer returns a hub observer that journals every event. Inbound
// messages are recorded by type only.
func (s *Store) Observer(clientSessionID string) hub.Observer {
	return hub.ObserverFunc(func(e hub.Event) {
		entry := EntryFromEvent(e, clientSessionID)
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to journal event",
				zap.String("kind", entry.Kind),
				zap.Error(err))
		}
	})
}

// EntryFromEvent flattens e into a journal row.
func EntryFromEvent(e hub.Event, clientSessionID string) Entry {
	entry := Entry{
		SessionCode:     e.SessionCode,
		ClientSessionID: clientSessionID,
		ConnectionID:    e.ConnectionID,
		Kind:            e.Kind.String(),
		CreatedAt:       e.Time,
	}

	switch e.Kind {
	case hub.EventMessage:
		if e.Envelope != nil {
			entry.Detail = e.Envelope.Type
		}
	case hub.EventClose:
		entry.Code = e.Code
		entry.Detail = e.Reason
		if e.Manual {
			entry.Detail = "manual"
		}
	case hub.EventError:
		if e.Err != nil {
			entry.Detail = e.Err.Error()
		}
	case hub.EventReconnecting:
		entry.Code = e.Attempt
		entry.Detail = "delay=" + e.Delay.String()
	case hub.EventFailed:
		entry.Code = e.Attempt
		entry.Detail = "attempts=" + strconv.Itoa(e.Attempt)
	case hub.EventStatus:
		entry.Detail = string(e.Status.Kind)
		if e.Status.Message != "" {
			entry.Detail += ": " + e.Status.Message
		}
	}
	return entry
}
