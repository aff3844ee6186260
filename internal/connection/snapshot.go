package connection

import (
	"time"

	"sessionlink/internal/session"
)

// Snapshot is a point-in-time view of the manager for diagnostics
type Snapshot struct {
	SessionCode     string    `json:"session_code"`
	ClientSessionID string    `json:"client_session_id"`
	Endpoint        string    `json:"endpoint"`
	State           string    `json:"state"`
	Attempts        int       `json:"reconnect_attempts"`
	MaxAttempts     int       `json:"max_reconnect_attempts"`
	QueueLen        int       `json:"queue_length"`
	ChannelID       uint64    `json:"channel_id,omitempty"`
	LastActivity    time.Time `json:"last_activity"`
	ManualClose     bool      `json:"manual_close"`
	Expired         bool      `json:"expired"`
	ReconnectDue    bool      `json:"reconnect_pending"`
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts since the last successful open
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// QueueLen returns how many messages wait for the next open
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// LastActivity returns when the last inbound frame arrived
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Snapshot copies the observable state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		SessionCode:     m.session.Code,
		ClientSessionID: m.session.ClientSessionID,
		Endpoint:        m.opts.Endpoint,
		State:           m.state.String(),
		Attempts:        m.attempts,
		MaxAttempts:     m.opts.MaxReconnectAttempts,
		QueueLen:        len(m.queue),
		LastActivity:    m.lastActivity,
		ManualClose:     m.manualClose,
		Expired:         m.expired,
		ReconnectDue:    m.reconnectTimer != nil,
	}
	if m.current != nil {
		s.ChannelID = m.current.ID()
	}
	return s
}

// Session returns the identity this manager connects with
func (m *Manager) Session() *session.Session {
	return m.session
}
