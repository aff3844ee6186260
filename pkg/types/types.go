package types

import (
	"encoding/json"
	"time"
)

// ARCHITECTURAL DISCOVERY: Wire type constants mirror the design-thinking channel
// exactly so inbound dispatch and outbound builders share one vocabulary
const (
	MessageTypeHeartbeat            = "heartbeat"
	MessageTypeConnectionTimeout    = "connection_timeout"
	MessageTypeReconnectionComplete = "reconnection_complete"
	MessageTypeSessionExpired       = "session_expired"
	MessageTypeError                = "error"
	MessageTypePong                 = "pong"

	MessageTypeHeartbeatResponse = "heartbeat_response"
	MessageTypePing              = "ping"
	MessageTypeReconnectRequest  = "reconnect_request"
)

// Envelope is a decoded inbound frame. Raw keeps the full original object so
// callers can decode application-specific fields themselves.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Decode unmarshals the whole frame into v.
func (e *Envelope) Decode(v interface{}) error {
	return codec.Unmarshal(e.Raw, v)
}

// HeartbeatPayload is sent periodically by the peer.
// FUNCTIONAL DISCOVERY: Timestamp is echoed verbatim, whatever its JSON type
type HeartbeatPayload struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ConnectionTimeoutPayload warns that the peer considers the client stale.
type ConnectionTimeoutPayload struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ShouldReconnect bool   `json:"should_reconnect"`
}

// ReconnectionCompletePayload confirms the peer resynchronized the client.
type ReconnectionCompletePayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionExpiredPayload ends the classroom session from the peer side.
type SessionExpiredPayload struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ShouldRedirect bool   `json:"should_redirect"`
	RedirectURL    string `json:"redirect_url"`
}

// ErrorPayload carries an application-level error message from the peer.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HeartbeatResponseMessage answers a peer heartbeat.
type HeartbeatResponseMessage struct {
	Type       string          `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp"`
	ClientTime int64           `json:"client_time"`
}

// PingMessage is the client keep-alive.
type PingMessage struct {
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	ClientSessionID string `json:"client_session_id"`
}

// ReconnectRequestMessage asks the peer to resynchronize application state.
type ReconnectRequestMessage struct {
	Type            string      `json:"type"`
	ClientSessionID string      `json:"client_session_id"`
	LastKnownState  interface{} `json:"last_known_state"`
	Timestamp       int64       `json:"timestamp"`
}

// UnixMillis converts t to the millisecond timestamps used on the wire.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// HeartbeatResponse builds the reply to a heartbeat. A missing timestamp is
// echoed as JSON null.
func HeartbeatResponse(echo json.RawMessage, clientTime time.Time) *HeartbeatResponseMessage {
	if len(echo) == 0 {
		echo = json.RawMessage("null")
	}
	return &HeartbeatResponseMessage{
		Type:       MessageTypeHeartbeatResponse,
		Timestamp:  echo,
		ClientTime: UnixMillis(clientTime),
	}
}

// Ping builds the periodic client keep-alive.
func Ping(now time.Time, clientSessionID string) *PingMessage {
	return &PingMessage{
		Type:            MessageTypePing,
		Timestamp:       UnixMillis(now),
		ClientSessionID: clientSessionID,
	}
}

// ReconnectRequest builds a resynchronization request.
func ReconnectRequest(clientSessionID string, lastKnownState interface{}, now time.Time) *ReconnectRequestMessage {
	return &ReconnectRequestMessage{
		Type:            MessageTypeReconnectRequest,
		ClientSessionID: clientSessionID,
		LastKnownState:  lastKnownState,
		Timestamp:       UnixMillis(now),
	}
}
