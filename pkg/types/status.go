package types

import (
	"fmt"
	"time"
)

// StatusKind selects how the status indicator renders a state
type StatusKind string

const (
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusReconnecting StatusKind = "reconnecting"
	StatusTimeout      StatusKind = "timeout"
	StatusError        StatusKind = "error"
	StatusExpired      StatusKind = "expired"
	StatusFailed       StatusKind = "failed"
)

// Status is a human-readable connection state pushed to a presenter.
// Dismiss > 0 asks the presenter to hide it after that long.
type Status struct {
	Kind    StatusKind    `json:"kind"`
	Message string        `json:"message"`
	Dismiss time.Duration `json:"dismiss,omitempty"`
}

// Default status texts
const (
	TextConnected       = "Connected"
	TextConnectionLost  = "Connection lost"
	TextConnectionError = "Connection error"
	TextConnectionClose = "Connection closed"
	TextTimedOut        = "Connection timed out"
	TextSessionExpired  = "Session expired"
	TextFailed          = "Unable to reconnect. Please refresh the page."
)

// ReconnectingText renders the reconnecting status for an attempt
func ReconnectingText(attempt int) string {
	return fmt.Sprintf("Reconnecting... (attempt %d)", attempt)
}

// orDefault returns msg unless it is empty
func orDefault(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

// NewStatus builds a Status, falling back to the default text for its kind
func NewStatus(kind StatusKind, msg string) Status {
	switch kind {
	case StatusConnected:
		msg = orDefault(msg, TextConnected)
	case StatusDisconnected:
		msg = orDefault(msg, TextConnectionLost)
	case StatusTimeout:
		msg = orDefault(msg, TextTimedOut)
	case StatusError:
		msg = orDefault(msg, TextConnectionError)
	case StatusExpired:
		msg = orDefault(msg, TextSessionExpired)
	case StatusFailed:
		msg = orDefault(msg, TextFailed)
	}
	return Status{Kind: kind, Message: msg}
}
