package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"sessionlink/pkg/types"
)

// Session is the identity of one classroom session as seen by this client.
// ARCHITECTURAL DISCOVERY: Code and ClientSessionID never change after construction,
// so only the last known state needs a lock
type Session struct {
	Code            string
	ClientSessionID string
	CreatedAt       time.Time

	mu             sync.RWMutex
	lastKnownState interface{}
}

// NewSession validates the code and generates a client session ID.
func NewSession(code string) (*Session, error) {
	if !types.IsValidSessionCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionCode, code)
	}
	now := time.Now()
	return &Session{
		Code:            code,
		ClientSessionID: NewClientSessionID(now),
		CreatedAt:       now,
	}, nil
}

// NewClientSessionID returns a random identifier suffixed with the creation
// time in unix milliseconds.
// FUNCTIONAL DISCOVERY: The peer only needs uniqueness per page load; the
// timestamp suffix keeps IDs sortable in server logs
func NewClientSessionID(now time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%d", random, types.UnixMillis(now))
}

// SetLastKnownState replaces the snapshot sent with reconnect requests.
// The state must be JSON encodable; it is rejected otherwise so a later
// reconnect request cannot fail.
func (s *Session) SetLastKnownState(state interface{}) error {
	if _, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(state); err != nil {
		return fmt.Errorf("%w: %v", ErrStateNotEncodable, err)
	}
	s.mu.Lock()
	s.lastKnownState = state
	s.mu.Unlock()
	return nil
}

// LastKnownState returns the current snapshot, or nil if none was set.
func (s *Session) LastKnownState() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKnownState
}

// Snapshot is a read-only copy of the session identity
type Snapshot struct {
	Code            string      `json:"session_code"`
	ClientSessionID string      `json:"client_session_id"`
	CreatedAt       time.Time   `json:"created_at"`
	LastKnownState  interface{} `json:"last_known_state"`
}

// Snapshot copies the session identity and the current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Code:            s.Code,
		ClientSessionID: s.ClientSessionID,
		CreatedAt:       s.CreatedAt,
		LastKnownState:  s.LastKnownState(),
	}
}
