package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIsValidSessionCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"upper alnum", "ABC123", true},
		{"underscore", "team_7", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 33), false},
		{"slash", "abc/def", false},
		{"hyphen", "abc-def", false},
		{"space", "abc def", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSessionCode(tt.code); got != tt.want {
				t.Errorf("IsValidSessionCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	if err := ValidateSessionCode("bad code"); err != ErrInvalidSessionCode {
		t.Errorf("Expected ErrInvalidSessionCode, got %v", err)
	}
}

func TestEncode_RequiresTypedObject(t *testing.T) {
	if _, err := Encode(map[string]interface{}{"type": "ping_app"}); err != nil {
		t.Errorf("Expected typed map to encode, got %v", err)
	}

	if _, err := Encode(map[string]interface{}{"payload": 1}); err != ErrMissingType {
		t.Errorf("Expected ErrMissingType, got %v", err)
	}

	if _, err := Encode([]int{1, 2}); err != ErrNotAnObject {
		t.Errorf("Expected ErrNotAnObject, got %v", err)
	}

	if _, err := Encode(map[string]interface{}{"type": "x", "fn": func() {}}); err != ErrUnencodable {
		t.Errorf("Expected ErrUnencodable, got %v", err)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"session_expired","message":"bye","should_redirect":true,"redirect_url":"/x"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Type != MessageTypeSessionExpired {
		t.Errorf("Expected session_expired, got %q", env.Type)
	}

	var payload SessionExpiredPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !payload.ShouldRedirect || payload.RedirectURL != "/x" || payload.Message != "bye" {
		t.Errorf("Unexpected payload: %+v", payload)
	}

	for _, frame := range []string{`not json`, `[1,2]`, `{"type":5}`, `{"type":`} {
		if _, err := DecodeEnvelope([]byte(frame)); err != ErrMalformedFrame {
			t.Errorf("DecodeEnvelope(%q) = %v, want ErrMalformedFrame", frame, err)
		}
	}
}

func TestHeartbeatResponse_EchoesTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	env, err := DecodeEnvelope([]byte(`{"type":"heartbeat","timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	var hb HeartbeatPayload
	if err := env.Decode(&hb); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	data, err := Encode(HeartbeatResponse(hb.Timestamp, now))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["type"] != MessageTypeHeartbeatResponse {
		t.Errorf("Expected heartbeat_response, got %v", out["type"])
	}
	if out["timestamp"] != "2024-01-01T00:00:00Z" {
		t.Errorf("Expected echoed timestamp, got %v", out["timestamp"])
	}
	if out["client_time"] != float64(1700000000123) {
		t.Errorf("Expected client_time in millis, got %v", out["client_time"])
	}

	data, err = Encode(HeartbeatResponse(nil, now))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":null`) {
		t.Errorf("Expected null timestamp for missing echo, got %s", data)
	}
}

func TestReconnectRequest_Fields(t *testing.T) {
	now := time.UnixMilli(42)
	data, err := Encode(ReconnectRequest("client-1", map[string]int{"phase": 3}, now))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := `{"type":"reconnect_request","client_session_id":"client-1","last_known_state":{"phase":3},"timestamp":42}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestNewStatus_Defaults(t *testing.T) {
	if s := NewStatus(StatusFailed, ""); s.Message != TextFailed {
		t.Errorf("Expected failed default text, got %q", s.Message)
	}
	if s := NewStatus(StatusError, "Team not found"); s.Message != "Team not found" {
		t.Errorf("Expected server message to win, got %q", s.Message)
	}
	if got := ReconnectingText(3); got != "Reconnecting... (attempt 3)" {
		t.Errorf("Unexpected reconnecting text %q", got)
	}
}

func TestDescribeCloseCode(t *testing.T) {
	if got := DescribeCloseCode(1006); got != "Abnormal closure (no close frame)" {
		t.Errorf("Unexpected 1006 description %q", got)
	}
	if got := DescribeCloseCode(4004); got != "Session not found" {
		t.Errorf("Unexpected 4004 description %q", got)
	}
	if got := DescribeCloseCode(4999); got != "Unknown code 4999" {
		t.Errorf("Unexpected fallback %q", got)
	}
}
