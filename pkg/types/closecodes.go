package types

import "fmt"

// Close codes the manager uses itself. 4000 is a private-range code for
// channels the client abandons without waiting for the transport.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
	CloseClientAbandoned = 4000
)

var closeReasons = map[int]string{
	1000: "Normal closure",
	1001: "Going away (page reload/navigation)",
	1002: "Protocol error",
	1003: "Unsupported data",
	1006: "Abnormal closure (no close frame)",
	1011: "Internal server error",
	1012: "Service restart",
	1013: "Try again later",
	1014: "Bad gateway",
	1015: "TLS handshake failure",
	4000: "Abandoned by client",
	4002: "Session group unavailable",
	4003: "Session lookup failed",
	4004: "Session not found",
}

// DescribeCloseCode returns a human-readable reason for a close code
func DescribeCloseCode(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("Unknown code %d", code)
}
