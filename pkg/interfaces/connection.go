package interfaces

import "context"

// Channel is one live transport attempt to the session peer
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the connection manager testable against any transport
type Channel interface {
	// Start begins delivering inbound events to the ChannelHandler.
	// It is called once, after the manager has made the channel current.
	Start()

	// Send queues one text frame (thread-safe, single writer underneath)
	Send(data []byte) error

	// Close sends a close frame with code and reason and releases resources.
	// Idempotent.
	Close(code int, reason string) error

	// ID identifies the channel in logs
	ID() uint64
}

// ChannelHandler receives the low-level channel events.
// FUNCTIONAL DISCOVERY: Every callback names its channel so stale
// events from replaced channels can be discarded
type ChannelHandler interface {
	HandleMessage(ch Channel, data []byte)
	HandleClose(ch Channel, code int, reason string)
	HandleError(ch Channel, err error)
}

// Dialer opens channels to an endpoint. Dial blocks until the handshake
// completes or ctx ends.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, handler ChannelHandler) (Channel, error)
}
