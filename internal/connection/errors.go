package connection

import "errors"

// Connection manager errors. None of them cross Send or Close; they surface
// as EventError payloads and in logs.
var (
	ErrNilSession     = errors.New("session cannot be nil")
	ErrNilDialer      = errors.New("dialer cannot be nil")
	ErrNilPublisher   = errors.New("event publisher cannot be nil")
	ErrEmptyEndpoint  = errors.New("endpoint cannot be empty")
	ErrUnsendable     = errors.New("message cannot be sent")
	ErrTransmitFailed = errors.New("transmit failed")
	ErrBrokenPeer     = errors.New("too many malformed frames from peer")
)
