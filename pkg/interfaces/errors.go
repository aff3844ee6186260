package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrSendTimeout   = errors.New("channel send timed out")
)
