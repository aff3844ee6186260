package router

import "errors"

// Router error types
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrDuplicateHandler   = errors.New("handler already registered for message type")
	ErrNilHandler         = errors.New("handler cannot be nil")
	ErrHandlerFailed      = errors.New("message handler failed")
)
