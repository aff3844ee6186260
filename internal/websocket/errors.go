package websocket

import "errors"

// Dialer-related errors
var (
	ErrDialFailed     = errors.New("websocket dial failed")
	ErrInvalidPageURL = errors.New("page URL must be an absolute http(s) URL")
	ErrEmptyHost      = errors.New("endpoint host cannot be empty")
)
