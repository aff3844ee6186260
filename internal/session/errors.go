package session

import "errors"

// Session identity errors
var (
	ErrInvalidSessionCode = errors.New("session code must be 1-32 word characters")
	ErrStateNotEncodable  = errors.New("last known state cannot be encoded")
)
