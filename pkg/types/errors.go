package types

import "errors"

// Wire and validation errors
var (
	ErrInvalidSessionCode = errors.New("session code must be 1-32 word characters")
	ErrUnencodable        = errors.New("message cannot be encoded as JSON")
	ErrNotAnObject        = errors.New("message must encode to a JSON object")
	ErrMissingType        = errors.New("message must carry a non-empty type")
	ErrMalformedFrame     = errors.New("malformed inbound frame")
)
