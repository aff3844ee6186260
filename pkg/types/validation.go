package types

import "regexp"

// FUNCTIONAL DISCOVERY: Matches the \w+ session_code route segment on the peer
var sessionCodeRegex = regexp.MustCompile(`^\w+$`)

// IsValidSessionCode checks a classroom session code before it is placed in a URL path
func IsValidSessionCode(code string) bool {
	if len(code) < 1 || len(code) > 32 {
		return false
	}
	return sessionCodeRegex.MatchString(code)
}

// ValidateSessionCode returns ErrInvalidSessionCode for unusable codes
func ValidateSessionCode(code string) error {
	if !IsValidSessionCode(code) {
		return ErrInvalidSessionCode
	}
	return nil
}
