package connection

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at ceiling. The first retry waits exactly base.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling < base {
		ceiling = base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		// TECHNICAL DISCOVERY: Doubling stops at the cap so large attempt counts cannot overflow
		if delay >= ceiling-delay {
			return ceiling
		}
		delay *= 2
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
