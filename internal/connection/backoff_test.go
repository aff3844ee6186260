package connection

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Schedule(t *testing.T) {
	base, ceiling := 3*time.Second, 30*time.Second
	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, Backoff(base, ceiling, i+1), "attempt %d", i+1)
	}
}

func TestBackoff_EdgeCases(t *testing.T) {
	assert.Equal(t, 3*time.Second, Backoff(3*time.Second, 30*time.Second, 0))
	assert.Equal(t, 3*time.Second, Backoff(3*time.Second, 30*time.Second, -4))
	assert.Equal(t, 30*time.Second, Backoff(3*time.Second, 30*time.Second, math.MaxInt))
	assert.Equal(t, time.Duration(0), Backoff(0, 30*time.Second, 3))
	assert.Equal(t, 5*time.Second, Backoff(5*time.Second, time.Second, 3), "cap below base clamps to base")
	assert.Equal(t, time.Duration(math.MaxInt64), Backoff(time.Second, math.MaxInt64, 200))
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	base, ceiling := 20*time.Millisecond, 80*time.Millisecond
	prev := time.Duration(0)
	for attempt := 1; attempt <= 64; attempt++ {
		d := Backoff(base, ceiling, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
		prev = d
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
		StateFailed:     "failed",
		State(42):       "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
