package router

import (
	"sync"
	"time"
)

// FrameBudget counts malformed inbound frames in a fixed window.
// ARCHITECTURAL DISCOVERY: One peer per manager, so a single window replaces
// per-client tracking
type FrameBudget struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

// NewFrameBudget allows limit-1 malformed frames per window. A limit of zero
// or less disables the budget.
func NewFrameBudget(limit int, window time.Duration) *FrameBudget {
	if window <= 0 {
		window = time.Minute
	}
	return &FrameBudget{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one malformed frame and reports whether the peer is still
// within budget. It returns false once limit frames arrive within one window.
func (b *FrameBudget) Allow() bool {
	if b == nil || b.limit <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	// TECHNICAL DISCOVERY: Window resets on the first frame after it lapses
	if b.count == 0 || now.Sub(b.windowStart) >= b.window {
		b.count = 0
		b.windowStart = now
	}
	b.count++
	return b.count < b.limit
}

// Reset clears the window, e.g. after a fresh connection opens
func (b *FrameBudget) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.count = 0
	b.mu.Unlock()
}
