package realtime

import (
	"sync"
	"time"
)

// windowLimiter admits at most limit events in any rolling window. It keeps the
// timestamps of the last limit admitted events in a ring.
type windowLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	full   bool
	window time.Duration
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &windowLimiter{ring: make([]time.Time, limit), window: window}
}

func (l *windowLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// ring[next] is the oldest admitted event once the ring is full.
	if l.full && l.ring[l.next].After(now.Add(-l.window)) {
		return false
	}
	l.ring[l.next] = now
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
	return true
}
