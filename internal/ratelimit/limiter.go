// ABOUTME: Per-sender sliding-window rate limiter for inbound messages
// ABOUTME: Windows are process-local, created lazily and rebuilt on restart

package ratelimit

import (
	"sync"
	"time"
)

// window holds the recent admission timestamps for one sender.
// Each window has its own lock so unrelated senders never serialize.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// Limiter admits at most limit calls per sender within any rolling span.
// Windows are never garbage-collected; memory grows with the number of
// distinct senders, which is a known and accepted tradeoff.
type Limiter struct {
	mu      sync.RWMutex // guards the windows map only
	windows map[string]*window
	limit   int
	span    time.Duration
}

// New creates a Limiter allowing limit admissions per 60-second window.
func New(limit int) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		span:    time.Minute,
	}
}

// Allow reports whether a message from userID at time now is admitted.
// Entries older than the window span are pruned lazily on each call.
// A rejected call is not recorded, so rejections never extend the window.
func (l *Limiter) Allow(userID string, now time.Time) bool {
	w := l.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.span)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= l.limit {
		return false
	}

	w.times = append(w.times, now)
	return true
}

// window returns the sender's window, creating it on first use.
func (l *Limiter) window(userID string) *window {
	l.mu.RLock()
	w := l.windows[userID]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w = l.windows[userID]; w == nil {
		w = &window{}
		l.windows[userID] = w
	}
	return w
}
