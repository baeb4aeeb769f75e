// Package ratelimit throttles pass requests per client.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

// Limiter is a fixed-window limiter keyed by client. Every key shares the
// same limit and window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	clock   clock.Clock
}

type window struct {
	start time.Time
	used  int
}

// New allows limit requests per key in every period.
func New(limit int, period time.Duration, c clock.Clock) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		clock:   clock.OrReal(c),
	}
}

// Allow takes one request from key's budget.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve takes one request from key's budget. When the budget is spent it
// returns false and the time until the window resets.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.used >= l.limit {
		return false, w.start.Add(l.period).Sub(now)
	}
	w.used++
	return true, 0
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}
