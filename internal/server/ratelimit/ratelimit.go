// Package ratelimit gates upload ingestion with a per-user sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// window holds the accept times of a user's most recent attempts, oldest first.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// Limiter admits at most max attempts per user within any rolling period of
// length span. Bursts up to max pass immediately.
type Limiter struct {
	max  int
	span time.Duration

	mu    sync.Mutex
	users *expirable.LRU[int64, *window]
}

// New creates a limiter. Idle windows are dropped after span, which loses no
// information since every timestamp in them has aged out. At most maxUsers
// windows are tracked; beyond that the least recently used user starts over.
func New(max int, span time.Duration, maxUsers int) *Limiter {
	return &Limiter{
		max:   max,
		span:  span,
		users: expirable.NewLRU[int64, *window](maxUsers, nil, span),
	}
}

// Allow records an attempt by userID now and reports whether it is admitted.
func (l *Limiter) Allow(userID int64) bool {
	return l.AllowAt(userID, time.Now())
}

// AllowAt is Allow with an explicit attempt time.
func (l *Limiter) AllowAt(userID int64, at time.Time) bool {
	w := l.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-l.span)
	drop := 0
	for drop < len(w.times) && w.times[drop].Before(cutoff) {
		drop++
	}
	w.times = w.times[drop:]

	if len(w.times) >= l.max {
		return false
	}
	w.times = append(w.times, at)
	return true
}

// window returns userID's window, creating it if needed, and refreshes its TTL.
func (l *Limiter) window(userID int64) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users.Get(userID)
	if !ok {
		w = &window{times: make([]time.Time, 0, l.max)}
	}
	l.users.Add(userID, w)
	return w
}
