// Package ratelimit implements the sliding-window log limiter that guards login.
//
// Each key (normally the client address) owns an ordered log of attempt
// timestamps. Entries older than the window are dropped lazily on every check,
// and keys nobody has touched for a full window are evicted by Sweep.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single check
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest entry leaves the window; zero when Allowed
	RetryAfter time.Duration
}

type window struct {
	mu      sync.Mutex
	entries []time.Time
	span    time.Duration
	evicted bool
}

// Limiter is safe for concurrent use. Checks on different keys never contend
// beyond a read lock on the key map.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates an empty Limiter
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt for key if fewer than max attempts fall inside the
// trailing window. A rejected attempt is not recorded.
func (l *Limiter) Allow(key string, max int, span time.Duration) (bool, int) {
	d := l.Check(key, max, span)
	return d.Allowed, d.Remaining
}

// Check is Allow with the retry hint included
func (l *Limiter) Check(key string, max int, span time.Duration) Decision {
	now := l.now()

	for {
		w := l.window(key)
		w.mu.Lock()
		if w.evicted {
			// Sweep removed it between lookup and lock
			w.mu.Unlock()
			continue
		}
		d := w.check(now, max, span)
		w.mu.Unlock()
		return d
	}
}

// Reset forgets every attempt recorded for key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok {
		w.mu.Lock()
		w.evicted = true
		w.mu.Unlock()
		delete(l.windows, key)
	}
}

// Sweep evicts keys whose log holds nothing newer than their window.
// It returns the number of keys removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.trim(now)
		if len(w.entries) == 0 {
			w.evicted = true
			delete(l.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

func (l *Limiter) window(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

func (w *window) check(now time.Time, max int, span time.Duration) Decision {
	w.span = span
	w.trim(now)

	count := len(w.entries)
	if max-count <= 0 {
		d := Decision{Allowed: false, Remaining: 0}
		if count > 0 {
			d.RetryAfter = w.entries[0].Add(span).Sub(now)
		}
		return d
	}

	w.entries = append(w.entries, now)
	return Decision{Allowed: true, Remaining: max - count - 1}
}

// trim drops entries at or before now-span. Entries are appended in clock
// order, so the kept ones form a suffix.
func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.entries) && !w.entries[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	w.entries = append(w.entries[:0], w.entries[i:]...)
}
