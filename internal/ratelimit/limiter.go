// Package ratelimit provides the coarse per-IP fixed window applied to the
// public document intake endpoint. Precision is not the goal here, only
// abuse dampening; the durable safety guarantees live in the database layer.
package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow counts requests per key within a fixed window. Stale windows
// are swept opportunistically whenever a check runs and at least one full
// window has elapsed since the previous sweep, so no background timer is
// needed.
type FixedWindow struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	entries   map[string]*windowEntry
	lastSweep time.Time
	now       func() time.Time
}

type windowEntry struct {
	start time.Time
	count int
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock sets the clock function for testability.
func WithClock(now func() time.Time) Option {
	return func(fw *FixedWindow) {
		if now != nil {
			fw.now = now
		}
	}
}

// NewFixedWindow builds a limiter allowing limit requests per window per key.
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	fw := &FixedWindow{
		limit:   limit,
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(fw)
	}
	fw.lastSweep = fw.now()
	return fw
}

// Allow records a request for key and reports whether it is within limits.
func (fw *FixedWindow) Allow(key string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := fw.now()
	fw.maybeSweep(now)

	entry := fw.entries[key]
	if entry == nil || now.Sub(entry.start) >= fw.window {
		fw.entries[key] = &windowEntry{start: now, count: 1}
		return true
	}
	if entry.count >= fw.limit {
		return false
	}
	entry.count++
	return true
}

// maybeSweep drops expired windows. Called with the lock held.
func (fw *FixedWindow) maybeSweep(now time.Time) {
	if now.Sub(fw.lastSweep) < fw.window {
		return
	}
	for key, entry := range fw.entries {
		if now.Sub(entry.start) >= fw.window {
			delete(fw.entries, key)
		}
	}
	fw.lastSweep = now
}

// Len reports the number of tracked keys, for tests and metrics.
func (fw *FixedWindow) Len() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.entries)
}
