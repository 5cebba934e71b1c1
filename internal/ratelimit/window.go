// Package ratelimit provides sliding-window limiters keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits or rejects one event for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Window is an in-memory sliding-window limiter. An event is admitted
// when fewer than max events for the same key happened within the last
// window; admitted events count toward later decisions, rejected ones
// do not.
type Window struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewWindow creates a limiter admitting max events per window.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow implements Limiter.
func (w *Window) Allow(_ context.Context, key string) (bool, error) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.hits[key][:0]
	for _, ts := range w.hits[key] {
		if now.Sub(ts) < w.window {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= w.max {
		w.hits[key] = kept
		return false, nil
	}
	w.hits[key] = append(kept, now)
	return true, nil
}

var _ Limiter = (*Window)(nil)
