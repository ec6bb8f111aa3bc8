// Package ratelimit implements sliding-window admission control keyed by
// client address. One Admitter is shared by the paste socket and the HTTP
// upload endpoints.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAdmissionDenied is returned by callers that turn a denied admission into
// an error.
var ErrAdmissionDenied = errors.New("rate limit exceeded")

// Admitter decides whether a client may proceed.
type Admitter interface {
	Admit(ctx context.Context, key string) bool
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// window holds admission timestamps for one key, oldest first. A window
// marked dead has been dropped from the map by Sweep and must not be
// appended to.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// prune drops timestamps at or before cutoff. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Limiter is an in-process sliding-window limiter. The map lock is held only
// to find a key's window; the prune-check-append sequence runs under that
// window's own lock, so unrelated keys never contend.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a Limiter admitting at most limit requests per key in any
// trailing period of length win.
func New(limit int, win time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  win,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit records an admission for key and returns true, or returns false
// without recording anything when the key is at its limit.
func (l *Limiter) Admit(_ context.Context, key string) bool {
	for {
		w := l.get(key)

		w.mu.Lock()
		if w.dead {
			// Lost a race with Sweep; fetch the replacement.
			w.mu.Unlock()
			continue
		}

		now := l.now()
		w.prune(now.Add(-l.window))
		if len(w.stamps) >= l.limit {
			w.mu.Unlock()
			return false
		}
		w.stamps = append(w.stamps, now)
		w.mu.Unlock()
		return true
	}
}

// Remaining reports how many admissions key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	w, ok := l.windows[key]
	l.mu.Unlock()
	if !ok {
		return l.limit
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return l.limit
	}
	w.prune(l.now().Add(-l.window))
	return max(0, l.limit-len(w.stamps))
}

// Sweep prunes every window and drops keys left empty. It returns the number
// of keys dropped.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped int
	for key, w := range l.windows {
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.stamps) == 0 {
			w.dead = true
			delete(l.windows, key)
			dropped++
		}
		w.mu.Unlock()
	}
	return dropped
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limiter sweep", "dropped_keys", n, "tracked_keys", l.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) get(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}
