// Package ratelimit paces outbound requests with a sliding one-minute window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultWindow = time.Minute
	DefaultMargin = 50 * time.Millisecond
)

// Window admits at most limit requests in any window-long interval.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	margin time.Duration
	stamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Window.
type Option func(*Window)

// WithClock replaces the time source and sleeper, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// NewWindow creates a limiter for requestsPerMinute. Values below 1 are raised to 1.
func NewWindow(requestsPerMinute int, opts ...Option) *Window {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	w := &Window{
		limit:  requestsPerMinute,
		window: DefaultWindow,
		margin: DefaultMargin,
		now:    time.Now,
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Limit returns the configured requests per window.
func (w *Window) Limit() int {
	return w.limit
}

// Wait blocks until a request may be sent and records it.
func (w *Window) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)

	if len(w.stamps) >= w.limit {
		delay := w.window - now.Sub(w.stamps[0]) + w.margin
		if delay > 0 {
			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
		}
		now = w.now()
		w.evict(now)
	}

	w.stamps = append(w.stamps, now)
	return nil
}

// InFlight reports how many requests are inside the current window.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return len(w.stamps)
}

func (w *Window) evict(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= w.window {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
