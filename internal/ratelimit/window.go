// Package ratelimit bounds the rate of outbound calls to the document store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultLimit  = 30
	DefaultWindow = time.Minute
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError carries how long the caller should wait before retrying.
type ExceededError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry in %s",
		e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Limiter admits or rejects a single outbound call.
type Limiter interface {
	Allow(ctx context.Context) error
}

type options struct {
	window time.Duration
	now    func() time.Time
}

type Option func(*options)

// WithWindow overrides the trailing window length.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Window is a process-local sliding window limiter.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	calls  []time.Time
}

func NewWindow(limit int, opts ...Option) *Window {
	if limit < 1 {
		limit = DefaultLimit
	}
	o := buildOptions(opts)
	return &Window{
		limit:  limit,
		window: o.window,
		now:    o.now,
	}
}

// Allow records the call when the window has room and fails immediately otherwise.
func (w *Window) Allow(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.purge(now)
	if len(w.calls) >= w.limit {
		return &ExceededError{
			Limit:      w.limit,
			Window:     w.window,
			RetryAfter: w.calls[0].Add(w.window).Sub(now),
		}
	}
	w.calls = append(w.calls, now)
	return nil
}

// Remaining reports how many calls the current window still admits.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(w.now())
	return w.limit - len(w.calls)
}

func (w *Window) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := 0
	for keep < len(w.calls) && !w.calls[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.calls = append(w.calls[:0], w.calls[keep:]...)
	}
}
