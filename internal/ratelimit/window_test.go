package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func exerciseWindow(t *testing.T, limiter Limiter, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := limiter.Allow(ctx); err != nil {
			t.Fatalf("call %d: Allow() error = %v", i+1, err)
		}
		clock.Advance(time.Second)
	}

	err := limiter.Allow(ctx)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("31st call: expected ErrRateLimitExceeded, got %v", err)
	}
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ExceededError, got %T", err)
	}
	// First call was 30s ago, so it leaves the window in 30s.
	if exceeded.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %s, want 30s", exceeded.RetryAfter)
	}

	clock.Advance(61 * time.Second)
	if err := limiter.Allow(ctx); err != nil {
		t.Fatalf("after window: Allow() error = %v", err)
	}
}

func TestWindowRejectsThirtyFirstCall(t *testing.T) {
	clock := newFakeClock()
	exerciseWindow(t, NewWindow(30, WithClock(clock.Now)), clock)
}

func TestWindowPartialExpiry(t *testing.T) {
	clock := newFakeClock()
	w := NewWindow(2, WithClock(clock.Now))
	ctx := context.Background()

	if err := w.Allow(ctx); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	clock.Advance(40 * time.Second)
	if err := w.Allow(ctx); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if err := w.Allow(ctx); err == nil {
		t.Fatal("expected third call to be rejected")
	}

	clock.Advance(20 * time.Second)
	if got := w.Remaining(); got != 1 {
		t.Fatalf("Remaining() = %d, want 1", got)
	}
	if err := w.Allow(ctx); err != nil {
		t.Fatalf("Allow() after first call expired: %v", err)
	}
}

func TestWindowDefaultsLimit(t *testing.T) {
	w := NewWindow(0)
	if w.limit != DefaultLimit {
		t.Fatalf("limit = %d, want %d", w.limit, DefaultLimit)
	}
}

func TestRedisWindowRejectsThirtyFirstCall(t *testing.T) {
	s := miniredis.RunT(t)
	clock := newFakeClock()

	w, err := NewRedisWindow("redis://"+s.Addr(), "test:ratelimit", 30, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}
	defer w.Close()

	exerciseWindow(t, w, clock)
}

func TestRedisWindowSharedBetweenLimiters(t *testing.T) {
	s := miniredis.RunT(t)
	clock := newFakeClock()
	ctx := context.Background()

	a, err := NewRedisWindow("redis://"+s.Addr(), "shared", 2, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}
	defer a.Close()
	b, err := NewRedisWindow("redis://"+s.Addr(), "shared", 2, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}
	defer b.Close()

	if err := a.Allow(ctx); err != nil {
		t.Fatalf("a.Allow() error = %v", err)
	}
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("b.Allow() error = %v", err)
	}
	if err := a.Allow(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected shared budget to be exhausted, got %v", err)
	}
}

func TestNewRedisWindowBadURL(t *testing.T) {
	if _, err := NewRedisWindow("not-a-url", "k", 1); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
