package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// limiters returns every implementation driven by the same clock.
func limiters(t *testing.T, clock *fakeClock) map[string]Limiter {
	_, rdb := newTestRedis(t)
	return map[string]Limiter{
		"memory": NewMemory(WithClock(clock.Now)),
		"redis":  NewRedis(rdb, WithClock(clock.Now), WithPrefix("test")),
	}
}

func TestSlidingWindowSequence(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	for name, lim := range limiters(t, clock) {
		t.Run(name, func(t *testing.T) {
			clock.now = start
			ctx := context.Background()
			key := "identity:42"

			for i, want := range []int{2, 1, 0} {
				d, err := lim.Allow(ctx, key, 3, time.Minute)
				if err != nil {
					t.Fatalf("call %d: %v", i+1, err)
				}
				if !d.Allowed || d.Remaining != want || d.Limit != 3 {
					t.Fatalf("call %d: unexpected decision %+v", i+1, d)
				}
				clock.Advance(time.Second)
			}

			d, err := lim.Allow(ctx, key, 3, time.Minute)
			if err != nil {
				t.Fatalf("fourth call: %v", err)
			}
			if d.Allowed || d.Remaining != 0 {
				t.Fatalf("fourth call must be denied, got %+v", d)
			}
			if !d.ResetAt.Equal(start.Add(time.Minute)) {
				t.Fatalf("expected reset at %v, got %v", start.Add(time.Minute), d.ResetAt)
			}

			clock.now = d.ResetAt
			d, err = lim.Allow(ctx, key, 3, time.Minute)
			if err != nil {
				t.Fatalf("after reset: %v", err)
			}
			if !d.Allowed {
				t.Fatalf("call at reset instant must be allowed, got %+v", d)
			}
		})
	}
}

func TestDeniedCallsAreNotRecorded(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	for name, lim := range limiters(t, clock) {
		t.Run(name, func(t *testing.T) {
			clock.now = start
			ctx := context.Background()

			if d, _ := lim.Allow(ctx, "k", 1, 10*time.Second); !d.Allowed {
				t.Fatal("first call must be allowed")
			}
			for i := 0; i < 5; i++ {
				clock.Advance(time.Second)
				if d, _ := lim.Allow(ctx, "k", 1, 10*time.Second); d.Allowed {
					t.Fatalf("call %d inside window must be denied", i)
				}
			}
			clock.now = start.Add(10 * time.Second)
			if d, _ := lim.Allow(ctx, "k", 1, 10*time.Second); !d.Allowed {
				t.Fatal("denied calls must not extend the window")
			}
		})
	}
}

func TestWindowSlidesWithoutBoundaryReset(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	lim := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = lim.Allow(ctx, "k", 2, time.Minute)
	clock.Advance(50 * time.Second)
	_, _ = lim.Allow(ctx, "k", 2, time.Minute)

	clock.Advance(20 * time.Second)
	d, _ := lim.Allow(ctx, "k", 2, time.Minute)
	if !d.Allowed || d.Remaining != 0 {
		t.Fatalf("only the first hit should have slid out, got %+v", d)
	}
	if d, _ := lim.Allow(ctx, "k", 2, time.Minute); d.Allowed {
		t.Fatal("window still holds two hits")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	lim := NewMemory()
	ctx := context.Background()
	if d, _ := lim.Allow(ctx, "a", 1, time.Minute); !d.Allowed {
		t.Fatal("a must be allowed")
	}
	if d, _ := lim.Allow(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Fatal("b must be allowed independently of a")
	}
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	for name, lim := range limiters(t, clock) {
		t.Run(name, func(t *testing.T) {
			var allowed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := lim.Allow(context.Background(), "hot", 10, time.Minute)
					if err != nil {
						t.Errorf("Allow: %v", err)
						return
					}
					if d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			if got := allowed.Load(); got != 10 {
				t.Fatalf("expected exactly 10 allowed, got %d", got)
			}
		})
	}
}

func TestInvalidArgs(t *testing.T) {
	lim := NewMemory()
	if _, err := lim.Allow(context.Background(), "k", 0, time.Minute); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs, got %v", err)
	}
	if _, err := lim.Allow(context.Background(), "k", 1, 0); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs, got %v", err)
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	lim := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = lim.Allow(ctx, "short", 5, time.Second)
	_, _ = lim.Allow(ctx, "long", 5, time.Hour)
	if lim.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", lim.Len())
	}

	clock.Advance(2 * time.Second)
	if removed := lim.Sweep(); removed != 1 {
		t.Fatalf("expected 1 key removed, got %d", removed)
	}
	if lim.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", lim.Len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	lim := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lim.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRedisOutage(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lim := NewRedis(rdb)
	mr.Close()
	if _, err := lim.Allow(context.Background(), "k", 1, time.Minute); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
