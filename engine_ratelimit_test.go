package kennelguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/kennelguard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
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
	return rdb
}

func limitedEnvs(t *testing.T) map[string]*testEnv {
	limit := func(c *Config) {
		c.RateLimit.Limit = 3
		c.RateLimit.Window = time.Minute
	}
	rdb := newTestRedis(t)
	return map[string]*testEnv{
		"memory": newTestEnv(t, limit),
		"redis": buildTestEnv(t, func(b *Builder, env *testEnv) {
			b.WithRateLimiter(ratelimit.NewRedis(rdb, ratelimit.WithClock(env.clock.Now), ratelimit.WithPrefix("kg-test")))
		}, limit),
	}
}

func TestAllowIdentitySlidingWindow(t *testing.T) {
	for name, env := range limitedEnvs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				d, err := env.engine.AllowIdentity(ctx, adopterID)
				if err != nil {
					t.Fatalf("request %d: %v", i, err)
				}
				if d.Limit != 3 || d.Remaining != 2-i {
					t.Fatalf("request %d: unexpected decision %+v", i, d)
				}
				env.clock.Advance(10 * time.Second)
			}

			d, err := env.engine.AllowIdentity(ctx, adopterID)
			var rl *RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("expected *RateLimitError, got %v", err)
			}
			if d.Allowed || d.Remaining != 0 {
				t.Fatalf("unexpected denial decision %+v", d)
			}
			if got := rl.RetryAfter(env.clock.Now()); got != 30*time.Second {
				t.Fatalf("expected retry after 30s, got %s", got)
			}

			if _, err := env.engine.AllowIdentity(ctx, sponsorID); err != nil {
				t.Fatalf("other identity should be independent: %v", err)
			}

			env.clock.Advance(30 * time.Second)
			if _, err := env.engine.AllowIdentity(ctx, adopterID); err != nil {
				t.Fatalf("expected oldest hit to slide out: %v", err)
			}
		})
	}
}

func TestAllowIdentityDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RateLimit.Enabled = false })

	for i := 0; i < 500; i++ {
		d, err := env.engine.AllowIdentity(context.Background(), adopterID)
		if err != nil || !d.Allowed || d.Limit != 0 {
			t.Fatalf("expected unlimited pass, got %+v %v", d, err)
		}
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, ratelimit.ErrBackendUnavailable
}

func TestAllowIdentityFailsClosed(t *testing.T) {
	env := buildTestEnv(t, func(b *Builder, _ *testEnv) {
		b.WithRateLimiter(brokenLimiter{})
	})

	_, err := env.engine.AllowIdentity(context.Background(), adopterID)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricStoreFailure] != 1 {
		t.Fatal("expected store failure metric")
	}
}

func TestAllowAPIKeyLimits(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.APIKey.DefaultRequestLimit = 2
		c.APIKey.Window = time.Minute
	})
	ctx := context.Background()

	keyed := &APIKeyPrincipal{KeyID: "key-own", RequestLimit: 1}
	if _, err := env.engine.AllowAPIKey(ctx, keyed); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := env.engine.AllowAPIKey(ctx, keyed); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected own limit of 1 to apply, got %v", err)
	}

	fallback := &APIKeyPrincipal{KeyID: "key-default"}
	for i := 0; i < 2; i++ {
		if _, err := env.engine.AllowAPIKey(ctx, fallback); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := env.engine.AllowAPIKey(ctx, fallback); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected default limit to apply, got %v", err)
	}

	if _, err := env.engine.AllowAPIKey(ctx, nil); !errors.Is(err, ErrAPIKeyMissing) {
		t.Fatalf("expected ErrAPIKeyMissing, got %v", err)
	}
}

func TestAllowAPIKeyUnlimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.APIKey.DefaultRequestLimit = 0 })
	p := &APIKeyPrincipal{KeyID: "key-free"}

	for i := 0; i < 50; i++ {
		if _, err := env.engine.AllowAPIKey(context.Background(), p); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
