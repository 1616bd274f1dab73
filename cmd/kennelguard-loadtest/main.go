package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/ratelimit"
	"github.com/MrEthical07/kennelguard/store"
	"github.com/MrEthical07/kennelguard/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		identities  = flag.Int("identities", 10000, "number of identities to issue tokens for")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + ratelimit)")
		limit       = flag.Int("limit", 1000, "rate limit per key for the ratelimit phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "kg-load", "rate limit key prefix")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, ops, and limit must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := redisClient(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	backend := memory.New()
	engine, err := newEngine(backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d identities...\n", *identities)
	startIssue := time.Now()
	tokens := make([]string, *identities)
	for i := range tokens {
		identity := store.Identity{
			ID:           int64(i + 1),
			Role:         store.RoleAdopter,
			CredentialID: fmt.Sprintf("adopter-%d@kennel.test", i+1),
			Active:       true,
		}
		backend.PutIdentity(identity)
		pair, err := engine.IssueTokens(ctx, identity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = pair.AccessToken
	}
	fmt.Printf("issued in %s\n", time.Since(startIssue).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand) error {
		_, err := engine.Verify(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	limiter := ratelimit.NewRedis(client, ratelimit.WithPrefix(*prefix))
	var denied int64
	rateStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand) error {
		key := fmt.Sprintf("identity:%d", r.Intn(*identities)+1)
		d, err := limiter.Allow(ctx, key, *limit, time.Minute)
		if err == nil && !d.Allowed {
			atomic.AddInt64(&denied, 1)
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("ratelimit", rateStats)
	fmt.Printf("ratelimit: denied=%d\n", atomic.LoadInt64(&denied))
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// newEngine builds an engine over backend with random signing keys.
func newEngine(backend *memory.Store) (*kennelguard.Engine, error) {
	cfg := kennelguard.DefaultConfig()
	cfg.Token.AccessKey = make([]byte, 32)
	cfg.Token.RefreshKey = make([]byte, 32)
	if _, err := rand.Read(cfg.Token.AccessKey); err != nil {
		return nil, err
	}
	if _, err := rand.Read(cfg.Token.RefreshKey); err != nil {
		return nil, err
	}
	cfg.Metrics.EnableLatencyHistograms = true
	return kennelguard.New().
		WithConfig(cfg).
		WithCredentialStore(backend).
		Build()
}

// runPhase spreads ops calls of fn over concurrency workers and records the
// latency of each.
func runPhase(ops, concurrency int, seedStep int64, fn func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := fn(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
