package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Option configures a limiter.
type Option func(*settings)

type settings struct {
	now    func() time.Time
	prefix string
}

// WithClock replaces time.Now. Tests use it to drive simulated time.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPrefix sets the key prefix used by the Redis limiter.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func buildSettings(opts []Option) settings {
	s := settings{now: time.Now, prefix: "kgrl"}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type hitLog struct {
	hits   []time.Time
	window time.Duration
}

// evict drops entries at or before now-window.
func (l *hitLog) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.hits) && !l.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.hits = append(l.hits[:0], l.hits[i:]...)
	}
}

type memShard struct {
	mu   sync.Mutex
	logs map[string]*hitLog
}

// Memory is an in-process sliding-log limiter. The zero value is not usable;
// call NewMemory.
type Memory struct {
	shards [shardCount]memShard
	now    func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory returns an empty in-process limiter.
func NewMemory(opts ...Option) *Memory {
	s := buildSettings(opts)
	m := &Memory{now: s.now}
	for i := range m.shards {
		m.shards[i].logs = make(map[string]*hitLog)
	}
	return m
}

func (m *Memory) shard(key string) *memShard {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

// Allow evaluates and, when allowed, records one request for key. Evict,
// count and append happen under the shard lock.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}
	now := m.now()
	sh := m.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	log, ok := sh.logs[key]
	if !ok {
		log = &hitLog{}
		sh.logs[key] = log
	}
	log.window = window
	log.evict(now, window)

	count := len(log.hits)
	if count < limit {
		log.hits = append(log.hits, now)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count - 1,
			ResetAt:   log.hits[0].Add(window),
		}, nil
	}
	return Decision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   log.hits[0].Add(window),
	}, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.logs)
		sh.mu.Unlock()
	}
	return n
}

// Sweep evicts stale entries from every key using the window it was last
// called with and drops keys left empty. It returns the number of keys
// removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for key, log := range sh.logs {
			log.evict(now, log.window)
			if len(log.hits) == 0 {
				delete(sh.logs, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
