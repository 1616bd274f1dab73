package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogScript evicts scores <= now-window, counts, and appends now when
// under the limit. It returns {allowed, count_after, oldest_score}.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  count = count + 1
  allowed = 1
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// Redis is a sliding-log limiter shared by every process using the same
// Redis. Timestamps come from the injected clock at millisecond precision.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

// NewRedis returns a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	s := buildSettings(opts)
	return &Redis{redis: client, prefix: s.prefix, now: s.now}
}

func (r *Redis) key(k string) string {
	return r.prefix + ":" + k
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		return Decision{}, ErrInvalidArgs
	}
	nowMS := r.now().UnixMilli()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()

	res, err := slidingLogScript.Run(ctx, r.redis, []string{r.key(key)}, nowMS, windowMS, limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply of length %d", ErrBackendUnavailable, len(res))
	}

	allowed := res[0] == 1
	remaining := int(int64(limit) - res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(window),
	}, nil
}
