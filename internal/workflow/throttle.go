package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Throttler decides whether a run may start within a rolling window. When it
// refuses, it reports how long until a slot frees up.
type Throttler interface {
	Allow(ctx context.Context, key string, limit int, period time.Duration, now time.Time) (bool, time.Duration, error)
}

// MemoryThrottler keeps a sliding log of start times per key.
type MemoryThrottler struct {
	mu     sync.Mutex
	starts map[string][]time.Time
}

// NewMemoryThrottler creates an empty MemoryThrottler.
func NewMemoryThrottler() *MemoryThrottler {
	return &MemoryThrottler{starts: make(map[string][]time.Time)}
}

func (t *MemoryThrottler) Allow(_ context.Context, key string, limit int, period time.Duration, now time.Time) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-period)
	kept := t.starts[key][:0]
	for _, at := range t.starts[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) < limit {
		t.starts[key] = append(kept, now)
		return true, 0, nil
	}
	t.starts[key] = kept
	return false, kept[0].Add(period).Sub(now), nil
}

// slidingWindowScript trims the window, then either records a start or
// returns the milliseconds until the oldest start leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, retry}
`)

// RedisThrottler shares throttle windows across worker processes.
type RedisThrottler struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisThrottler creates a throttler storing windows under prefix.
func NewRedisThrottler(client redis.UniversalClient, prefix string) *RedisThrottler {
	if prefix == "" {
		prefix = "workflow:throttle:"
	}
	return &RedisThrottler{client: client, prefix: prefix}
}

func (t *RedisThrottler) Allow(ctx context.Context, key string, limit int, period time.Duration, now time.Time) (bool, time.Duration, error) {
	res, err := slidingWindowScript.Run(ctx, t.client, []string{t.prefix + key},
		now.UnixMilli(), period.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("throttle %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("throttle %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}
