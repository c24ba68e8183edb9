package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter caps how many runs of one function execute at once.
// Acquire returns a token that Release gives back. A slot is a lease, so a
// worker that dies without releasing frees it after lease.
type ConcurrencyLimiter interface {
	Acquire(ctx context.Context, key string, limit int, lease time.Duration, now time.Time) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// LocalConcurrency limits runs within this process only.
type LocalConcurrency struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewLocalConcurrency() *LocalConcurrency {
	return &LocalConcurrency{sems: make(map[string]*semaphore.Weighted)}
}

func (l *LocalConcurrency) sem(key string, limit int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(int64(limit))
		l.sems[key] = s
	}
	return s
}

func (l *LocalConcurrency) Acquire(_ context.Context, key string, limit int, _ time.Duration, _ time.Time) (string, bool, error) {
	if !l.sem(key, limit).TryAcquire(1) {
		return "", false, nil
	}
	return key, true, nil
}

func (l *LocalConcurrency) Release(_ context.Context, key, _ string) error {
	l.mu.Lock()
	s, ok := l.sems[key]
	l.mu.Unlock()
	if ok {
		s.Release(1)
	}
	return nil
}

// KEYS[1] holds one member per running slot, scored by its lease expiry.
// ARGV: now ms, lease ms, limit, token.
var acquireSlotScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now)
if redis.call('ZCARD', key) < limit then
  redis.call('ZADD', key, now + lease, ARGV[4])
  redis.call('PEXPIRE', key, lease)
  return 1
end
return 0
`)

// RedisConcurrency shares concurrency slots across worker processes.
type RedisConcurrency struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisConcurrency(client redis.UniversalClient, prefix string) *RedisConcurrency {
	if prefix == "" {
		prefix = "workflow:concurrency:"
	}
	return &RedisConcurrency{client: client, prefix: prefix}
}

func (r *RedisConcurrency) Acquire(ctx context.Context, key string, limit int, lease time.Duration, now time.Time) (string, bool, error) {
	token := uuid.NewString()
	ok, err := acquireSlotScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(), lease.Milliseconds(), limit, token).Int()
	if err != nil {
		return "", false, fmt.Errorf("concurrency %s: %w", key, err)
	}
	if ok != 1 {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisConcurrency) Release(ctx context.Context, key, token string) error {
	if err := r.client.ZRem(ctx, r.prefix+key, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
