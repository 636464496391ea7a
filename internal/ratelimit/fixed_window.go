// Package ratelimit counts requests per client key in fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter is the Redis-backed limiter shared by every API process.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	client redis.Scripter
	prefix string
	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewRedisFixedWindowLimiter(client redis.Scripter, prefix string, limit int, window time.Duration, logger *zap.SugaredLogger) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "estatehub:ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FixedWindowLimiter{limit: limit, window: window, client: client, prefix: prefix, now: time.Now, logger: logger}, nil
}

// Allow fails open when Redis is unreachable; the error is logged.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	key = normalize(key)
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retry := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		l.logger.Warnw("rate limiter unavailable", "key", key, "err", err)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	return decide(l.limit, int(count), retry)
}

// MemoryLimiter is the single-process fallback used when Redis is not configured.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, buckets: map[string]*bucket{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) Decision {
	key = normalize(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buckets) > 10000 {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.buckets[key] = b
	}
	b.count++
	return decide(l.limit, b.count, b.start.Add(l.window).Sub(now))
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
		}
	}
}

func decide(limit, count int, retry time.Duration) Decision {
	d := Decision{Allowed: count <= limit, Limit: limit, Remaining: max(limit-count, 0)}
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d
}

func normalize(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
