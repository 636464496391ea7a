package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker tracks revoked access-token ids until they would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revoked ids in-process (single instance only).
type MemoryRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{ids: make(map[string]time.Time)}
}

func (r *MemoryRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for k, exp := range r.ids {
		if now.After(exp) {
			delete(r.ids, k)
		}
	}
	r.ids[jti] = now.Add(ttl)
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.ids[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(r.ids, jti)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revoked ids as expiring keys.
type RedisRevoker struct {
	client redis.Cmdable
	prefix string
}

func NewRedisRevoker(client redis.Cmdable, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "estatehub"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.key(jti), "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevoker) key(jti string) string {
	return r.prefix + ":revoked:" + jti
}
