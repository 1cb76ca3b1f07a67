package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StringCache is the string-keyed cache the provider uses for sender
// routing data. Backed by Redis when configured, by the in-process Cache
// otherwise.
type StringCache interface {
	GetString(ctx context.Context, key string) (string, bool)
	SetString(ctx context.Context, key, val string)
}

// Redis caches strings in a shared Redis so several workers reuse the
// same lookups. Errors degrade to cache misses.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(addr string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) GetString(ctx context.Context, key string) (string, bool) {
	val, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *Redis) SetString(ctx context.Context, key, val string) {
	_ = r.rdb.Set(ctx, key, val, r.ttl).Err()
}

// Memory adapts Cache to StringCache.
type Memory struct {
	c *Cache
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{c: New(ttl)}
}

func (m *Memory) GetString(_ context.Context, key string) (string, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Memory) SetString(_ context.Context, key, val string) {
	m.c.Set(key, val)
}
