package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultKeyPrefix namespaces every key Kestrel writes to a shared Redis.
const DefaultKeyPrefix = "kestrel:"

// windowedIncr opens the counter window on the first increment only, so
// later failures do not keep extending an open breaker.
var windowedIncr = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisCache shares generations and breaker state across Kestrel nodes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache dials Redis from cfg and fails fast if it is unreachable.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	dial := cfg.RedisDialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: dial,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", addr, err)
	}

	rc := NewRedisCacheFromClient(client)
	if cfg.RedisKeyPrefix != "" {
		rc.prefix = cfg.RedisKeyPrefix
	}
	return rc, nil
}

// NewRedisCacheFromClient wraps an existing client with the default prefix.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: DefaultKeyPrefix}
}

func (c *RedisCache) key(k string) (string, error) {
	if k == "" {
		return "", ErrEmptyKey
	}
	return c.prefix + k, nil
}

// Get implements domain.Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set implements domain.Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, value, max(ttl, 0)).Err()
}

// Delete implements domain.Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

// IncrementCounter implements domain.Cache. Counters live under their own
// "counter:" sub-namespace so they never collide with cached values.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	return windowedIncr.Run(ctx, c.client, []string{c.prefix + "counter:" + key}, window.Milliseconds()).Int64()
}

// Ping implements domain.Cache.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements domain.Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
