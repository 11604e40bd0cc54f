package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ErrEmptyKey is returned when an operation is called without a key.
var ErrEmptyKey = errors.New("cache key is required")

// New builds the cache named by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Breaker
// counters bypass L1 so every node sees the same failure count.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache dials Redis and puts an LRU of cfg.LocalMaxSize in front.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("two-phase cache: %w", err)
	}
	return newTwoPhase(newLRU(cfg.LocalMaxSize, "l1"), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get tries L1 then L2, promoting L2 hits into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues("l2", "error").Inc()
		return nil, err
	}
	if val == nil {
		metrics.CacheRequests.WithLabelValues("l2", "miss").Inc()
		return nil, nil
	}
	metrics.CacheRequests.WithLabelValues("l2", "hit").Inc()
	_ = c.local.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 first so L1 never holds a value Redis rejected. The L1
// copy never outlives the L2 one.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	l1 := c.l1TTL
	if ttl > 0 {
		l1 = min(l1, ttl)
	}
	return c.local.Set(ctx, key, value, l1)
}

// Delete implements domain.Cache.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.remote.Delete(ctx, key)
}

// IncrementCounter implements domain.Cache against L2 only.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, window)
}

// Ping reports L2 reachability; L1 is always up.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("l2: %w", err)
	}
	return nil
}

// Close implements domain.Cache.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 layer.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
