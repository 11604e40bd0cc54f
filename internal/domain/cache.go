package domain

import (
	"context"
	"strings"
	"time"
)

// Cache stores generated narratives and the generation breaker's counters.
// A miss is reported as nil, nil.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for ttl. A non-positive ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// IncrementCounter adds one and returns the new count. The window opens
	// on the first increment and the count resets once it elapses.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Cache key namespaces.
const (
	CacheNSGeneration = "gen"
	CacheNSBreaker    = "breaker"
)

// CacheKey joins a namespace and its parts with colons.
func CacheKey(ns string, parts ...string) string {
	return ns + ":" + strings.Join(parts, ":")
}

// CacheConfig selects the cache backend. "memory" is a process-local LRU;
// "redis" optionally fronts Redis with that LRU (two-phase).
type CacheConfig struct {
	Type string `mapstructure:"type"`

	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	RedisKeyPrefix   string        `mapstructure:"redis_key_prefix"`
	RedisDialTimeout time.Duration `mapstructure:"redis_dial_timeout"`

	EnableTwoPhase bool `mapstructure:"enable_two_phase"`
}
