package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Cached serves repeated prompts from the cache. Only successes are cached.
type Cached struct {
	inner Backend
	cache domain.Cache
	ttl   time.Duration
}

// NewCached wraps a backend with a generation cache.
func NewCached(inner Backend, cache domain.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl}
}

// Name implements Backend.
func (c *Cached) Name() string {
	return c.inner.Name()
}

// Key returns the cache key for a prompt on this backend.
func (c *Cached) Key(prompt string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + prompt))
	return domain.CacheKey(domain.CacheNSGeneration, hex.EncodeToString(sum[:]))
}

// Generate implements Backend.
func (c *Cached) Generate(ctx context.Context, prompt string) (string, error) {
	key := c.Key(prompt)

	if val, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("generation cache read failed", "error", err)
	} else if val != nil {
		slog.Debug("generation cache hit", "backend", c.inner.Name())
		return string(val), nil
	}

	text, err := c.inner.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, []byte(text), c.ttl); err != nil {
		slog.Warn("generation cache write failed", "error", err)
	}
	return text, nil
}

// Breaker stops calling a failing backend for the rest of the failure window.
// Failures are counted with the cache's atomic counter so state is shared
// between nodes on a Redis cache.
type Breaker struct {
	inner     Backend
	cache     domain.Cache
	threshold int64
	window    time.Duration
}

// NewBreaker wraps a backend with a failure breaker.
func NewBreaker(inner Backend, cache domain.Cache, threshold int, window time.Duration) *Breaker {
	if window <= 0 {
		window = time.Minute
	}
	return &Breaker{inner: inner, cache: cache, threshold: int64(threshold), window: window}
}

// Name implements Backend.
func (b *Breaker) Name() string {
	return b.inner.Name()
}

func (b *Breaker) openKey() string    { return domain.CacheKey(domain.CacheNSBreaker, b.inner.Name(), "open") }
func (b *Breaker) failureKey() string { return domain.CacheKey(domain.CacheNSBreaker, b.inner.Name(), "failures") }

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open(ctx context.Context) bool {
	val, err := b.cache.Get(ctx, b.openKey())
	return err == nil && val != nil
}

// Generate implements Backend.
func (b *Breaker) Generate(ctx context.Context, prompt string) (string, error) {
	if b.Open(ctx) {
		metrics.BackendCircuitOpen.Inc()
		return "", ErrBackendCircuitOpen
	}

	text, err := b.inner.Generate(ctx, prompt)
	if err == nil {
		return text, nil
	}

	// The call may have failed on a deadline; bookkeeping must still run.
	ctx = context.WithoutCancel(ctx)
	count, cerr := b.cache.IncrementCounter(ctx, b.failureKey(), b.window)
	if cerr != nil {
		slog.Warn("breaker counter failed", "error", cerr)
		return "", err
	}
	if count >= b.threshold {
		slog.Warn("generation backend circuit opened",
			"backend", b.inner.Name(),
			"failures", count,
			"window", b.window.String(),
		)
		_ = b.cache.Set(ctx, b.openKey(), []byte("1"), b.window)
	}
	return "", err
}
