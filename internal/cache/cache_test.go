package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "gen:abc", []byte("narrative"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "gen:abc")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "narrative" {
			t.Errorf("expected 'narrative', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		_ = cache.Set(ctx, "forever", []byte("v"), 0)
		val, _ := cache.Get(ctx, "forever")
		if val == nil {
			t.Error("expected value stored without ttl to be readable")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = small.Get(ctx, "a")

		// Add 'd' - should evict 'b'
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if err := cache.Set(ctx, "", []byte("value"), time.Minute); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("expected ErrEmptyKey, got %v", err)
		}
		if _, err := cache.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("expected ErrEmptyKey, got %v", err)
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "breaker:ollama", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "breaker:ollama", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "breaker:ollama", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(2)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)
		_, _ = statsCache.Get(ctx, "k1")
		_, _ = statsCache.Get(ctx, "missing")
		_ = statsCache.Set(ctx, "k3", []byte("v3"), time.Minute)

		s := statsCache.Stats()
		if s.Size != 2 {
			t.Errorf("expected size 2, got %d", s.Size)
		}
		if s.Capacity != 2 {
			t.Errorf("expected capacity 2, got %d", s.Capacity)
		}
		if s.Hits != 1 || s.Misses != 1 {
			t.Errorf("expected 1 hit and 1 miss, got %d/%d", s.Hits, s.Misses)
		}
		if s.Evictions != 1 {
			t.Errorf("expected 1 eviction, got %d", s.Evictions)
		}
		if val, _ := statsCache.Get(ctx, "k2"); val != nil {
			t.Error("expected least recently used k2 to be evicted")
		}
	})

	t.Run("CounterSweep", func(t *testing.T) {
		sweepCache := NewLRUCache(10)
		now := time.Now()
		sweepCache.now = func() time.Time { return now }

		_, _ = sweepCache.IncrementCounter(ctx, "breaker:a", time.Second)
		_, _ = sweepCache.IncrementCounter(ctx, "breaker:b", time.Second)

		now = now.Add(2 * time.Second)
		if n, _ := sweepCache.IncrementCounter(ctx, "breaker:c", time.Second); n != 1 {
			t.Errorf("expected fresh counter, got %d", n)
		}
		if s := sweepCache.Stats(); s.Counters != 1 {
			t.Errorf("expected elapsed counters swept, got %d", s.Counters)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisCacheFromClient(client)
}

func TestRedisCache(t *testing.T) {
	mr, cache := newMiniRedis(t)
	defer cache.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "gen:1", []byte("narrative"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, "gen:1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "narrative" {
			t.Errorf("expected 'narrative', got '%s'", val)
		}
		if !mr.Exists("kestrel:gen:1") {
			t.Error("expected key to be namespaced with kestrel prefix")
		}
	})

	t.Run("Miss", func(t *testing.T) {
		val, err := cache.Get(ctx, "missing")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil for miss, got %v, %v", val, err)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		_ = cache.Set(ctx, "short", []byte("v"), time.Second)
		mr.FastForward(2 * time.Second)
		if val, _ := cache.Get(ctx, "short"); val != nil {
			t.Error("expected key to expire")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "gone", []byte("v"), time.Minute)
		_ = cache.Delete(ctx, "gone")
		if val, _ := cache.Get(ctx, "gone"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := cache.IncrementCounter(ctx, "failures", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		mr.FastForward(2 * time.Minute)

		got, _ := cache.IncrementCounter(ctx, "failures", time.Minute)
		if got != 1 {
			t.Errorf("expected counter reset to 1, got %d", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	mr, remote := newMiniRedis(t)
	cache := newTwoPhase(NewLRUCache(10), remote, time.Minute)
	defer cache.Close()
	ctx := context.Background()

	t.Run("WriteThrough", func(t *testing.T) {
		if err := cache.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if !mr.Exists("kestrel:k") {
			t.Error("expected value in L2")
		}
		if val, _ := cache.local.Get(ctx, "k"); string(val) != "v" {
			t.Error("expected value in L1")
		}
	})

	t.Run("ReadThroughPopulatesL1", func(t *testing.T) {
		_ = mr.Set("kestrel:remote-only", "from-redis")

		val, err := cache.Get(ctx, "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "from-redis" {
			t.Errorf("expected 'from-redis', got '%s'", val)
		}
		if val, _ := cache.local.Get(ctx, "remote-only"); val == nil {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("CounterUsesRedis", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, "shared", time.Minute)
		if !mr.Exists("kestrel:counter:shared") {
			t.Error("expected counter in redis")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("RedisTwoPhase", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*TwoPhaseCache); !ok {
			t.Error("expected TwoPhaseCache")
		}
	})

	t.Run("RedisKeyPrefix", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cache, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), RedisKeyPrefix: "kestrel-staging:"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_ = cache.Set(context.Background(), domain.CacheKey(domain.CacheNSGeneration, "x"), []byte("v"), time.Minute)
		if !mr.Exists("kestrel-staging:gen:x") {
			t.Error("expected key under configured prefix")
		}
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "redis", RedisAddr: "127.0.0.1:1", RedisDialTimeout: 100 * time.Millisecond})
		if err == nil {
			t.Error("expected error for unreachable redis")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
