// Package cache provides the generation cache and breaker counters.
// Keys are opaque; values are narrative text or counter state.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Stats is a snapshot of an LRUCache.
type Stats struct {
	Size      int
	Capacity  int
	Counters  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// LRUCache is an in-process, size-bounded cache with per-entry TTL and
// windowed counters. It is the Community tier cache and L1 of TwoPhaseCache.
type LRUCache struct {
	mu       sync.Mutex
	layer    string
	capacity int
	index    map[string]*list.Element
	recency  *list.List // front is most recently used
	counters map[string]window
	stats    Stats
	now      func() time.Time
}

type item struct {
	key      string
	value    []byte
	deadline time.Time // zero means no expiry
}

type window struct {
	count int64
	ends  time.Time
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	return newLRU(capacity, "memory")
}

func newLRU(capacity int, layer string) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		layer:    layer,
		capacity: capacity,
		index:    make(map[string]*list.Element),
		recency:  list.New(),
		counters: make(map[string]window),
		now:      time.Now,
	}
}

// Get returns the value for key, or nil on a miss or expired entry.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if ok {
		it := elem.Value.(*item)
		if it.deadline.IsZero() || c.now().Before(it.deadline) {
			c.recency.MoveToFront(elem)
			c.hit()
			return it.value, nil
		}
		c.drop(elem)
	}
	c.miss()
	return nil, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	var deadline time.Time
	if ttl > 0 {
		deadline = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		it := elem.Value.(*item)
		it.value, it.deadline = value, deadline
		c.recency.MoveToFront(elem)
		return nil
	}

	c.index[key] = c.recency.PushFront(&item{key: key, value: value, deadline: deadline})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.stats.Evictions++
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.drop(elem)
	}
	return nil
}

// IncrementCounter adds one to the counter for key and returns the new
// value. The counter resets once its window has elapsed.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.counters[key]
	if !ok || !now.Before(w.ends) {
		c.sweepCounters(now)
		w = window{ends: now.Add(span)}
	}
	w.count++
	c.counters[key] = w
	return w.count, nil
}

// sweepCounters drops elapsed windows so abandoned breaker keys do not
// accumulate.
func (c *LRUCache) sweepCounters(now time.Time) {
	for k, w := range c.counters {
		if !now.Before(w.ends) {
			delete(c.counters, k)
		}
	}
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache. Stats are kept.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]*list.Element)
	c.recency.Init()
	c.counters = make(map[string]window)
	return nil
}

// Stats returns a snapshot of size and hit accounting.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.recency.Len()
	s.Capacity = c.capacity
	s.Counters = len(c.counters)
	return s
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*item).key)
}

func (c *LRUCache) hit() {
	c.stats.Hits++
	metrics.CacheRequests.WithLabelValues(c.layer, "hit").Inc()
}

func (c *LRUCache) miss() {
	c.stats.Misses++
	metrics.CacheRequests.WithLabelValues(c.layer, "miss").Inc()
}
