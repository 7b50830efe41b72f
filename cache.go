package timevault

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type (
	// Cache stores materialized values under the keys produced by CacheKey.
	// The engine never consults a Cache; CachedResolver does
	Cache interface {
		Get(ctx context.Context, key string) (Value, bool, error)
		Put(ctx context.Context, key string, v Value, ttl time.Duration) error
		Delete(ctx context.Context, key string) error
	}

	// MemoryCache is an in-process LRU Cache with per-entry expiry
	MemoryCache struct {
		lru   *lruCache[Value]
		clock func() time.Time
	}

	lruCache[T any] struct {
		cache   map[string]*list.Element
		lru     *list.List
		maxSize int
		mu      sync.Mutex
	}

	cacheEntry[T any] struct {
		value   T
		expires time.Time
		key     string
	}
)

var _ Cache = (*MemoryCache)(nil)

// CacheKey returns the deterministic key for a point-in-time read. A value
// stored under it stays correct only while no write is backfilled at or
// before its instant; CacheConfig.SettleWindow keeps recent instants out of
// the cache for writers that backfill
func CacheKey(id RecordID, ts time.Time) string {
	return fmt.Sprintf("%s@%d", id, ts.UnixNano())
}

// CurrentCacheKey returns the key for an as-of-now read. Values under it
// are only valid until the next write or rollback
func CurrentCacheKey(id RecordID) string {
	return string(id) + "@current"
}

func NewMemoryCache(size int, clock func() time.Time) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{
		lru:   newLRUCache[Value](size),
		clock: clock,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Value, bool, error) {
	v, ok := m.lru.get(key, m.clock())
	return v, ok, nil
}

func (m *MemoryCache) Put(
	_ context.Context, key string, v Value, ttl time.Duration,
) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.clock().Add(ttl)
	}
	m.lru.put(key, v, expires)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.lru.delete(key)
	return nil
}

// Len returns the number of entries held, including expired ones not yet
// evicted
func (m *MemoryCache) Len() int {
	return m.lru.len()
}

func newLRUCache[T any](maxSize int) *lruCache[T] {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &lruCache[T]{
		cache:   map[string]*list.Element{},
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (c *lruCache[T]) get(key string, now time.Time) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*cacheEntry[T])
	if !entry.expires.IsZero() && !now.Before(entry.expires) {
		c.remove(elem)
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return entry.value, true
}

func (c *lruCache[T]) put(key string, value T, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		entry := elem.Value.(*cacheEntry[T])
		entry.value = value
		entry.expires = expires
		c.lru.MoveToFront(elem)
		return
	}

	entry := &cacheEntry[T]{key: key, value: value, expires: expires}
	c.cache[key] = c.lru.PushFront(entry)

	if c.lru.Len() > c.maxSize {
		c.evictLast()
	}
}

func (c *lruCache[T]) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.remove(elem)
	}
}

func (c *lruCache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *lruCache[T]) evictLast() {
	if back := c.lru.Back(); back != nil {
		c.remove(back)
	}
}

func (c *lruCache[T]) remove(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry[T]).key)
}
