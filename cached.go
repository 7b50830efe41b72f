package timevault

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type (
	// CachedResolver puts a read-through Cache in front of a Vault's
	// point-in-time reads. Only values the Vault marks cacheable are stored
	// under their (record id, timestamp) key, and the cache is bypassed for
	// instants an active rollback horizon clamps. As-of-now reads are cached
	// only when CacheConfig.CurrentTTL is positive; those entries are dropped
	// as writes and rollbacks arrive on the Vault's EventHub, and CurrentTTL
	// bounds any that race with an invalidation. With
	// CacheConfig.WorkerCount at zero, cache writes happen inline
	CachedResolver struct {
		vault    *Vault
		cache    Cache
		worker   *CacheWorker
		logger   *zap.Logger
		metrics  *Metrics
		consumer *Consumer
		done     chan struct{}
		current  currentKeys
		config   CacheConfig
	}

	// currentKeys tracks the records with a cached as-of-now value
	currentKeys struct {
		ids map[RecordID]struct{}
		mu  sync.Mutex
	}
)

func NewCachedResolver(v *Vault, cache Cache, cfg CacheConfig) *CachedResolver {
	c := &CachedResolver{
		vault:   v,
		cache:   cache,
		logger:  v.logger,
		metrics: v.metrics,
		config:  cfg,
		current: currentKeys{ids: map[RecordID]struct{}{}},
	}
	if cfg.WorkerCount > 0 {
		c.worker = NewCacheWorker(cache, cfg, v.logger, v.metrics)
	}
	if cfg.CurrentTTL > 0 {
		c.consumer = v.GetHub().NewConsumer()
		c.done = make(chan struct{})
		_, horizon := v.Horizon()
		go c.invalidate(horizon)
	}
	return c
}

// Resolve returns the record's value at ts, from the cache when present
func (c *CachedResolver) Resolve(
	ctx context.Context, id RecordID, ts time.Time,
) Value {
	if h, ok := c.vault.Horizon(); ok && ts.After(h) {
		return c.vault.Resolve(id, ts)
	}

	key := CacheKey(id, ts)
	if v, ok := c.lookup(ctx, key); ok {
		return v
	}

	v := c.vault.Resolve(id, ts)
	if v.Cacheable() && !c.settling(ts) {
		c.store(ctx, key, v, c.config.TTL)
	}
	return v
}

// Current returns the record's value now, as seen through any active
// rollback horizon
func (c *CachedResolver) Current(ctx context.Context, id RecordID) Value {
	if c.config.CurrentTTL <= 0 {
		return c.vault.Current(id)
	}

	key := CurrentCacheKey(id)
	c.current.add(id)
	if v, ok := c.lookup(ctx, key); ok {
		return v
	}

	v := c.vault.Current(id)
	c.store(ctx, key, v, c.config.CurrentTTL)
	return v
}

// Close stops invalidation and the background cache writer, if any
func (c *CachedResolver) Close() {
	if c.consumer != nil {
		_ = c.consumer.Close()
		<-c.done
	}
	if c.worker != nil {
		c.worker.Stop()
	}
}

// invalidate drops cached as-of-now values as events are committed. A write
// changes only its own record, unless it also clears a rollback horizon
func (c *CachedResolver) invalidate(horizon bool) {
	defer close(c.done)
	for ev := range c.consumer.Receive() {
		switch {
		case ev.Kind == KindRollback:
			horizon = true
			c.dropCurrent(c.current.drain()...)
		case horizon:
			horizon = false
			c.dropCurrent(c.current.drain()...)
		default:
			if c.current.remove(ev.RecordID) {
				c.dropCurrent(ev.RecordID)
			}
		}
	}
}

func (c *CachedResolver) dropCurrent(ids ...RecordID) {
	for _, id := range ids {
		key := CurrentCacheKey(id)
		if err := c.delete(key); err != nil {
			c.logger.Warn("Cache invalidation failed",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		c.metrics.cacheInvalidated()
	}
}

func (c *CachedResolver) delete(key string) error {
	ctx := context.Background()
	if c.config.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SaveTimeout)
		defer cancel()
	}
	return c.cache.Delete(ctx, key)
}

// settling reports whether ts is recent enough that a backfilled write may
// still land at or before it
func (c *CachedResolver) settling(ts time.Time) bool {
	if c.config.SettleWindow <= 0 {
		return false
	}
	return ts.After(c.vault.config.Clock().Add(-c.config.SettleWindow))
}

func (c *CachedResolver) lookup(ctx context.Context, key string) (Value, bool) {
	v, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, resolving from log",
			zap.String("key", key),
			zap.Error(err),
		)
		c.metrics.cacheMiss()
		return Value{}, false
	}
	if !ok {
		c.metrics.cacheMiss()
		return Value{}, false
	}
	c.metrics.cacheHit()
	return v, true
}

func (c *CachedResolver) store(
	ctx context.Context, key string, v Value, ttl time.Duration,
) {
	if c.worker != nil {
		c.worker.enqueue(key, v, ttl)
		return
	}
	if err := c.cache.Put(ctx, key, v, ttl); err != nil {
		c.logger.Warn("Cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (k *currentKeys) add(id RecordID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ids[id] = struct{}{}
}

func (k *currentKeys) remove(id RecordID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.ids[id]
	delete(k.ids, id)
	return ok
}

func (k *currentKeys) drain() []RecordID {
	k.mu.Lock()
	defer k.mu.Unlock()
	res := make([]RecordID, 0, len(k.ids))
	for id := range k.ids {
		res = append(res, id)
	}
	clear(k.ids)
	return res
}
