package timevault

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type (
	// CacheWorker writes values to a Cache in the background so that cache
	// latency never sits on the read path. Requests beyond the queue size
	// are dropped
	CacheWorker struct {
		cache   Cache
		ctx     context.Context
		queue   chan cacheRequest
		cancel  context.CancelFunc
		logger  *zap.Logger
		metrics *Metrics
		config  CacheConfig
		wg      sync.WaitGroup
	}

	cacheRequest struct {
		value Value
		key   string
		ttl   time.Duration
	}
)

func NewCacheWorker(
	cache Cache, config CacheConfig, logger *zap.Logger, metrics *Metrics,
) *CacheWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	cw := &CacheWorker{
		cache:   cache,
		config:  config,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan cacheRequest, max(config.MaxQueueSize, 1)),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := range max(config.WorkerCount, 1) {
		cw.wg.Add(1)
		go cw.worker(i)
	}

	return cw
}

func (cw *CacheWorker) worker(id int) {
	defer cw.wg.Done()

	for {
		select {
		case <-cw.ctx.Done():
			return
		case req := <-cw.queue:
			cw.save(id, req)
		}
	}
}

func (cw *CacheWorker) save(workerID int, req cacheRequest) {
	ctx := cw.ctx
	if cw.config.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(cw.ctx, cw.config.SaveTimeout)
		defer cancel()
	}

	start := time.Now()
	err := cw.cache.Put(ctx, req.key, req.value, req.ttl)
	duration := time.Since(start)

	if err != nil {
		cw.logger.Error("Failed to cache value",
			zap.Int("worker_id", workerID),
			zap.String("key", req.key),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	cw.logger.Debug("Value cached",
		zap.Int("worker_id", workerID),
		zap.String("key", req.key),
		zap.Duration("duration", duration),
	)
}

func (cw *CacheWorker) enqueue(key string, value Value, ttl time.Duration) bool {
	if cw.ctx.Err() != nil {
		return false
	}

	req := cacheRequest{key: key, value: value, ttl: ttl}

	select {
	case cw.queue <- req:
		return true
	default:
		cw.metrics.cacheDrop()
		cw.logger.Warn("Cache queue full, dropping request",
			zap.String("key", key),
			zap.Int("queue_size", len(cw.queue)),
		)
		return false
	}
}

// Stop halts the workers. Queued requests that have not started are
// discarded
func (cw *CacheWorker) Stop() {
	cw.cancel()
	cw.wg.Wait()
}
