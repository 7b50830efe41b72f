package timevault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the store's Prometheus collectors. A nil *Metrics records
// nothing
type Metrics struct {
	Operations   *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheDropped prometheus.Counter
	CacheDeletes prometheus.Counter
}

const (
	resultOK    = "ok"
	resultError = "error"
)

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_record_operations_total",
			Help: "Total number of record operations",
		}, []string{"operation", "result"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timevault_operation_latency_seconds",
			Help:    "Operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "timevault_cache_hits_total",
			Help: "Total number of resolve cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "timevault_cache_misses_total",
			Help: "Total number of resolve cache misses",
		}),
		CacheDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "timevault_cache_writes_dropped_total",
			Help: "Cache writes dropped because the queue was full",
		}),
		CacheDeletes: f.NewCounter(prometheus.CounterOpts{
			Name: "timevault_cache_invalidations_total",
			Help: "Cached as-of-now values dropped after a commit",
		}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.Latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) cacheDrop() {
	if m != nil {
		m.CacheDropped.Inc()
	}
}

func (m *Metrics) cacheInvalidated() {
	if m != nil {
		m.CacheDeletes.Inc()
	}
}
