package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks cache hits by backend (memory, redis)
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestcore_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	// cacheMisses tracks cache misses by backend
	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestcore_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// cacheEvictions tracks LRU evictions and lazy expiry removals
	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestcore_cache_evictions_total",
			Help: "Total number of cache entries removed by eviction or expiry",
		},
		[]string{"backend", "reason"}, // "lru", "expired"
	)

	// cacheInvalidations tracks explicit invalidations by mode
	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestcore_cache_invalidations_total",
			Help: "Total number of cache entries removed by tag or pattern invalidation",
		},
		[]string{"backend", "mode"}, // "tag", "pattern"
	)

	// cacheErrors tracks cache operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestcore_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "get", "set", "delete", "invalidate"
	)

	// cacheEntries tracks the number of physically present entries
	cacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "requestcore_cache_entries",
			Help: "Current number of entries held by the cache",
		},
		[]string{"backend"},
	)

	// flightShared tracks callers that joined an in-flight producer instead
	// of starting their own
	flightShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "requestcore_singleflight_shared_total",
			Help: "Total number of callers coalesced onto an in-flight producer",
		},
	)

	// swrRefreshes tracks background refreshes triggered by stale reads
	swrRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "requestcore_swr_refreshes_total",
			Help: "Total number of stale-while-revalidate background refreshes",
		},
	)

	// swrStaleServed tracks reads answered with a stale value
	swrStaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "requestcore_swr_stale_served_total",
			Help: "Total number of reads served a stale value while revalidating",
		},
	)
)
