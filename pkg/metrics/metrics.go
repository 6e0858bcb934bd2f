// Package metrics provides the centralized Prometheus metrics registry for
// the request middleware. All metrics are defined in their respective
// packages (cache, ratelimit, idempotency, request, audit) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the middleware.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - requestcore_cache_hits_total{backend} (Counter): Cache hits by backend (memory, redis)
//   - requestcore_cache_misses_total{backend} (Counter): Cache misses by backend
//   - requestcore_cache_evictions_total{backend, reason} (Counter): Entries removed by LRU eviction or expiry
//   - requestcore_cache_invalidations_total{backend, mode} (Counter): Entries removed by tag or pattern invalidation
//   - requestcore_cache_errors_total{backend, operation} (Counter): Cache operation errors
//   - requestcore_cache_entries{backend} (Gauge): Current number of entries
//   - requestcore_singleflight_shared_total (Counter): Callers coalesced onto an in-flight producer
//   - requestcore_swr_refreshes_total (Counter): Stale-while-revalidate background refreshes
//   - requestcore_swr_stale_served_total (Counter): Reads served a stale value while revalidating
//
// Rate Limit Metrics (pkg/ratelimit):
//   - requestcore_ratelimit_allowed_total{tier} (Counter): Requests allowed by tier
//   - requestcore_ratelimit_blocked_total{tier, window} (Counter): Requests blocked by tier and window
//   - requestcore_ratelimit_fail_open_total (Counter): Store failures where the limiter failed open
//
// Idempotency Metrics (pkg/idempotency):
//   - requestcore_idempotency_replays_total (Counter): Mutations answered from a stored result
//   - requestcore_idempotency_executions_total (Counter): Fresh guarded executions
//   - requestcore_idempotency_fail_open_total (Counter): Lookup failures where execution proceeded
//
// Request Metrics (pkg/request):
//   - requestcore_requests_total{endpoint, outcome} (Counter): Executed operations by outcome (success, timeout, cancelled, error)
//   - requestcore_request_duration_seconds{endpoint} (Histogram): Wall-clock operation duration
//   - requestcore_request_timeouts_total{endpoint} (Counter): Operations over their wall-clock budget
//   - requestcore_request_dedup_hits_total{endpoint} (Counter): Callers that shared an in-flight operation
//   - requestcore_request_retries_total{endpoint} (Counter): Retry attempts
//   - requestcore_request_retry_backoff_seconds{endpoint} (Histogram): Backoff duration before retries
//   - requestcore_request_retry_exhausted_total{endpoint} (Counter): Operations that exhausted max retries
//
// Audit Metrics (pkg/audit):
//   - requestcore_audit_records_total{action, outcome} (Counter): Audit records by action and outcome
//   - requestcore_audit_sink_errors_total{sink} (Counter): Audit sink write failures
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(requestcore_cache_hits_total[5m])) /
//   (sum(rate(requestcore_cache_hits_total[5m])) + sum(rate(requestcore_cache_misses_total[5m])))
//
//   # Rate Limit Block Rate by Tier
//   rate(requestcore_ratelimit_blocked_total[5m])
//
//   # Idempotent Replay Share
//   rate(requestcore_idempotency_replays_total[5m]) /
//   (rate(requestcore_idempotency_replays_total[5m]) + rate(requestcore_idempotency_executions_total[5m]))
//
//   # P95 Operation Latency
//   histogram_quantile(0.95, rate(requestcore_request_duration_seconds_bucket[5m]))
//
//   # Timeout Rate
//   rate(requestcore_request_timeouts_total[5m]) / rate(requestcore_requests_total[5m])
