package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/causewayhq/requestcore/pkg/cache"
)

// Prometheus metrics for rate limit decisions.
var (
	rateLimitAllowed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_ratelimit_allowed_total",
		Help: "Total requests allowed by the rate limiter, by tier",
	}, []string{"tier"})

	rateLimitBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_ratelimit_blocked_total",
		Help: "Total requests blocked by the rate limiter, by tier and window",
	}, []string{"tier", "window"})

	rateLimitFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requestcore_ratelimit_fail_open_total",
		Help: "Total window evaluations that failed open due to store errors",
	})
)

// Limiter enforces tiered fixed-window ceilings using time-bucketed counters
// in the cache store. Check-then-increment is not atomic across concurrent
// callers sharing an identity; a burst can slip past the ceiling by a few
// requests. That imprecision is accepted - the counters bound sustained
// traffic, they are not a hard admission gate.
type Limiter struct {
	store  cache.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter over store.
func NewLimiter(store cache.Store, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Check evaluates all windows for the identity without consuming anything.
// It returns the most restrictive result: the first window found over its
// ceiling, otherwise the minute-level result. Store failures fail open.
func (l *Limiter) Check(ctx context.Context, identifier string, tier Tier, endpoint string) Result {
	windows := windowsFor(tier)
	counts := make([]int64, len(windows))

	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w window) {
			defer wg.Done()
			counts[i] = l.windowCount(ctx, identifier, endpoint, w)
		}(i, w)
	}
	wg.Wait()

	now := l.now()
	results := make([]Result, len(windows))
	for i, w := range windows {
		resetAt := now.Truncate(w.duration).Add(w.duration)
		remaining := w.limit - int(counts[i])
		if remaining < 0 {
			remaining = 0
		}

		results[i] = Result{
			Allowed:   int(counts[i]) < w.limit,
			Window:    w.name,
			Limit:     w.limit,
			Remaining: remaining,
			ResetAt:   resetAt,
		}
		if !results[i].Allowed {
			results[i].RetryAfter = resetAt.Sub(now)
		}
	}

	for _, r := range results {
		if !r.Allowed {
			rateLimitBlocked.WithLabelValues(string(tier), r.Window).Inc()
			l.logger.Warn().
				Str("identifier", identifier).
				Str("endpoint", endpoint).
				Str("window", r.Window).
				Int("limit", r.Limit).
				Dur("retry_after", r.RetryAfter).
				Msg("Rate limit exceeded")
			return r
		}
	}

	return results[0]
}

// Consume performs a Check and, only when allowed, increments every window
// counter. Counters are never incremented for a rejected request.
func (l *Limiter) Consume(ctx context.Context, identifier string, tier Tier, endpoint string) Result {
	result := l.Check(ctx, identifier, tier, endpoint)
	if !result.Allowed {
		return result
	}

	for _, w := range windowsFor(tier) {
		l.increment(ctx, identifier, endpoint, w)
	}

	rateLimitAllowed.WithLabelValues(string(tier)).Inc()
	result.Remaining--
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result
}

// bucketKey builds the time-bucketed counter key for a window, so counters
// reset exactly at bucket boundaries.
func (l *Limiter) bucketKey(identifier, endpoint string, w window) string {
	bucket := l.now().Truncate(w.duration).Unix()
	return fmt.Sprintf("ratelimit:%s:%s:%s:%d", identifier, endpoint, w.name, bucket)
}

// windowCount reads a window counter, failing open to zero on store errors.
func (l *Limiter) windowCount(ctx context.Context, identifier, endpoint string, w window) int64 {
	entry, err := l.store.Get(ctx, l.bucketKey(identifier, endpoint, w))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			rateLimitFailOpen.Inc()
			l.logger.Warn().Err(err).
				Str("identifier", identifier).
				Str("window", w.name).
				Msg("Rate limit counter unavailable, failing open")
		}
		return 0
	}
	return counterValue(entry.Value)
}

func (l *Limiter) increment(ctx context.Context, identifier, endpoint string, w window) {
	key := l.bucketKey(identifier, endpoint, w)

	var count int64
	if entry, err := l.store.Get(ctx, key); err == nil {
		count = counterValue(entry.Value)
	}

	if err := l.store.Set(ctx, key, count+1, cache.SetOptions{TTL: w.duration}); err != nil {
		l.logger.Warn().Err(err).
			Str("identifier", identifier).
			Str("window", w.name).
			Msg("Rate limit counter update failed")
	}
}

// counterValue coerces a stored counter back to int64. The Redis backend
// round-trips values through JSON, so numbers may come back as float64 or
// json.Number.
func counterValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
