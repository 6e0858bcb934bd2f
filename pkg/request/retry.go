package request

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_request_retries_total",
		Help: "Total number of retry attempts by endpoint",
	}, []string{"endpoint"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "requestcore_request_retry_backoff_seconds",
		Help:    "Backoff duration for retries by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_request_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by endpoint",
	}, []string{"endpoint"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
// Backoffs are short because callers sit directly on the request path.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff executes a function with exponential backoff retry logic.
// It respects context cancellation and adds jitter to prevent thundering herd.
func (m *Manager) retryWithBackoff(ctx context.Context, endpoint string, maxAttempts int, fn func() error) error {
	config := m.config.Retry
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				m.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		// Non-retryable errors return immediately.
		if !m.shouldRetry(err) {
			return lastErr
		}

		// If this was the last attempt, don't wait.
		if attempt >= maxAttempts {
			break
		}

		retriesTotal.WithLabelValues(endpoint).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(endpoint).Observe(jitter.Seconds())

		m.logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying operation after backoff")

		select {
		case <-ctx.Done():
			m.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	if maxAttempts > 1 {
		retryExhaustedTotal.WithLabelValues(endpoint).Inc()
		m.logger.Warn().
			Str("endpoint", endpoint).
			Int("max_attempts", maxAttempts).
			Msg("Retry attempts exhausted")
		// Both sentinels stay on the chain so callers can still match the
		// underlying operation error with errors.Is/As.
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
	}

	return lastErr
}

// shouldRetry reports whether an error is worth retrying. Context errors and
// timeouts never are; everything else defers to the configured predicate.
func (m *Manager) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrCancelled) {
		return false
	}
	if m.config.Retryable != nil {
		return m.config.Retryable(err)
	}
	return true
}
