package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for request execution.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_requests_total",
		Help: "Total number of executed operations by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	requestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "requestcore_request_duration_seconds",
		Help:    "Wall-clock duration of executed operations by endpoint",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"endpoint"})

	requestTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_request_timeouts_total",
		Help: "Total number of operations that exceeded their wall-clock budget",
	}, []string{"endpoint"})

	requestDedupHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requestcore_request_dedup_hits_total",
		Help: "Total number of callers that shared another caller's in-flight operation",
	}, []string{"endpoint"})
)

// Operation is a unit of work executed by the manager. Implementations must
// honor ctx cancellation.
type Operation func(ctx context.Context) (any, error)

// Config holds the configuration for the request manager.
type Config struct {
	// Timeout is the default wall-clock budget for a single Execute call,
	// covering all retry attempts and backoff waits.
	Timeout time.Duration

	// Retry configures the exponential backoff between attempts.
	Retry RetryConfig

	// Retryable decides whether a failed attempt is worth repeating.
	// When nil every error except context and timeout errors is retried.
	Retryable func(error) bool

	// Logger is the logger to use. When nil the global logger is used.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Options controls a single Execute call.
type Options struct {
	// Timeout overrides the manager's wall-clock budget when positive.
	Timeout time.Duration

	// MaxAttempts overrides the retry behavior when positive. Otherwise
	// queries get the manager's configured attempts, and mutations get a
	// single attempt unless an idempotency key marks them safe to repeat.
	MaxAttempts int

	// Mutation marks the operation as state-changing.
	Mutation bool

	// IdempotencyKey, when set on a mutation, makes it safe to retry.
	IdempotencyKey string

	// DeduplicationKey collapses concurrent calls with the same key into a
	// single in-flight operation whose result is shared by all callers.
	DeduplicationKey string
}

// Manager executes operations with timeout, retry, and in-flight
// deduplication. It is safe for concurrent use.
type Manager struct {
	config  Config
	logger  zerolog.Logger
	flights singleflight.Group
}

// New creates a request manager with the given configuration.
func New(config Config) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = DefaultRetryConfig()
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Manager{
		config: config,
		logger: logger.With().Str("component", "request").Logger(),
	}
}

// Execute runs op under the manager's timeout, retry, and deduplication
// policies and returns its result.
func (m *Manager) Execute(ctx context.Context, endpoint string, op Operation, opts Options) (any, error) {
	start := time.Now()
	value, err := m.execute(ctx, endpoint, op, opts)
	requestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(endpoint, outcomeLabel(err)).Inc()
	return value, err
}

func (m *Manager) execute(ctx context.Context, endpoint string, op Operation, opts Options) (any, error) {
	if opts.DeduplicationKey == "" {
		return m.run(ctx, endpoint, op, opts)
	}

	// The flight is detached from this caller's context so that one caller
	// giving up does not abort the operation for the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(opts.DeduplicationKey, func() (any, error) {
		return m.run(flightCtx, endpoint, op, opts)
	})

	select {
	case res := <-ch:
		if res.Shared {
			requestDedupHitsTotal.WithLabelValues(endpoint).Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// run applies the wall-clock budget around the full retry loop.
func (m *Manager) run(ctx context.Context, endpoint string, op Operation, opts Options) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.config.Timeout
	}

	attempts := opts.MaxAttempts
	if attempts <= 0 {
		if opts.Mutation && opts.IdempotencyKey == "" {
			attempts = 1
		} else {
			attempts = m.config.Retry.MaxAttempts
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result any
	err := m.retryWithBackoff(runCtx, endpoint, attempts, func() error {
		value, opErr := op(runCtx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	if err != nil {
		// The budget expiring takes precedence over whatever error the last
		// attempt surfaced, unless the caller itself went away.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			requestTimeoutsTotal.WithLabelValues(endpoint).Inc()
			m.logger.Warn().
				Str("endpoint", endpoint).
				Dur("timeout", timeout).
				Msg("Operation exceeded wall-clock budget")
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, err
	}
	return result, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
