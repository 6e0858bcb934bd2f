// Package idempotency ensures a mutation with a given key executes its side
// effect at most once within a retention window. Keys are derived from the
// caller's identity, the endpoint and an order-independent payload hash,
// bucketed into coarse time windows so retries collide onto the same key
// while unrelated requests never do.
//
// The lookup-then-execute-then-store sequence is not atomic: two callers
// presenting a brand-new key concurrently may both execute, and one stored
// result wins. That is the accepted contract - at most one success is
// cached, not at most one attempt. A hard guarantee would need a
// conditional-insert claim step on the backing store.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/causewayhq/requestcore/pkg/cache"
)

// Tag marks idempotency records in the cache store.
const Tag = "idempotency"

var (
	idempotencyReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requestcore_idempotency_replays_total",
		Help: "Total mutations answered from a stored idempotency record",
	})

	idempotencyExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requestcore_idempotency_executions_total",
		Help: "Total mutations executed under an idempotency key",
	})

	idempotencyFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requestcore_idempotency_fail_open_total",
		Help: "Total idempotency lookups that failed open due to store errors",
	})
)

// Config holds manager configuration.
type Config struct {
	// Retention is how long stored results replay. Default 24h.
	Retention time.Duration

	// Bucket is the coarse time window folded into derived keys, so
	// retries inside it share a key. Default 5m.
	Bucket time.Duration
}

// DefaultConfig returns the standard retention and bucketing.
func DefaultConfig() Config {
	return Config{
		Retention: 24 * time.Hour,
		Bucket:    5 * time.Minute,
	}
}

// Manager wraps mutations with idempotency-key deduplication over a cache
// store.
type Manager struct {
	store  cache.Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store cache.Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = 5 * time.Minute
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Result is the outcome of an idempotent execution.
type Result struct {
	// Value is the operation's result, possibly replayed from the store.
	Value any

	// Replayed reports whether Value came from a stored record instead of
	// a fresh execution.
	Replayed bool
}

// Operation is the side-effecting work guarded by an idempotency key.
type Operation func(ctx context.Context) (any, error)

// KeyFor derives a deterministic idempotency key from identity, endpoint
// and payload. The payload hash is order-independent: it is canonicalized
// through JSON, whose object keys serialize sorted.
func (m *Manager) KeyFor(identity, endpoint string, payload any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}

	bucket := m.now().Truncate(m.cfg.Bucket).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|", identity, endpoint, bucket)
	h.Write(canonical)

	return "idem:" + hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// Execute returns the stored result for key if one exists, otherwise runs
// op exactly once and stores its result for the retention window. A failed
// op stores nothing, so a later retry with the same key re-executes. A
// failed lookup fails open: the mutation runs rather than being blocked by
// a cache outage.
func (m *Manager) Execute(ctx context.Context, key string, op Operation) (Result, error) {
	entry, err := m.store.Get(ctx, key)
	if err == nil {
		idempotencyReplays.Inc()
		m.logger.Debug().Str("key", key).Msg("Idempotent replay, skipping execution")
		return Result{Value: entry.Value, Replayed: true}, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		idempotencyFailOpen.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Idempotency lookup failed, failing open")
	}

	value, err := op(ctx)
	if err != nil {
		return Result{}, err
	}
	idempotencyExecutions.Inc()

	opts := cache.SetOptions{TTL: m.cfg.Retention, Tags: []string{Tag}}
	if err := m.store.Set(ctx, key, value, opts); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Failed to store idempotency record")
	}

	return Result{Value: value}, nil
}

// canonicalJSON serializes payload with object keys in sorted order
// regardless of the input's field order.
func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	// Round-trip through any: encoding/json emits map keys sorted, which
	// makes struct field order and map insertion order irrelevant.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
