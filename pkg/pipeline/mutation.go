package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/causewayhq/requestcore/pkg/audit"
	"github.com/causewayhq/requestcore/pkg/cache"
	"github.com/causewayhq/requestcore/pkg/idempotency"
	"github.com/causewayhq/requestcore/pkg/money"
	"github.com/causewayhq/requestcore/pkg/query"
	"github.com/causewayhq/requestcore/pkg/ratelimit"
	"github.com/causewayhq/requestcore/pkg/request"
)

// MutationOptions controls one write through the mutation pipeline.
type MutationOptions struct {
	// Schema validates the payload fields after sanitization.
	Schema Schema

	// Checks run after schema validation, in order. The first failure
	// aborts the mutation.
	Checks []CheckFunc

	// MoneyFields names payload fields normalized through exact decimal
	// arithmetic before the write executes.
	MoneyFields []string

	// Currency is the fallback currency when the payload carries none.
	Currency string

	// InvalidateTags are the cache tags flushed after a successful write.
	InvalidateTags []string

	// IdempotencyKey overrides the derived key.
	IdempotencyKey string

	// Timeout overrides the request manager's wall-clock budget.
	Timeout time.Duration

	// Retries overrides the attempt count. Mutations carry an idempotency
	// key so retrying is safe.
	Retries int

	// Action names the audit record. Defaults to "<resource>.<op>".
	Action string
}

// MutationResult is the outcome of a pipeline write.
type MutationResult struct {
	// Rows are the affected rows returned by the executor, possibly
	// replayed from the idempotency store.
	Rows []query.Row

	// Replayed reports whether the result came from a previous execution
	// with the same idempotency key.
	Replayed bool

	// RateLimit is the consume outcome.
	RateLimit ratelimit.Result
}

// MutationPipeline is the write path: hard rate limiting, idempotent
// execution wrapping sanitization, validation, and money normalization,
// then cache tag invalidation and an audit record per attempt.
type MutationPipeline struct {
	executor        query.Executor
	manager         *request.Manager
	store           cache.Store
	limiter         *ratelimit.Limiter
	idem            *idempotency.Manager
	recorder        *audit.Recorder
	maxPayloadBytes int
	logger          zerolog.Logger
}

// NewMutationPipeline wires a mutation pipeline from its collaborators.
// maxPayloadBytes caps the serialized payload size; zero applies
// DefaultMaxPayloadBytes.
func NewMutationPipeline(executor query.Executor, manager *request.Manager, store cache.Store, limiter *ratelimit.Limiter, idem *idempotency.Manager, recorder *audit.Recorder, maxPayloadBytes int, logger *zerolog.Logger) *MutationPipeline {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &MutationPipeline{
		executor:        executor,
		manager:         manager,
		store:           store,
		limiter:         limiter,
		idem:            idem,
		recorder:        recorder,
		maxPayloadBytes: maxPayloadBytes,
		logger:          l.With().Str("component", "mutation_pipeline").Logger(),
	}
}

// Run executes a mutation descriptor for the given caller.
//
// Every attempt emits exactly one audit record, rejected and failed
// attempts included, so the audit trail never loses a write.
func (p *MutationPipeline) Run(ctx context.Context, id Identity, q query.Query, opts MutationOptions) (result MutationResult, err error) {
	action := opts.Action
	if action == "" {
		action = q.Resource + "." + string(q.Op)
	}

	defer func() {
		record := audit.Record{
			Action:       action,
			ResourceType: q.Resource,
			ResourceID:   firstRowID(result.Rows),
			ActorID:      id.UserID,
			IPAddress:    id.IP,
			UserAgent:    id.UserAgent,
			Success:      err == nil,
			ErrorCode:    errorCode(err),
			Metadata: map[string]any{
				"operation": string(q.Op),
				"replayed":  result.Replayed,
				"values":    q.Values,
			},
		}
		p.recorder.Record(ctx, record)
	}()

	result.RateLimit = p.limiter.Consume(ctx, id.RateIdentifier(), id.Tier(), q.Resource)
	if !result.RateLimit.Allowed {
		err = &ratelimit.Error{Result: result.RateLimit}
		return result, err
	}

	key := opts.IdempotencyKey
	if key == "" {
		key, err = p.idem.KeyFor(id.RateIdentifier(), q.Resource+":"+string(q.Op), q.Values)
		if err != nil {
			return result, err
		}
	}

	idemResult, err := p.idem.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return p.perform(ctx, q, key, opts)
	})
	if err != nil {
		return result, err
	}

	result.Replayed = idemResult.Replayed
	result.Rows, err = coerceRows(idemResult.Value)
	if err != nil {
		return result, err
	}

	// A replay changed nothing, so its tags are already invalid or stale
	// by the original execution.
	if !idemResult.Replayed {
		p.invalidate(ctx, opts.InvalidateTags)
	}
	return result, nil
}

// perform is the guarded execution: sanitize, validate, normalize money,
// then hand the write to the request manager. Any failure here leaves no
// idempotency record behind.
func (p *MutationPipeline) perform(ctx context.Context, q query.Query, key string, opts MutationOptions) (any, error) {
	if q.Values != nil {
		sanitized, err := sanitizeValues(q.Values, p.maxPayloadBytes)
		if err != nil {
			return nil, err
		}
		if err := validateValues(sanitized, opts.Schema); err != nil {
			return nil, err
		}
		for _, check := range opts.Checks {
			if err := check(ctx, sanitized); err != nil {
				return nil, err
			}
		}
		if err := normalizeMoney(sanitized, opts.MoneyFields, opts.Currency); err != nil {
			return nil, err
		}
		q.Values = sanitized
	}

	return p.manager.Execute(ctx, q.Resource, func(ctx context.Context) (any, error) {
		return p.dispatch(ctx, q)
	}, request.Options{
		Timeout:        opts.Timeout,
		MaxAttempts:    opts.Retries,
		Mutation:       true,
		IdempotencyKey: key,
	})
}

func (p *MutationPipeline) dispatch(ctx context.Context, q query.Query) (any, error) {
	switch q.Op {
	case query.OpInsert:
		return p.executor.Insert(ctx, q)
	case query.OpUpdate:
		return p.executor.Update(ctx, q)
	case query.OpDelete:
		return p.executor.Delete(ctx, q)
	default:
		return nil, fmt.Errorf("unsupported mutation op %q", q.Op)
	}
}

// invalidate flushes the caller's cache tags. Failures are logged and
// swallowed: the write already happened, so a stale cache entry must not
// turn it into an error.
func (p *MutationPipeline) invalidate(ctx context.Context, tags []string) {
	for _, tag := range tags {
		if _, err := p.store.InvalidateByTag(ctx, tag); err != nil {
			p.logger.Warn().Err(err).Str("tag", tag).Msg("Cache tag invalidation failed")
		}
	}
}

func firstRowID(rows []query.Row) string {
	if len(rows) == 0 {
		return ""
	}
	if id, ok := rows[0]["id"].(string); ok {
		return id
	}
	return ""
}

// errorCode classifies a pipeline failure for the audit trail.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var (
		rateErr     *ratelimit.Error
		securityErr *SecurityError
		validErr    *ValidationError
	)
	switch {
	case errors.As(err, &rateErr):
		return "RATE_LIMIT_EXCEEDED"
	case errors.As(err, &securityErr):
		return "SECURITY_VALIDATION_FAILED"
	case errors.As(err, &validErr):
		return "VALIDATION_FAILED"
	case errors.Is(err, request.ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, request.ErrCancelled):
		return "CANCELLED"
	case errors.Is(err, money.ErrInvalidCurrency):
		return "INVALID_CURRENCY"
	case errors.Is(err, money.ErrInvalidAmountFormat):
		return "INVALID_AMOUNT_FORMAT"
	case errors.Is(err, money.ErrCurrencyMismatch):
		return "CURRENCY_MISMATCH"
	default:
		return "EXECUTOR_ERROR"
	}
}
