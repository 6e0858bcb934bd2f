package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/causewayhq/requestcore/pkg/cache"
	"github.com/causewayhq/requestcore/pkg/pagination"
	"github.com/causewayhq/requestcore/pkg/query"
	"github.com/causewayhq/requestcore/pkg/ratelimit"
	"github.com/causewayhq/requestcore/pkg/request"
)

// QueryOptions controls one read through the query pipeline.
type QueryOptions struct {
	// Scope selects the cache key namespace. Defaults to public.
	Scope cache.Scope

	// TTL is how long the fetched rows stay fresh. Zero means the store's
	// default.
	TTL time.Duration

	// StaleTime enables stale-while-revalidate: after TTL the cached rows
	// are still served for this long while one background refresh runs.
	StaleTime time.Duration

	// Tags attach invalidation tags to the cached rows.
	Tags []string

	// Pagination, when set, turns the select into a cursor-paginated page
	// request over SortFields.
	Pagination *pagination.Params

	// SortFields is the allow-list of sortable columns.
	SortFields []string

	// Timeout overrides the request manager's wall-clock budget.
	Timeout time.Duration

	// EnforceRateLimit turns the soft rate check into a hard rejection.
	EnforceRateLimit bool
}

// QueryResult is the outcome of a pipeline read.
type QueryResult struct {
	// Rows are the result rows. For paginated reads this is Page.Items.
	Rows []query.Row

	// Page carries cursors and has-more flags for paginated reads.
	Page *pagination.Page

	// CacheHit reports whether the rows came from cache.
	CacheHit bool

	// RateLimit is the rate check outcome, present even when soft.
	RateLimit ratelimit.Result
}

// QueryPipeline is the read path: rate check, scoped cache with
// single-flight and stale-while-revalidate, cursor pagination, and
// executor calls through the request manager.
type QueryPipeline struct {
	executor query.Executor
	manager  *request.Manager
	flight   *cache.Flight
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

// NewQueryPipeline wires a query pipeline from its collaborators.
func NewQueryPipeline(executor query.Executor, manager *request.Manager, flight *cache.Flight, limiter *ratelimit.Limiter, logger *zerolog.Logger) *QueryPipeline {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &QueryPipeline{
		executor: executor,
		manager:  manager,
		flight:   flight,
		limiter:  limiter,
		logger:   l.With().Str("component", "query_pipeline").Logger(),
	}
}

// Run executes a select descriptor for the given caller.
//
// The rate check is informational unless EnforceRateLimit is set; the
// result always carries the check outcome so callers can surface headers.
// Raw rows (including the pagination sentinel row) are what gets cached,
// so every caller of the same page processes cursors from the same data.
func (p *QueryPipeline) Run(ctx context.Context, id Identity, q query.Query, opts QueryOptions) (QueryResult, error) {
	result := QueryResult{}

	result.RateLimit = p.limiter.Check(ctx, id.RateIdentifier(), id.Tier(), q.Resource)
	if !result.RateLimit.Allowed {
		if opts.EnforceRateLimit {
			return result, &ratelimit.Error{Result: result.RateLimit}
		}
		p.logger.Warn().
			Str("endpoint", q.Resource).
			Str("window", result.RateLimit.Window).
			Msg("Rate limit exceeded on read path, continuing")
	}

	fetchQuery := q
	if opts.Pagination != nil {
		var err error
		fetchQuery, err = pagination.BuildQuery(q, *opts.Pagination, opts.SortFields)
		if err != nil {
			return result, err
		}
	}

	key := id.cacheKey(opts.Scope, queryFingerprint(fetchQuery))
	producer := func(ctx context.Context) (any, error) {
		return p.manager.Execute(ctx, q.Resource, func(ctx context.Context) (any, error) {
			return p.executor.Select(ctx, fetchQuery)
		}, request.Options{
			Timeout:          opts.Timeout,
			DeduplicationKey: key.String(),
		})
	}

	flightOpts := cache.FlightOptions{TTL: opts.TTL, StaleTime: opts.StaleTime, Tags: opts.Tags}
	var (
		value any
		hit   bool
		err   error
	)
	if opts.StaleTime > 0 {
		value, hit, err = p.flight.StaleWhileRevalidate(ctx, key, producer, flightOpts)
	} else {
		value, hit, err = p.flight.Do(ctx, key, producer, flightOpts)
	}
	if err != nil {
		return result, err
	}
	result.CacheHit = hit

	rows, err := coerceRows(value)
	if err != nil {
		return result, err
	}

	if opts.Pagination != nil {
		page := pagination.ProcessResults(rows, *opts.Pagination)
		result.Page = &page
		result.Rows = page.Items
	} else {
		result.Rows = rows
	}
	return result, nil
}

// queryFingerprint derives a deterministic cache key from a descriptor, so
// two identical reads share an entry and any difference in filters,
// ordering, or keyset produces a different one.
func queryFingerprint(q query.Query) string {
	raw, err := json.Marshal(q)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", q))
	}
	sum := sha256.Sum256(raw)
	return q.Resource + ":" + hex.EncodeToString(sum[:8])
}

// coerceRows recovers typed rows from a cache value. Values fresh from the
// executor are []query.Row; values that round-tripped through a JSON store
// come back as []any of map[string]any.
func coerceRows(value any) ([]query.Row, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []query.Row:
		return v, nil
	case []map[string]any:
		rows := make([]query.Row, len(v))
		for i, m := range v {
			rows[i] = query.Row(m)
		}
		return rows, nil
	case []any:
		rows := make([]query.Row, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unexpected cached row type %T", item)
			}
			rows = append(rows, query.Row(m))
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unexpected cached value type %T", value)
	}
}
