// Command requestcore-demo runs a small HTTP server exposing the donation
// request middleware over an in-memory backend: a paginated read endpoint,
// a guarded write endpoint, health, and Prometheus metrics.
//
// Set REDIS_URL to back the cache, rate limiter, and idempotency store with
// Redis instead of the in-process memory store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/causewayhq/requestcore/internal/testutil"
	"github.com/causewayhq/requestcore/pkg/audit"
	"github.com/causewayhq/requestcore/pkg/cache"
	"github.com/causewayhq/requestcore/pkg/idempotency"
	"github.com/causewayhq/requestcore/pkg/logging"
	"github.com/causewayhq/requestcore/pkg/money"
	"github.com/causewayhq/requestcore/pkg/pagination"
	"github.com/causewayhq/requestcore/pkg/pipeline"
	"github.com/causewayhq/requestcore/pkg/query"
	"github.com/causewayhq/requestcore/pkg/ratelimit"
	"github.com/causewayhq/requestcore/pkg/request"
)

var donationSortFields = []string{"created_at", "amount"}

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: os.Getenv("LOG_PRETTY") != "",
		Output: os.Stderr,
	})

	store, err := buildStore(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build cache store")
	}

	executor := testutil.NewMockExecutor()
	seedDonations(executor)

	a := buildApp(executor, store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/donations", a.donationsHandler)

	port := getEnv("PORT", "8080")
	logger.Info().Str("port", port).Msg("Starting request middleware demo server")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// buildStore connects to Redis when REDIS_URL is set, otherwise uses the
// in-process memory store.
func buildStore(logger zerolog.Logger) (cache.Store, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Info().Msg("Using in-memory cache store")
		return cache.NewMemoryStore(cache.DefaultMemoryConfig()), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", redisURL, err)
	}
	logger.Info().Str("addr", redisURL).Msg("Using Redis cache store")
	return cache.NewRedisStore(rdb, "requestcore", logger), nil
}

// app is the composition root: every component is constructed once here and
// handed to the pipelines by reference.
type app struct {
	queries   *pipeline.QueryPipeline
	mutations *pipeline.MutationPipeline
}

func buildApp(executor query.Executor, store cache.Store, logger zerolog.Logger) *app {
	manager := request.New(request.Config{Logger: &logger})
	flight := cache.NewFlight(store, logger)
	limiter := ratelimit.NewLimiter(store, logger)
	idem := idempotency.NewManager(store, idempotency.DefaultConfig(), logger)
	recorder := audit.NewRecorder(&logger, audit.NewLogSink(&logger))

	return &app{
		queries:   pipeline.NewQueryPipeline(executor, manager, flight, limiter, &logger),
		mutations: pipeline.NewMutationPipeline(executor, manager, store, limiter, idem, recorder, 0, &logger),
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *app) donationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDonations(w, r)
	case http.MethodPost:
		a.createDonation(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *app) listDonations(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r)

	params := &pagination.Params{
		Cursor:    r.URL.Query().Get("cursor"),
		SortField: r.URL.Query().Get("sort"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		fmt.Sscanf(limit, "%d", &params.Limit)
	}
	if r.URL.Query().Get("order") == "desc" {
		params.SortOrder = pagination.OrderDesc
	}

	result, err := a.queries.Run(r.Context(), id, query.Select("donations"), pipeline.QueryOptions{
		TTL:        30 * time.Second,
		StaleTime:  time.Minute,
		Tags:       []string{"donations"},
		Pagination: params,
		SortFields: donationSortFields,
	})
	if err != nil {
		writeError(w, err, result.RateLimit)
		return
	}

	writeRateHeaders(w, result.RateLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       result.Page.Items,
		"has_next":    result.Page.HasNext,
		"has_prev":    result.Page.HasPrev,
		"next_cursor": result.Page.NextCursor,
		"prev_cursor": result.Page.PrevCursor,
		"cache_hit":   result.CacheHit,
	})
}

func (a *app) createDonation(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r)

	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	result, err := a.mutations.Run(r.Context(), id, query.Insert("donations", values), pipeline.MutationOptions{
		Schema: pipeline.Schema{
			"donor_name":  {Required: true, Tag: "min=1,max=200"},
			"campaign_id": {Required: true},
			"amount":      {Required: true},
		},
		MoneyFields:    []string{"amount", "tip_amount"},
		Currency:       "USD",
		InvalidateTags: []string{"donations"},
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, err, result.RateLimit)
		return
	}

	writeRateHeaders(w, result.RateLimit)
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	var donation any
	if len(result.Rows) > 0 {
		donation = result.Rows[0]
	}
	writeJSON(w, status, map[string]any{
		"donation": donation,
		"replayed": result.Replayed,
	})
}

// callerIdentity derives the pipeline identity from demo headers. A real
// deployment would take this from the session.
func callerIdentity(r *http.Request) pipeline.Identity {
	userID := r.Header.Get("X-User-ID")
	return pipeline.Identity{
		UserID:        userID,
		Role:          r.Header.Get("X-User-Role"),
		Authenticated: userID != "",
		IP:            r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	}
}

func writeError(w http.ResponseWriter, err error, rl ratelimit.Result) {
	status := http.StatusInternalServerError
	switch classifyError(err) {
	case "rate_limit":
		writeRateHeaders(w, rl)
		status = http.StatusTooManyRequests
	case "validation":
		status = http.StatusUnprocessableEntity
	case "bad_request":
		status = http.StatusBadRequest
	case "timeout":
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func classifyError(err error) string {
	var (
		rateErr     *ratelimit.Error
		securityErr *pipeline.SecurityError
		validErr    *pipeline.ValidationError
	)
	switch {
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &securityErr), errors.As(err, &validErr):
		return "validation"
	case errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, pagination.ErrInvalidSortField),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrInvalidAmountFormat):
		return "bad_request"
	case errors.Is(err, request.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

func writeRateHeaders(w http.ResponseWriter, rl ratelimit.Result) {
	for key, value := range rl.Headers() {
		w.Header().Set(key, value)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func seedDonations(executor *testutil.MockExecutor) {
	rows := make([]query.Row, 0, 45)
	for i := 1; i <= 45; i++ {
		rows = append(rows, query.Row{
			"id":          fmt.Sprintf("don-%04d", i),
			"campaign_id": fmt.Sprintf("camp-%d", i%3+1),
			"donor_name":  fmt.Sprintf("Donor %d", i),
			"amount":      float64(5 + i%20),
			"created_at":  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		})
	}
	executor.Seed("donations", rows)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
