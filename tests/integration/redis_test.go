package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/causewayhq/requestcore/internal/testutil"
	"github.com/causewayhq/requestcore/pkg/audit"
	"github.com/causewayhq/requestcore/pkg/cache"
	"github.com/causewayhq/requestcore/pkg/idempotency"
	"github.com/causewayhq/requestcore/pkg/pipeline"
	"github.com/causewayhq/requestcore/pkg/query"
	"github.com/causewayhq/requestcore/pkg/ratelimit"
	"github.com/causewayhq/requestcore/pkg/request"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newRedisStore(t *testing.T, rdb *redis.Client) *cache.RedisStore {
	t.Helper()
	return cache.NewRedisStore(rdb, "test", zerolog.Nop())
}

// TestRedisStoreSetGet verifies the basic round trip through Redis.
func TestRedisStoreSetGet(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	ctx := context.Background()

	err := store.Set(ctx, "public::campaigns:list", map[string]any{"name": "Winter Appeal"}, cache.SetOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := store.Get(ctx, "public::campaigns:list")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	value, ok := entry.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value = %T, want map after JSON round trip", entry.Value)
	}
	if value["name"] != "Winter Appeal" {
		t.Errorf("Value name = %v, want Winter Appeal", value["name"])
	}

	if _, err := store.Get(ctx, "public::absent"); err != cache.ErrMiss {
		t.Errorf("Get(absent) error = %v, want ErrMiss", err)
	}
}

// TestRedisStoreExpiry verifies TTL-based expiry against real Redis.
func TestRedisStoreExpiry(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	ctx := context.Background()

	if err := store.Set(ctx, "public::short", "value", cache.SetOptions{TTL: time.Second}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := store.Get(ctx, "public::short"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := store.Get(ctx, "public::short"); err != cache.ErrMiss {
		t.Errorf("Get() after expiry error = %v, want ErrMiss", err)
	}
}

// TestRedisStoreTagInvalidation verifies that invalidating one tag removes
// exactly the entries carrying it.
func TestRedisStoreTagInvalidation(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	ctx := context.Background()

	store.Set(ctx, "public::one", 1, cache.SetOptions{Tags: []string{"a"}})
	store.Set(ctx, "public::two", 2, cache.SetOptions{Tags: []string{"a", "b"}})
	store.Set(ctx, "public::three", 3, cache.SetOptions{Tags: []string{"b"}})

	removed, err := store.InvalidateByTag(ctx, "a")
	if err != nil {
		t.Fatalf("InvalidateByTag() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidateByTag() removed %d, want 2", removed)
	}

	if _, err := store.Get(ctx, "public::one"); err != cache.ErrMiss {
		t.Error("entry tagged [a] survived invalidation")
	}
	if _, err := store.Get(ctx, "public::two"); err != cache.ErrMiss {
		t.Error("entry tagged [a b] survived invalidation")
	}
	if _, err := store.Get(ctx, "public::three"); err != nil {
		t.Error("entry tagged [b] should have survived")
	}
}

// TestRedisStorePatternInvalidation verifies glob-style invalidation.
func TestRedisStorePatternInvalidation(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	ctx := context.Background()

	store.Set(ctx, cache.UserKey("user-42", "profile").String(), "p", cache.SetOptions{})
	store.Set(ctx, cache.UserKey("user-42", "donations").String(), "d", cache.SetOptions{})
	store.Set(ctx, cache.UserKey("user-7", "profile").String(), "o", cache.SetOptions{})

	removed, err := store.InvalidateByPattern(ctx, "user:user-42:*")
	if err != nil {
		t.Fatalf("InvalidateByPattern() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidateByPattern() removed %d, want 2", removed)
	}

	if _, err := store.Get(ctx, cache.UserKey("user-7", "profile").String()); err != nil {
		t.Error("other user's entry should have survived")
	}
}

// TestIdempotencyOverRedis verifies replay semantics against real Redis.
func TestIdempotencyOverRedis(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	manager := idempotency.NewManager(store, idempotency.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return map[string]any{"id": "don-1"}, nil
	}

	first, err := manager.Execute(ctx, "idem:integration", op)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if first.Replayed {
		t.Error("first execution reported as replay")
	}

	second, err := manager.Execute(ctx, "idem:integration", op)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if !second.Replayed {
		t.Error("second execution was not replayed")
	}
	if calls != 1 {
		t.Errorf("operation ran %d times, want 1", calls)
	}

	value, ok := second.Value.(map[string]any)
	if !ok {
		t.Fatalf("replayed value = %T, want map", second.Value)
	}
	if value["id"] != "don-1" {
		t.Errorf("replayed id = %v, want don-1", value["id"])
	}
}

// TestRateLimiterOverRedis verifies shared counters against real Redis.
func TestRateLimiterOverRedis(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	limiter := ratelimit.NewLimiter(store, zerolog.Nop())
	ctx := context.Background()

	// Anonymous callers get 10 requests per minute.
	for i := 0; i < 10; i++ {
		result := limiter.Consume(ctx, "ip:203.0.113.9", ratelimit.TierAnonymous, "donations")
		if !result.Allowed {
			t.Fatalf("request %d rejected early", i+1)
		}
	}

	result := limiter.Consume(ctx, "ip:203.0.113.9", ratelimit.TierAnonymous, "donations")
	if result.Allowed {
		t.Fatal("11th request allowed, want rejection")
	}
	if result.RetryAfter <= 0 {
		t.Error("rejection carries no retry-after")
	}

	// A different identity is unaffected.
	other := limiter.Consume(ctx, "ip:203.0.113.10", ratelimit.TierAnonymous, "donations")
	if !other.Allowed {
		t.Error("different identity was rejected")
	}
}

// TestPipelinesOverRedis runs the full read and write flow with every
// shared component backed by Redis.
func TestPipelinesOverRedis(t *testing.T) {
	rdb, cleanup := setupRedis(t)
	defer cleanup()

	store := newRedisStore(t, rdb)
	logger := zerolog.Nop()
	executor := testutil.NewMockExecutor()
	seedRows := make([]query.Row, 0, 5)
	for i := 1; i <= 5; i++ {
		seedRows = append(seedRows, query.Row{"id": fmt.Sprintf("don-%d", i), "amount": float64(i * 10)})
	}
	executor.Seed("donations", seedRows)

	manager := request.New(request.DefaultConfig())
	flight := cache.NewFlight(store, logger)
	limiter := ratelimit.NewLimiter(store, logger)
	idem := idempotency.NewManager(store, idempotency.DefaultConfig(), logger)
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(&logger, sink)

	queries := pipeline.NewQueryPipeline(executor, manager, flight, limiter, &logger)
	mutations := pipeline.NewMutationPipeline(executor, manager, store, limiter, idem, recorder, 0, &logger)

	ctx := context.Background()
	caller := pipeline.Identity{UserID: "user-1", Authenticated: true, IP: "10.0.0.1", UserAgent: "integration"}
	readOpts := pipeline.QueryOptions{TTL: time.Minute, Tags: []string{"donations"}}

	// Read twice: the second must come from Redis, not the executor.
	first, err := queries.Run(ctx, caller, query.Select("donations"), readOpts)
	if err != nil {
		t.Fatalf("first read error = %v", err)
	}
	if first.CacheHit {
		t.Error("first read reported a cache hit")
	}

	second, err := queries.Run(ctx, caller, query.Select("donations"), readOpts)
	if err != nil {
		t.Fatalf("second read error = %v", err)
	}
	if !second.CacheHit {
		t.Error("second read missed the Redis cache")
	}
	if len(second.Rows) != 5 {
		t.Errorf("cached read returned %d rows, want 5", len(second.Rows))
	}
	if got := executor.Calls(query.OpSelect, "donations"); got != 1 {
		t.Errorf("executor selected %d times, want 1", got)
	}

	// A write through the mutation pipeline invalidates the tag.
	insert := query.Insert("donations", map[string]any{"donor_name": "Jane", "amount": "25.00"})
	_, err = mutations.Run(ctx, caller, insert, pipeline.MutationOptions{
		MoneyFields:    []string{"amount"},
		Currency:       "USD",
		InvalidateTags: []string{"donations"},
		IdempotencyKey: "idem:integration-write",
	})
	if err != nil {
		t.Fatalf("mutation error = %v", err)
	}

	third, err := queries.Run(ctx, caller, query.Select("donations"), readOpts)
	if err != nil {
		t.Fatalf("third read error = %v", err)
	}
	if third.CacheHit {
		t.Error("read after tag invalidation still hit the cache")
	}
	if len(third.Rows) != 6 {
		t.Errorf("read after insert returned %d rows, want 6", len(third.Rows))
	}

	if len(sink.Records()) != 1 {
		t.Errorf("audit trail holds %d records, want 1", len(sink.Records()))
	}
}
