package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/causewayhq/requestcore/pkg/cache"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*Limiter, *testClock) {
	clock := newTestClock()
	cfg := cache.DefaultMemoryConfig()
	cfg.Capacity = 1000
	cfg.Clock = clock.Now
	store := cache.NewMemoryStore(cfg)

	limiter := NewLimiter(store, zerolog.Nop())
	limiter.now = clock.Now
	return limiter, clock
}

// TestConsume_WindowReset exercises the anonymous minute ceiling: ten
// requests pass, the eleventh is rejected with a retry-after consistent with
// the bucket boundary, and the next minute bucket admits requests again.
func TestConsume_WindowReset(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newTestLimiter()

	clock.Advance(10 * time.Second) // partway into the minute bucket

	for i := 0; i < 10; i++ {
		result := limiter.Consume(ctx, "ip:1.2.3.4", TierAnonymous, "donations")
		if !result.Allowed {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
	}

	result := limiter.Consume(ctx, "ip:1.2.3.4", TierAnonymous, "donations")
	if result.Allowed {
		t.Fatal("11th request allowed, want rejected")
	}
	if result.Window != "minute" {
		t.Errorf("Window = %q, want minute", result.Window)
	}
	if result.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", result.Remaining)
	}

	// 50 seconds remain in the bucket.
	if result.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter = %v, want 50s", result.RetryAfter)
	}

	// Rejected requests never increment, so the count stays at the ceiling.
	again := limiter.Consume(ctx, "ip:1.2.3.4", TierAnonymous, "donations")
	if again.Allowed {
		t.Fatal("rejected request incremented a counter")
	}

	// Crossing the bucket boundary resets the window.
	clock.Advance(time.Minute)
	result = limiter.Consume(ctx, "ip:1.2.3.4", TierAnonymous, "donations")
	if !result.Allowed {
		t.Fatal("request after window reset rejected, want allowed")
	}
}

func TestCheck_DoesNotConsume(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter()

	for i := 0; i < 100; i++ {
		result := limiter.Check(ctx, "user:1", TierAnonymous, "donations")
		if !result.Allowed {
			t.Fatalf("Check %d rejected; Check must not consume", i+1)
		}
	}
}

func TestConsume_IdentitiesIsolated(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		limiter.Consume(ctx, "ip:1.1.1.1", TierAnonymous, "donations")
	}
	if result := limiter.Consume(ctx, "ip:1.1.1.1", TierAnonymous, "donations"); result.Allowed {
		t.Fatal("exhausted identity still allowed")
	}

	if result := limiter.Consume(ctx, "ip:2.2.2.2", TierAnonymous, "donations"); !result.Allowed {
		t.Fatal("fresh identity rejected")
	}
}

func TestConsume_EndpointsIsolated(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		limiter.Consume(ctx, "ip:1.1.1.1", TierAnonymous, "donations")
	}

	if result := limiter.Consume(ctx, "ip:1.1.1.1", TierAnonymous, "campaigns"); !result.Allowed {
		t.Fatal("different endpoint shared the exhausted counter")
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		name          string
		role          string
		authenticated bool
		want          Tier
	}{
		{"admin role", "admin", true, TierAdmin},
		{"admin outranks authentication flag", "ADMIN", false, TierAdmin},
		{"premium role", "premium", true, TierPremium},
		{"plain authenticated", "", true, TierAuthenticated},
		{"donor role authenticated", "donor", true, TierAuthenticated},
		{"anonymous", "", false, TierAnonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TierFor(tt.role, tt.authenticated); got != tt.want {
				t.Errorf("TierFor(%q, %v) = %q, want %q", tt.role, tt.authenticated, got, tt.want)
			}
		})
	}
}

func TestIdentifierFor(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		ip        string
		userAgent string
		want      string
	}{
		{"user id wins", "42", "1.2.3.4", "Mozilla", "user:42"},
		{"ip next", "", "1.2.3.4", "Mozilla", "ip:1.2.3.4"},
		{"user agent hashed", "", "", "Mozilla", ""},
		{"fixed fallback", "", "", "", "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentifierFor(tt.userID, tt.ip, tt.userAgent)
			if tt.name == "user agent hashed" {
				if len(got) != len("ua:")+16 || got[:3] != "ua:" {
					t.Errorf("IdentifierFor() = %q, want ua:<16 hex chars>", got)
				}
				// Deterministic across calls.
				if again := IdentifierFor("", "", "Mozilla"); again != got {
					t.Errorf("hash not deterministic: %q vs %q", got, again)
				}
				return
			}
			if got != tt.want {
				t.Errorf("IdentifierFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResult_Headers(t *testing.T) {
	resetAt := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)

	allowed := Result{Allowed: true, Limit: 10, Remaining: 3, ResetAt: resetAt}
	headers := allowed.Headers()
	if headers["X-RateLimit-Limit"] != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", headers["X-RateLimit-Limit"])
	}
	if headers["X-RateLimit-Remaining"] != "3" {
		t.Errorf("X-RateLimit-Remaining = %q, want 3", headers["X-RateLimit-Remaining"])
	}
	if _, ok := headers["Retry-After"]; ok {
		t.Error("allowed result carries Retry-After")
	}

	rejected := Result{Allowed: false, Limit: 10, ResetAt: resetAt, RetryAfter: 42 * time.Second}
	headers = rejected.Headers()
	if headers["Retry-After"] != "42" {
		t.Errorf("Retry-After = %q, want 42", headers["Retry-After"])
	}
}

// failingStore simulates a counter store outage.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*cache.Entry, error) {
	return nil, errors.New("store unreachable")
}
func (failingStore) Set(context.Context, string, any, cache.SetOptions) error {
	return errors.New("store unreachable")
}
func (failingStore) Delete(context.Context, string) error { return nil }
func (failingStore) InvalidateByTag(context.Context, string) (int, error) {
	return 0, errors.New("store unreachable")
}
func (failingStore) InvalidateByPattern(context.Context, string) (int, error) {
	return 0, errors.New("store unreachable")
}
func (failingStore) Len(context.Context) (int, error) { return 0, nil }
func (failingStore) Flush(context.Context) error      { return nil }

func TestConsume_FailsOpenOnStoreOutage(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(failingStore{}, zerolog.Nop())

	for i := 0; i < 20; i++ {
		if result := limiter.Consume(ctx, "ip:1.1.1.1", TierAnonymous, "donations"); !result.Allowed {
			t.Fatal("limiter blocked traffic during store outage, want fail open")
		}
	}
}
