package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestFlight(clock *fakeClock) (*Flight, *MemoryStore) {
	store := newTestStore(clock, 100)
	flight := NewFlight(store, zerolog.Nop())
	if clock != nil {
		flight.now = clock.Now
	}
	return flight, store
}

func TestFlight_CacheHit(t *testing.T) {
	ctx := context.Background()
	flight, store := newTestFlight(nil)
	key := PublicKey("k")

	_ = store.Set(ctx, key.String(), "cached", SetOptions{TTL: time.Minute})

	var calls int32
	value, hit, err := flight.Do(ctx, key, func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "produced", nil
	}, FlightOptions{TTL: time.Minute})

	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Error("expected cache hit")
	}
	if value != "cached" {
		t.Errorf("value = %v, want cached", value)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("producer invoked %d times on a hit, want 0", calls)
	}
}

// TestFlight_ConcurrentDedup issues 50 concurrent identical reads and
// expects exactly one producer invocation with all callers sharing the value.
func TestFlight_ConcurrentDedup(t *testing.T) {
	ctx := context.Background()
	flight, _ := newTestFlight(nil)
	key := PublicKey("k")

	var calls int32
	release := make(chan struct{})
	producer := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const waiters = 50
	results := make([]any, waiters)
	errs := make([]error, waiters)

	var started, done sync.WaitGroup
	started.Add(waiters)
	done.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], _, errs[i] = flight.Do(ctx, key, producer, FlightOptions{TTL: time.Minute})
		}(i)
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond) // let every waiter reach the flight table
	close(release)
	done.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("producer invoked %d times, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d error: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("waiter %d value = %v, want shared", i, results[i])
		}
	}
}

func TestFlight_ProducerErrorNotCached(t *testing.T) {
	ctx := context.Background()
	flight, _ := newTestFlight(nil)
	key := PublicKey("k")

	boom := errors.New("backend down")
	var calls int32
	producer := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&calls) == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	if _, _, err := flight.Do(ctx, key, producer, FlightOptions{TTL: time.Minute}); !errors.Is(err, boom) {
		t.Fatalf("first Do error = %v, want %v", err, boom)
	}

	// The failure was not cached, so the second call re-executes.
	value, hit, err := flight.Do(ctx, key, producer, FlightOptions{TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("second call reported a hit after a failed producer")
	}
	if value != "ok" {
		t.Errorf("value = %v, want ok", value)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("producer invoked %d times, want 2", calls)
	}
}

func TestFlight_WaiterCancelDoesNotAbortFlight(t *testing.T) {
	flight, store := newTestFlight(nil)
	key := PublicKey("k")

	release := make(chan struct{})
	stored := make(chan struct{})
	producer := func(context.Context) (any, error) {
		<-release
		close(stored)
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, _, err := flight.Do(ctx, key, producer, FlightOptions{TTL: time.Minute}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}

	// The flight keeps running and still populates the cache.
	close(release)
	select {
	case <-stored:
	case <-time.After(time.Second):
		t.Fatal("producer never completed after waiter cancellation")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if entry, err := store.Get(context.Background(), key.String()); err == nil {
			if entry.Value != "late" {
				t.Errorf("cached value = %v, want late", entry.Value)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("value never cached after waiter cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlight_StaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	flight, _ := newTestFlight(clock)
	key := PublicKey("k")

	var calls int32
	refreshGate := make(chan struct{})
	producer := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			<-refreshGate
		}
		return int(n), nil
	}

	opts := FlightOptions{TTL: time.Minute, StaleTime: 5 * time.Minute}

	// Miss: fetches and stores.
	value, hit, err := flight.StaleWhileRevalidate(ctx, key, producer, opts)
	if err != nil {
		t.Fatal(err)
	}
	if hit || value != 1 {
		t.Fatalf("first call = (%v, hit=%v), want (1, false)", value, hit)
	}

	// Fresh: served as-is, no producer call.
	value, hit, err = flight.StaleWhileRevalidate(ctx, key, producer, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || value != 1 {
		t.Fatalf("fresh call = (%v, hit=%v), want (1, true)", value, hit)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("producer invoked %d times while fresh, want 1", calls)
	}

	// Past TTL but within the grace window: stale value served immediately,
	// exactly one background refresh kicks off.
	clock.Advance(2 * time.Minute)

	value, hit, err = flight.StaleWhileRevalidate(ctx, key, producer, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || value != 1 {
		t.Fatalf("stale call = (%v, hit=%v), want (1, true)", value, hit)
	}

	// A second stale read while the refresh is still running must not start
	// another refresh.
	value, _, err = flight.StaleWhileRevalidate(ctx, key, producer, opts)
	if err != nil {
		t.Fatal(err)
	}
	if value != 1 {
		t.Fatalf("second stale read = %v, want 1", value)
	}

	close(refreshGate)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("producer invoked %d times, want exactly 2 (one refresh)", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Once the refresh lands, the next read sees the new value.
	deadline = time.Now().Add(time.Second)
	for {
		value, hit, err = flight.StaleWhileRevalidate(ctx, key, producer, opts)
		if err != nil {
			t.Fatal(err)
		}
		if hit && value == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refreshed value never observed, last = (%v, hit=%v)", value, hit)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlight_SWRExpiredFallsThrough(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	flight, _ := newTestFlight(clock)
	key := PublicKey("k")

	var calls int32
	producer := func(context.Context) (any, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	opts := FlightOptions{TTL: time.Minute, StaleTime: 5 * time.Minute}

	if _, _, err := flight.StaleWhileRevalidate(ctx, key, producer, opts); err != nil {
		t.Fatal(err)
	}

	// Beyond TTL + StaleTime the entry is gone entirely; this is a plain
	// blocking fetch, not a stale serve.
	clock.Advance(10 * time.Minute)

	value, hit, err := flight.StaleWhileRevalidate(ctx, key, producer, opts)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("expired entry reported as hit")
	}
	if value != 2 {
		t.Errorf("value = %v, want 2", value)
	}
}
