package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Producer computes the value for a cache key on a miss.
type Producer func(ctx context.Context) (any, error)

// FlightOptions configures one Do or StaleWhileRevalidate call.
type FlightOptions struct {
	// TTL is how long a produced value stays fresh. Zero means DefaultTTL.
	TTL time.Duration

	// StaleTime is the grace window after TTL during which a stale value is
	// still served while a background refresh runs. Only used by
	// StaleWhileRevalidate.
	StaleTime time.Duration

	// Tags attach invalidation tags when the produced value is stored.
	Tags []string
}

// Flight wraps a Store with request coalescing: concurrent callers asking for
// the same scoped key share one producer execution, and stale entries can be
// served while a single background refresh updates the store.
//
// Store errors on the read path are treated as misses and logged; the
// producer result is authoritative.
type Flight struct {
	store      Store
	group      singleflight.Group
	refreshing sync.Map // physical key -> struct{}
	logger     zerolog.Logger
	now        func() time.Time
}

// NewFlight creates a Flight over store.
func NewFlight(store Store, logger zerolog.Logger) *Flight {
	return &Flight{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Do returns the cached value for key or, on a miss, invokes producer once
// no matter how many callers arrive concurrently. The second return value
// reports whether the value came from cache.
//
// The producer runs on a context detached from the caller's cancellation, so
// one waiter timing out does not abort the flight for the others; the waiter
// itself still unblocks with its context error.
func (f *Flight) Do(ctx context.Context, key Key, producer Producer, opts FlightOptions) (any, bool, error) {
	physical := key.String()

	if entry, err := f.store.Get(ctx, physical); err == nil {
		return entry.Value, true, nil
	} else if !errors.Is(err, ErrMiss) {
		f.logger.Warn().Err(err).Str("key", physical).Msg("Cache read failed, treating as miss")
	}

	return f.fetch(ctx, physical, producer, opts.TTL, 0, opts.Tags)
}

// StaleWhileRevalidate behaves like Do but distinguishes three entry states:
// fresh entries are served as-is; entries past their freshness window but
// inside the StaleTime grace are served immediately while exactly one
// background refresh updates the store; fully expired entries fall through
// to the normal single-flight fetch.
func (f *Flight) StaleWhileRevalidate(ctx context.Context, key Key, producer Producer, opts FlightOptions) (any, bool, error) {
	physical := key.String()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	entry, err := f.store.Get(ctx, physical)
	if err == nil {
		if !entry.Stale(f.now()) {
			return entry.Value, true, nil
		}

		swrStaleServed.Inc()
		f.refresh(ctx, physical, producer, ttl, opts)
		return entry.Value, true, nil
	}
	if !errors.Is(err, ErrMiss) {
		f.logger.Warn().Err(err).Str("key", physical).Msg("Cache read failed, treating as miss")
	}

	return f.fetch(ctx, physical, producer, ttl+opts.StaleTime, ttl, opts.Tags)
}

// Forget removes any in-flight bookkeeping for key. Mostly useful in tests.
func (f *Flight) Forget(key Key) {
	f.group.Forget(key.String())
}

// refresh kicks off at most one background refresh per key. Later stale
// reads during the refresh are served without starting another one.
func (f *Flight) refresh(ctx context.Context, physical string, producer Producer, ttl time.Duration, opts FlightOptions) {
	if _, loaded := f.refreshing.LoadOrStore(physical, struct{}{}); loaded {
		return
	}

	swrRefreshes.Inc()
	bg := context.WithoutCancel(ctx)

	go func() {
		defer f.refreshing.Delete(physical)

		value, err := producer(bg)
		if err != nil {
			f.logger.Warn().Err(err).Str("key", physical).Msg("Background refresh failed, keeping stale entry")
			return
		}

		setOpts := SetOptions{TTL: ttl + opts.StaleTime, FreshFor: ttl, Tags: opts.Tags}
		if err := f.store.Set(bg, physical, value, setOpts); err != nil {
			f.logger.Warn().Err(err).Str("key", physical).Msg("Cache store failed after refresh")
		}
	}()
}

// fetch runs the single-flight producer path for a miss.
func (f *Flight) fetch(ctx context.Context, physical string, producer Producer, ttl, freshFor time.Duration, tags []string) (any, bool, error) {
	bg := context.WithoutCancel(ctx)

	ch := f.group.DoChan(physical, func() (any, error) {
		value, err := producer(bg)
		if err != nil {
			return nil, err
		}

		setOpts := SetOptions{TTL: ttl, FreshFor: freshFor, Tags: tags}
		if err := f.store.Set(bg, physical, value, setOpts); err != nil {
			f.logger.Warn().Err(err).Str("key", physical).Msg("Cache store failed after fetch")
		}
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			flightShared.Inc()
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val, false, nil
	case <-ctx.Done():
		// The flight keeps running for the other waiters.
		return nil, false, ctx.Err()
	}
}
