package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const (
	// DefaultTTL is the fallback TTL when Set is called without one.
	DefaultTTL = 5 * time.Minute

	// DefaultCapacity is the fallback entry limit for the memory store.
	DefaultCapacity = 1000
)

const backendMemory = "memory"

// MemoryConfig holds memory store configuration.
type MemoryConfig struct {
	// Capacity is the maximum number of entries before LRU eviction kicks in.
	Capacity int

	// DefaultTTL applies when a Set carries no TTL.
	DefaultTTL time.Duration

	// OnEvent, if set, observes every mutating operation.
	OnEvent EventFunc

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DefaultMemoryConfig returns a safe default configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:   DefaultCapacity,
		DefaultTTL: DefaultTTL,
	}
}

// MemoryStore is an in-process Store with TTL expiry, tag and pattern
// invalidation and LRU eviction at capacity. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     MemoryConfig
	now     func() time.Time
}

// NewMemoryStore creates a memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		now:     now,
	}
}

// Get returns the entry for key, evicting it lazily if expired.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		cacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrMiss
	}

	now := s.now()
	if entry.Expired(now) {
		s.removeLocked(key, EventExpire)
		cacheEvictions.WithLabelValues(backendMemory, "expired").Inc()
		cacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrMiss
	}

	entry.Accessed = now
	entry.Hits++
	cacheHits.WithLabelValues(backendMemory).Inc()

	// Copy so callers cannot race the store's bookkeeping fields.
	out := *entry
	return &out, nil
}

// Set inserts or overwrites the entry for key, evicting the
// least-recently-accessed entry first when the store is at capacity.
func (s *MemoryStore) Set(_ context.Context, key string, value any, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.Capacity {
		s.evictOldestLocked()
	}

	now := s.now()
	s.entries[key] = &Entry{
		Value:    value,
		TTL:      ttl,
		FreshFor: opts.FreshFor,
		Created:  now,
		Accessed: now,
		Tags:     append([]string(nil), opts.Tags...),
	}

	cacheEntries.WithLabelValues(backendMemory).Set(float64(len(s.entries)))
	s.emit(Event{Kind: EventSet, Key: key})
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		s.removeLocked(key, EventDelete)
	}
	return nil
}

// InvalidateByTag removes every entry carrying tag.
func (s *MemoryStore) InvalidateByTag(_ context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.HasTag(tag) {
			delete(s.entries, key)
			s.emit(Event{Kind: EventInvalidate, Key: key, Tag: tag})
			removed++
		}
	}

	if removed > 0 {
		cacheInvalidations.WithLabelValues(backendMemory, "tag").Add(float64(removed))
		cacheEntries.WithLabelValues(backendMemory).Set(float64(len(s.entries)))
	}
	return removed, nil
}

// InvalidateByPattern removes every entry whose key matches the glob pattern.
func (s *MemoryStore) InvalidateByPattern(_ context.Context, pattern string) (int, error) {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		cacheErrors.WithLabelValues(backendMemory, "invalidate").Inc()
		return 0, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if matcher.Match(key) {
			delete(s.entries, key)
			s.emit(Event{Kind: EventInvalidate, Key: key})
			removed++
		}
	}

	if removed > 0 {
		cacheInvalidations.WithLabelValues(backendMemory, "pattern").Add(float64(removed))
		cacheEntries.WithLabelValues(backendMemory).Set(float64(len(s.entries)))
	}
	return removed, nil
}

// Len returns the number of physically present entries, including entries
// that have expired but not yet been touched.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Flush removes all entries.
func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		delete(s.entries, key)
		s.emit(Event{Kind: EventDelete, Key: key})
	}
	cacheEntries.WithLabelValues(backendMemory).Set(0)
	return nil
}

// evictOldestLocked removes the least-recently-accessed entry. The O(n) scan
// is fine at the configured capacity; a doubly-linked list would make it O(1)
// if capacities grow by orders of magnitude.
func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time

	for key, entry := range s.entries {
		if oldestKey == "" || entry.Accessed.Before(oldest) {
			oldestKey = key
			oldest = entry.Accessed
		}
	}

	if oldestKey != "" {
		s.removeLocked(oldestKey, EventEvict)
		cacheEvictions.WithLabelValues(backendMemory, "lru").Inc()
	}
}

func (s *MemoryStore) removeLocked(key string, kind EventKind) {
	delete(s.entries, key)
	cacheEntries.WithLabelValues(backendMemory).Set(float64(len(s.entries)))
	s.emit(Event{Kind: kind, Key: key})
}

func (s *MemoryStore) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}
