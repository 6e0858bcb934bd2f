package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss indicates the requested key is absent or expired.
	ErrMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// SetOptions configures a single Set call.
type SetOptions struct {
	// TTL is how long the entry stays retrievable. Zero means DefaultTTL.
	TTL time.Duration

	// FreshFor marks the entry stale (but still retrievable) after this
	// duration. Zero means the entry is fresh for its whole TTL. Used by
	// stale-while-revalidate; plain reads ignore it.
	FreshFor time.Duration

	// Tags attach invalidation tags to the entry.
	Tags []string
}

// Store is the contract shared by the in-memory and Redis backends.
type Store interface {
	// Get returns the entry for key, or ErrMiss if absent/expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set inserts or overwrites the entry for key.
	Set(ctx context.Context, key string, value any, opts SetOptions) error

	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// InvalidateByTag removes every entry carrying tag, returning how many.
	InvalidateByTag(ctx context.Context, tag string) (int, error)

	// InvalidateByPattern removes every entry whose key matches the glob
	// pattern (e.g. "user:42:*"), returning how many.
	InvalidateByPattern(ctx context.Context, pattern string) (int, error)

	// Len returns the number of physically present entries.
	Len(ctx context.Context) (int, error)

	// Flush removes all entries.
	Flush(ctx context.Context) error
}

// EventKind identifies a mutating store operation for observers.
type EventKind string

const (
	EventSet        EventKind = "set"
	EventDelete     EventKind = "delete"
	EventExpire     EventKind = "expire"
	EventEvict      EventKind = "evict"
	EventInvalidate EventKind = "invalidate"
)

// Event describes one mutating store operation.
type Event struct {
	Kind EventKind
	Key  string

	// Tag is set for tag invalidations.
	Tag string
}

// EventFunc observes store mutations. Implementations must be fast and must
// not call back into the store.
type EventFunc func(Event)
