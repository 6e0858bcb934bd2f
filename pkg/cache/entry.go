package cache

import "time"

// Entry is a stored value with its cache bookkeeping.
type Entry struct {
	// Value is the cached value. The memory store holds it as-is; the Redis
	// store round-trips it through JSON, so typed values come back as
	// generic JSON shapes there.
	Value any `json:"value"`

	// TTL is how long the entry stays retrievable after Created.
	TTL time.Duration `json:"ttl"`

	// FreshFor is the stale-while-revalidate freshness window. Zero means
	// fresh for the whole TTL.
	FreshFor time.Duration `json:"fresh_for,omitempty"`

	// Created is when the entry was stored.
	Created time.Time `json:"created"`

	// Accessed is when the entry was last read.
	Accessed time.Time `json:"accessed"`

	// Hits counts reads since creation.
	Hits int64 `json:"hits"`

	// Tags are the invalidation tags attached on Set.
	Tags []string `json:"tags,omitempty"`

	// Compressed marks that Value holds a compressed payload. The store
	// does not compress; callers that do set this flag.
	Compressed bool `json:"compressed,omitempty"`
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.Created.Add(e.TTL))
}

// Stale reports whether the entry is past its freshness window but still
// within its TTL at now. An entry with no FreshFor is never stale.
func (e *Entry) Stale(now time.Time) bool {
	if e.FreshFor <= 0 || e.FreshFor >= e.TTL {
		return false
	}
	return now.After(e.Created.Add(e.FreshFor)) && !e.Expired(now)
}

// Remaining returns the time until expiry at now, zero if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	left := e.Created.Add(e.TTL).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
