// Package cache provides the shared key/value store the request middleware is
// built on: TTL expiry, tag-based invalidation, glob pattern invalidation and
// LRU eviction, with an in-memory backend for single-process use and a Redis
// backend for shared state.
//
// On top of the store it provides scoped cache keys (public / per-user /
// per-tenant namespacing) and Flight, which collapses concurrent identical
// reads into a single producer call and supports stale-while-revalidate
// serving.
//
// Failure policy: callers on the read path treat any store error as a cache
// miss; write-path errors are logged and never fail the surrounding
// operation. The store itself reports errors honestly and leaves the policy
// to its consumers.
package cache
