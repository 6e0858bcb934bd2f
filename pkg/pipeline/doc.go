// Package pipeline orchestrates reads and writes against an opaque backend
// executor.
//
// The query pipeline runs the read path: an informational rate check, a
// scoped cache lookup with single-flight coalescing and optional
// stale-while-revalidate, cursor pagination, and execution through the
// request manager.
//
// The mutation pipeline runs the write path: a hard rate limit consume, an
// idempotency guard wrapping sanitization, schema validation, and exact
// money normalization, then the write itself, cache tag invalidation, and
// one audit record per attempt.
//
// Pipelines hold no global state. The application's composition root
// constructs the store, limiter, managers, and recorder once and passes
// them in, so every test can run against a fresh set.
package pipeline
