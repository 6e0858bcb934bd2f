// Package request executes operations with wall-clock timeouts, exponential
// backoff retries, and in-flight deduplication of concurrent identical calls.
//
// Mutations are never retried automatically unless the caller supplies an
// idempotency key, because a repeated non-idempotent write can duplicate
// side effects.
package request
