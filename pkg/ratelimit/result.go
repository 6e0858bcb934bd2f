package ratelimit

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Result is the outcome of a rate limit evaluation. When several windows are
// over their ceiling, the most restrictive one is reported.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Window names the window this result describes (minute/hour/day).
	Window string

	// Limit is the window's ceiling.
	Limit int

	// Remaining is how many requests are left in the window.
	Remaining int

	// ResetAt is when the window's bucket rolls over.
	ResetAt time.Time

	// RetryAfter is how long a rejected caller should wait. Zero when
	// Allowed.
	RetryAfter time.Duration
}

// Headers renders the standard rate limit response headers, including
// Retry-After when the request was rejected.
func (r Result) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if !r.Allowed {
		headers["Retry-After"] = strconv.Itoa(retryAfterSeconds(r.RetryAfter))
	}
	return headers
}

// Error is returned when a request exceeds its ceiling.
type Error struct {
	Result Result
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%s, retry after %ds",
		e.Result.Limit, e.Result.Window, retryAfterSeconds(e.Result.RetryAfter))
}

// RetryAfter returns the wait the caller should observe before retrying.
func (e *Error) RetryAfter() time.Duration {
	return e.Result.RetryAfter
}

func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
