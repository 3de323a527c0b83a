// Package shield provides the HTTP middleware in front of the shimmer API:
// security headers, body limits, request tracing and per-client rate limits.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.Options{MaxBody: 1 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
	"time"
)

// Options selects the middleware Stack returns.
type Options struct {
	// MaxBody caps request bodies. Zero leaves them unbounded.
	MaxBody int64
	// RateLimit caps requests per client per RateWindow on the paths in
	// RateLimited. Zero disables limiting.
	RateLimit   int
	RateWindow  time.Duration
	RateLimited []string
}

// Stack returns the standard API middleware, outermost first:
// HeadToGet, SecurityHeaders, TraceID, MaxBody, then the rate limiter.
func Stack(opts Options) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		TraceID,
	}
	if opts.MaxBody > 0 {
		stack = append(stack, MaxBody(opts.MaxBody))
	}
	if opts.RateLimit > 0 {
		rl := NewRateLimiter(opts.RateLimit, opts.RateWindow, opts.RateLimited...)
		stack = append(stack, rl.Middleware)
	}
	return stack
}
