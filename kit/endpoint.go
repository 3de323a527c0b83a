// Package kit holds the transport-neutral pieces shared by the HTTP and MCP
// surfaces: endpoints, middleware and request-scoped context values.
package kit

import (
	"context"
	"time"
)

// Endpoint handles one decoded request. HTTP handlers and MCP tools both
// wrap the same Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call with its transport, trace ID and duration. Failed
// calls log at Warn.
func Logging(name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := Logger(ctx).With(
				"endpoint", name,
				"transport", GetTransport(ctx),
				"elapsed", time.Since(start),
			)
			if addr := GetRemoteAddr(ctx); addr != "" {
				log = log.With("remote", addr)
			}
			if err != nil {
				log.Warn("kit: endpoint failed", "error", err)
			} else {
				log.Debug("kit: endpoint done")
			}
			return resp, err
		}
	}
}

// Timeout bounds each call by d. A zero d leaves calls unbounded.
func Timeout(d time.Duration) Middleware {
	return func(next Endpoint) Endpoint {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
