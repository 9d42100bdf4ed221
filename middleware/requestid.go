// Package middleware provides wrapper middleware for the engine:
// request IDs, structured request logging, and Prometheus metrics. All
// middleware is generic over handler.Context and composes with both
// global and per-route registration.
package middleware

import (
	"github.com/google/uuid"

	"github.com/strandkit/strand/core/handler"
)

// requestIDContextKey keys the request ID in the request context.
type requestIDContextKey struct{}

// RequestIDConfig configures the request ID middleware.
type RequestIDConfig struct {
	// Skip disables the middleware for specific requests.
	Skip func(ctx handler.Context) bool

	// Generator creates new request IDs (default: UUID v4).
	Generator func() string

	// HeaderName is the response header carrying the ID (default: X-Request-ID).
	HeaderName string

	// UseExisting reuses an incoming request ID header when present.
	UseExisting bool
}

// RequestID assigns a unique identifier to each request, stores it in
// the context, and echoes it in the response headers.
func RequestID[C handler.Context]() handler.Middleware[C] {
	return RequestIDWithConfig[C](RequestIDConfig{})
}

// RequestIDWithConfig is RequestID with custom configuration.
func RequestIDWithConfig[C handler.Context](cfg RequestIDConfig) handler.Middleware[C] {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Request-ID"
	}
	if cfg.Generator == nil {
		cfg.Generator = func() string { return uuid.New().String() }
	}

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			var id string
			if cfg.UseExisting {
				id = ctx.Request().Header.Get(cfg.HeaderName)
			}
			if id == "" {
				id = cfg.Generator()
			}

			ctx.SetValue(requestIDContextKey{}, id)
			ctx.ResponseWriter().Header().Set(cfg.HeaderName, id)
			return next(ctx)
		}
	}
}

// GetRequestID returns the request ID assigned by the middleware, or ""
// when the middleware did not run.
func GetRequestID(ctx handler.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}
