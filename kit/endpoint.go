// Package kit holds the small transport toolkit shared by the HTTP and MCP
// surfaces: the Endpoint abstraction, middleware chaining, request-scoped
// context values, and MCP tool registration.
package kit

import "context"

// Endpoint is a single transport-agnostic operation: typed request in,
// typed response out.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}
