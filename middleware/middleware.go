// Package middleware wraps outgoing calls of an async-rpc client.
//
// Middlewares compose like an onion around the final invoker that encodes
// and writes the request:
//
//	Chain(A, B, C)(invoke) → A(B(C(invoke)))
//
// An invoker returns immediately with a future, so a middleware that wants
// to observe the outcome attaches a callback instead of waiting.
package middleware

import (
	"context"
	"time"

	"async-rpc/future"
)

// Invocation describes one outgoing call.
type Invocation struct {
	Method  string
	Args    any
	Oneway  bool
	Timeout time.Duration // 0 for no deadline
}

type Invoker func(ctx context.Context, inv *Invocation) *future.Future[any]

type Middleware func(next Invoker) Invoker

// Chain combines middlewares into one, the first being the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Invoker) Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
