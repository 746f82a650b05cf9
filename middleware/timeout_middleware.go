package middleware

import (
	"context"
	"time"

	"async-rpc/future"
)

// TimeOutMiddleware gives calls without their own deadline a default one.
// The deadline is enforced by the connection's call registry, which fails
// the call with a timeout error once it passes.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, inv *Invocation) *future.Future[any] {
			if inv.Timeout <= 0 && !inv.Oneway {
				inv.Timeout = timeout
			}
			return next(ctx, inv)
		}
	}
}
