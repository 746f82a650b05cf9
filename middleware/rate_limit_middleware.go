package middleware

import (
	"context"
	"errors"

	"async-rpc/future"

	"golang.org/x/time/rate"
)

// ErrRateLimited fails calls rejected by RateLimitMiddleware. Nothing is sent.
var ErrRateLimited = errors.New("rpc: rate limit exceeded")

// RateLimitMiddleware limits outgoing calls with a token bucket. Calls over
// the limit fail immediately instead of waiting, so the caller never blocks.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Invoker) Invoker {
		return func(ctx context.Context, inv *Invocation) *future.Future[any] {
			if !limiter.Allow() {
				return future.Rejected[any](ErrRateLimited)
			}
			return next(ctx, inv)
		}
	}
}
