package middleware

import (
	"context"
	"time"

	"async-rpc/future"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call once it resolves, with its duration and
// error if any.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, inv *Invocation) *future.Future[any] {
			start := time.Now()
			f := next(ctx, inv)
			f.OnComplete(func(_ any, err error) {
				fields := []zap.Field{
					zap.String("method", inv.Method),
					zap.Bool("oneway", inv.Oneway),
					zap.Duration("duration", time.Since(start)),
				}
				if err != nil {
					logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
					return
				}
				logger.Debug("rpc call completed", fields...)
			})
			return f
		}
	}
}
