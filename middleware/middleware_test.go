package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"async-rpc/future"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// echoInvoker succeeds immediately with the method name.
func echoInvoker(ctx context.Context, inv *Invocation) *future.Future[any] {
	return future.Resolved[any](inv.Method)
}

func failingInvoker(ctx context.Context, inv *Invocation) *future.Future[any] {
	return future.Rejected[any](errors.New("boom"))
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	invoke := LoggingMiddleware(zap.New(core))(echoInvoker)

	f := invoke(context.Background(), &Invocation{Method: "ping"})
	v, err := f.Value()
	require.NoError(t, err)
	assert.Equal(t, "ping", v)

	entries := logs.FilterMessage("rpc call completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ping", entries[0].ContextMap()["method"])
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	invoke := LoggingMiddleware(zap.New(core))(failingInvoker)

	invoke(context.Background(), &Invocation{Method: "add"})
	assert.Equal(t, 1, logs.FilterMessage("rpc call failed").Len())
}

func TestLoggingPendingCall(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	pending := future.New[any]()
	invoke := LoggingMiddleware(zap.New(core))(func(context.Context, *Invocation) *future.Future[any] {
		return pending
	})

	invoke(context.Background(), &Invocation{Method: "sleep"})
	assert.Equal(t, 0, logs.Len())

	pending.Resolve(nil)
	assert.Equal(t, 1, logs.Len())
}

func TestTimeoutDefault(t *testing.T) {
	var seen time.Duration
	invoke := TimeOutMiddleware(500 * time.Millisecond)(func(ctx context.Context, inv *Invocation) *future.Future[any] {
		seen = inv.Timeout
		return future.Resolved[any](nil)
	})

	invoke(context.Background(), &Invocation{Method: "add"})
	assert.Equal(t, 500*time.Millisecond, seen)

	invoke(context.Background(), &Invocation{Method: "add", Timeout: time.Second})
	assert.Equal(t, time.Second, seen)

	invoke(context.Background(), &Invocation{Method: "zip", Oneway: true})
	assert.Equal(t, time.Duration(0), seen)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	invoke := RateLimitMiddleware(1, 2)(echoInvoker)

	for i := 0; i < 2; i++ {
		_, err := invoke(context.Background(), &Invocation{Method: "add"}).Value()
		require.NoError(t, err, "request %d should pass", i)
	}

	f := invoke(context.Background(), &Invocation{Method: "add"})
	assert.Equal(t, future.Failed, f.State())
	_, err := f.Value()
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Invoker) Invoker {
			return func(ctx context.Context, inv *Invocation) *future.Future[any] {
				order = append(order, name)
				return next(ctx, inv)
			}
		}
	}

	invoke := Chain(mark("a"), mark("b"), mark("c"))(echoInvoker)
	_, err := invoke(context.Background(), &Invocation{Method: "ping"}).Value()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
