package client

import (
	"time"

	"async-rpc/codec"
	"async-rpc/metrics"
	"async-rpc/middleware"

	"go.uber.org/zap"
)

// Config holds the settings of a connection and its client.
type Config struct {
	// CodecType selects the message codec when Codec is nil.
	CodecType codec.CodecType
	// Codec overrides CodecType with a custom message codec.
	Codec codec.Codec
	// Timeout is the default deadline of calls that carry none. 0 disables it.
	Timeout time.Duration
	// MaxFrameSize closes the connection on a response frame longer than
	// this many bytes. 0 accepts any length the prefix can express.
	MaxFrameSize uint32
	// Middlewares wrap every call, the first being the outermost.
	Middlewares []middleware.Middleware
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

func (c Config) withDefaults() Config {
	if c.Codec == nil {
		c.Codec = codec.GetCodec(c.CodecType)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// middleware returns the full chain, the default timeout innermost so that
// user middlewares see the caller's own deadline.
func (c Config) middleware() middleware.Middleware {
	chain := append([]middleware.Middleware(nil), c.Middlewares...)
	if c.Timeout > 0 {
		chain = append(chain, middleware.TimeOutMiddleware(c.Timeout))
	}
	return middleware.Chain(chain...)
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout sets the call's deadline, overriding the context deadline and
// the configured default.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}
