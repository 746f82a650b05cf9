// Package client is the user-facing side of an async-rpc connection.
//
// A Client issues calls without blocking: each call is encoded, written to
// the connection and registered under a fresh correlation id, and the caller
// gets a future back at once. Responses are routed to those futures by the
// connection's reactor goroutine as frames arrive, in any order.
//
//	goroutine-1 ──Call(add)──→ id=0 ──┐
//	goroutine-2 ──Call(ping)─→ id=1 ──┼──→ single connection ──→ server
//	goroutine-3 ──Call(zip)──→ oneway ┘         (resolved immediately)
//
//	reactor: frame(id=1) → registry[1] → future of goroutine-2 resolves
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"async-rpc/codec"
	"async-rpc/future"
	"async-rpc/message"
	"async-rpc/metrics"
	"async-rpc/middleware"
	"async-rpc/transport"

	"go.uber.org/zap"
)

// frameWriter is the part of the transport a Client writes requests to.
type frameWriter interface {
	Write(payload []byte) error
}

// Client is bound to exactly one established connection. It is created by
// the connection once the handshake completes and cannot be reused after the
// connection closes.
type Client struct {
	conn    *Conn
	svc     *Service
	codec   codec.Codec
	writer  frameWriter
	calls   *transport.CallRegistry
	invoke  middleware.Invoker
	logger  *zap.Logger
	metrics *metrics.Collector
}

func newClient(conn *Conn, writer frameWriter) *Client {
	c := &Client{
		conn:    conn,
		svc:     conn.svc,
		codec:   conn.cfg.Codec,
		writer:  writer,
		calls:   conn.calls,
		logger:  conn.logger,
		metrics: conn.cfg.Metrics,
	}
	c.invoke = conn.cfg.middleware()(c.send)
	return c
}

// Service returns the contract the client was built for.
func (c *Client) Service() *Service {
	return c.svc
}

// Call invokes method with args and returns a future for its outcome.
//
// The deadline of the call is the WithTimeout option if given, else the
// deadline of ctx, else the configured default. Cancelling ctx after Call
// returns has no effect; the request is already on the wire.
//
// Oneway methods resolve with a nil value as soon as the request is written.
// Encode and write failures are returned as an already failed future.
func (c *Client) Call(ctx context.Context, method string, args any, opts ...CallOption) *future.Future[any] {
	m, ok := c.svc.Method(method)
	if !ok {
		return future.Rejected[any](&UnknownMethodError{Method: method})
	}
	if err := ctx.Err(); err != nil {
		return future.Rejected[any](contextError(method, err))
	}

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	timeout := o.timeout
	if timeout <= 0 {
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return future.Rejected[any](contextError(method, context.DeadlineExceeded))
			}
		}
	}

	return c.invoke(ctx, &middleware.Invocation{
		Method:  m.Name,
		Args:    args,
		Oneway:  m.Oneway,
		Timeout: timeout,
	})
}

// contextError fails a call that was never sent. An expired deadline also
// matches transport.ErrTimeout, like a call that timed out while pending.
func contextError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rpc: %s: %w: %w", method, transport.ErrTimeout, err)
	}
	return fmt.Errorf("rpc: %s: %w", method, err)
}

// Close closes the underlying connection. Pending calls fail with
// ErrConnectionClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

// send is the innermost invoker: encode, register, write.
func (c *Client) send(ctx context.Context, inv *middleware.Invocation) *future.Future[any] {
	if c.conn.closed() {
		return future.Rejected[any](ErrConnectionClosed)
	}

	id := c.calls.NextID()
	frame, err := c.encodeRequest(inv, id)
	if err != nil {
		return future.Rejected[any](&EncodeError{Method: inv.Method, Err: err})
	}

	start := time.Now()
	c.metrics.CallStarted(inv.Method, inv.Oneway)

	if inv.Oneway {
		if err := c.writer.Write(frame); err != nil {
			c.writeFailed(inv.Method, err)
			c.metrics.CallCompleted(inv.Method, metrics.OutcomeError, time.Since(start).Seconds())
			return future.Rejected[any](&WriteError{Method: inv.Method, Err: err})
		}
		c.metrics.CallCompleted(inv.Method, metrics.OutcomeSuccess, time.Since(start).Seconds())
		return future.Resolved[any](nil)
	}

	// Register before writing: the reactor may see the response before
	// Write returns.
	f := future.New[any]()
	if err := c.calls.Register(id, f, inv.Timeout); err != nil {
		c.metrics.CallSettled()
		return future.Rejected[any](err)
	}
	f.OnComplete(func(_ any, err error) {
		c.metrics.CallSettled()
		c.metrics.CallCompleted(inv.Method, outcome(err), time.Since(start).Seconds())
	})

	if err := c.writer.Write(frame); err != nil {
		if c.calls.Remove(id) {
			f.Fail(&WriteError{Method: inv.Method, Err: err})
		}
		c.writeFailed(inv.Method, err)
	}
	return f
}

func (c *Client) encodeRequest(inv *middleware.Invocation, id int32) ([]byte, error) {
	payload, err := json.Marshal(inv.Args)
	if err != nil {
		return nil, err
	}
	return c.codec.Encode(&message.Message{
		Name:    inv.Method,
		Kind:    message.KindCall,
		SeqID:   id,
		Payload: payload,
	})
}

// writeFailed closes the connection: a failed write may have left part of a
// frame on the stream.
func (c *Client) writeFailed(method string, err error) {
	c.logger.Warn("request write failed, closing connection",
		zap.String("method", method), zap.Error(err))
	c.conn.closeWith(err)
}

// handleFrame routes one response frame to its pending call. It returns an
// error only when the frame's header cannot be decoded, since no call can be
// blamed and the stream is likely out of sync.
func (c *Client) handleFrame(frame []byte) error {
	var msg message.Message
	if err := c.codec.Decode(frame, &msg); err != nil {
		return &DecodeError{SeqID: -1, Err: err}
	}

	value, err := c.decodeResponse(&msg)
	if !c.calls.Resolve(msg.SeqID, value, err) {
		c.logger.Debug("discarding response for unknown call",
			zap.String("method", msg.Name),
			zap.Int32("seqid", msg.SeqID),
			zap.Stringer("kind", msg.Kind))
		c.metrics.UnknownResponse()
	}
	return nil
}

// decodeResponse dispatches on the message kind and the method name. Every
// problem becomes the call's failure rather than an error of the reader.
func (c *Client) decodeResponse(msg *message.Message) (any, error) {
	switch msg.Kind {
	case message.KindReply:
		m, ok := c.svc.Method(msg.Name)
		if !ok {
			return nil, &UnknownMethodError{Method: msg.Name}
		}
		if m.Oneway {
			return nil, &DecodeError{Method: msg.Name, SeqID: msg.SeqID, Err: errors.New("reply to a oneway method")}
		}
		value, err := m.Result(msg.Payload)
		if err != nil {
			var failure *ApplicationFailure
			if errors.As(err, &failure) {
				failure.Method = msg.Name
				return nil, failure
			}
			return nil, &DecodeError{Method: msg.Name, SeqID: msg.SeqID, Err: err}
		}
		return value, nil

	case message.KindException:
		var exc message.ApplicationException
		if err := json.Unmarshal(msg.Payload, &exc); err != nil {
			return nil, &DecodeError{Method: msg.Name, SeqID: msg.SeqID, Err: err}
		}
		return nil, &exc

	default:
		return nil, &DecodeError{
			Method: msg.Name,
			SeqID:  msg.SeqID,
			Err:    fmt.Errorf("unexpected message kind %s", msg.Kind),
		}
	}
}

func outcome(err error) string {
	var (
		failure *ApplicationFailure
		exc     *message.ApplicationException
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &failure):
		return metrics.OutcomeApplication
	case errors.As(err, &exc):
		return metrics.OutcomeRemote
	case errors.Is(err, transport.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrConnectionClosed):
		return metrics.OutcomeClosed
	default:
		return metrics.OutcomeError
	}
}
