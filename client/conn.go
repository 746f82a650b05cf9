package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"async-rpc/future"
	"async-rpc/protocol"
	"async-rpc/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type connState int

const (
	stateConnecting connState = iota
	stateEstablished
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateEstablished:
		return "established"
	default:
		return "closed"
	}
}

// Conn drives one connection to a service: it receives the transport events,
// reassembles frames from the byte stream and hands them to its Client.
//
// A Conn moves from connecting to established to closed, or from connecting
// straight to closed when the dial fails. It never reconnects.
type Conn struct {
	id     string
	addr   string
	cfg    Config
	svc    *Service
	logger *zap.Logger
	cancel context.CancelFunc

	mu        sync.Mutex
	state     connState
	transport *transport.Transport
	client    *Client
	err       error

	// reader is only touched by the reactor goroutine.
	reader *protocol.Reassembler
	calls  *transport.CallRegistry
	ready  *future.Future[*Client]
	done   chan struct{}
}

// Connect starts connecting to the peer behind d and returns at once. The
// Client is delivered through Ready. ctx bounds the dial only.
func Connect(ctx context.Context, d transport.Dialer, svc *Service, cfg Config) *Conn {
	c := newConn(d.String(), svc, cfg)
	ctx, c.cancel = context.WithCancel(ctx)
	transport.Connect(ctx, d, c)
	return c
}

// Dial connects and waits until the connection is established or ctx is
// done. A connection abandoned because of ctx is closed.
func Dial(ctx context.Context, d transport.Dialer, svc *Service, cfg Config) (*Client, error) {
	c := Connect(ctx, d, svc, cfg)
	cl, err := c.Ready().Wait(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	return cl, nil
}

func newConn(addr string, svc *Service, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Conn{
		id:     id,
		addr:   addr,
		cfg:    cfg,
		svc:    svc,
		logger: cfg.Logger.With(zap.String("conn_id", id), zap.String("addr", addr)),
		cancel: func() {},
		reader: protocol.NewLimitedReassembler(cfg.MaxFrameSize),
		calls:  transport.NewCallRegistry(),
		ready:  future.New[*Client](),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique id, as used in its log fields.
func (c *Conn) ID() string {
	return c.id
}

// Ready resolves with the Client once the connection is established, or
// fails with a *ConnectError.
func (c *Conn) Ready() *future.Future[*Client] {
	return c.ready
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. Pending calls fail with ErrConnectionClosed
// and later calls are refused. Close is idempotent.
func (c *Conn) Close() error {
	c.closeWith(nil)
	return nil
}

func (c *Conn) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// closeWith closes the connection from the caller's side. reason, if not nil,
// is attached to the errors of the pending calls.
func (c *Conn) closeWith(reason error) {
	c.mu.Lock()
	prev := c.state
	if prev == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	t := c.transport
	c.mu.Unlock()

	err := closeReason(reason)
	switch prev {
	case stateConnecting:
		c.ready.Fail(&ConnectError{Addr: c.addr, Err: err})
	case stateEstablished:
		c.calls.FailAll(err)
		c.cfg.Metrics.ConnectionClosed()
		t.Close()
	}
	c.logger.Info("connection closed", zap.Stringer("from", prev), zap.NamedError("reason", reason))
	c.finish(err)
}

// ConnectionCompleted implements transport.Handler.
func (c *Conn) ConnectionCompleted(t *transport.Transport) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.state = stateEstablished
	c.transport = t
	c.client = newClient(c, t)
	cl := c.client
	c.mu.Unlock()

	c.cfg.Metrics.ConnectionOpened()
	c.logger.Info("connection established")
	c.ready.Resolve(cl)
}

// ReceiveData implements transport.Handler.
func (c *Conn) ReceiveData(data []byte) {
	if c.closed() {
		return
	}

	frames := c.reader.Feed(data)
	c.cfg.Metrics.FramesReceived(len(frames))
	for _, frame := range frames {
		if err := c.client.handleFrame(frame); err != nil {
			c.logger.Warn("closing connection on undecodable frame",
				zap.Int("frame_size", len(frame)), zap.Error(err))
			c.cfg.Metrics.UnattributableFrame()
			c.closeWith(err)
			return
		}
	}
	if err := c.reader.Err(); err != nil {
		c.logger.Warn("closing connection on oversized frame", zap.Error(err))
		c.cfg.Metrics.UnattributableFrame()
		c.closeWith(err)
	}
}

// Unbind implements transport.Handler.
func (c *Conn) Unbind(err error) {
	c.mu.Lock()
	prev := c.state
	c.state = stateClosed
	c.mu.Unlock()

	switch prev {
	case stateConnecting:
		cerr := &ConnectError{Addr: c.addr, Err: err}
		c.cfg.Metrics.ConnectionFailed()
		c.logger.Warn("connection failed", zap.Error(err))
		c.ready.Fail(cerr)
		c.finish(cerr)

	case stateEstablished:
		reason := closeReason(err)
		if errors.Is(err, io.EOF) {
			reason = ErrConnectionClosed
		}
		n := c.calls.FailAll(reason)
		c.cfg.Metrics.ConnectionClosed()
		c.logger.Info("connection lost", zap.Int("failed_calls", n), zap.Error(err))
		c.finish(reason)

	default:
		// closed by us; the reactor is only catching up
	}
}

// finish runs once, on the transition to closed.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.cancel()
	close(c.done)
}

func closeReason(reason error) error {
	if reason == nil {
		return ErrConnectionClosed
	}
	if errors.Is(reason, ErrConnectionClosed) {
		return reason
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, reason)
}
