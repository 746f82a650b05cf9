// Package transport owns the byte stream under an async-rpc connection and
// the table of calls waiting on it.
//
// A single reactor goroutine per connection dials the peer and then reads the
// stream, turning socket activity into three events delivered to a Handler:
//
//	Connect ──dial──┬── ok ──→ ConnectionCompleted(t) ──→ ReceiveData(chunk)... ──→ Unbind(err)
//	                └── err ─→ Unbind(err)
//
// Events are delivered one at a time, in order, from that goroutine only, so
// a Handler never sees two events concurrently. Writes may come from any
// goroutine; the Transport serializes them so frames never interleave.
package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"async-rpc/protocol"
)

// readBufferSize is how many bytes the reactor asks the stream for per read.
const readBufferSize = 4096

// Dialer opens the byte stream for a connection.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

func (f DialerFunc) String() string {
	return "func"
}

// Handler receives the events of one connection.
type Handler interface {
	// ConnectionCompleted is called once the stream is open, before any data.
	ConnectionCompleted(t *Transport)
	// ReceiveData is called with each chunk read from the stream. The chunk
	// is only valid for the duration of the call.
	ReceiveData(data []byte)
	// Unbind is called exactly once when the stream is gone or could not be
	// opened. err is the dial or read error (io.EOF on a clean close).
	Unbind(err error)
}

// Transport writes length-prefixed frames to an open stream.
type Transport struct {
	rwc     io.ReadWriteCloser
	sending sync.Mutex // one frame at a time, prefix and body together
	closed  atomic.Bool
}

// NewTransport wraps an already open stream.
func NewTransport(rwc io.ReadWriteCloser) *Transport {
	return &Transport{rwc: rwc}
}

// Write sends payload as one frame. The transport adds the length prefix.
func (t *Transport) Write(payload []byte) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	return protocol.Encode(t.rwc, payload)
}

// Close closes the stream. The reactor's pending read then fails and the
// Handler is unbound. Close is idempotent.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.rwc.Close()
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// Connect starts the reactor goroutine for a new connection and returns
// immediately. All outcomes are reported to h.
func Connect(ctx context.Context, d Dialer, h Handler) {
	go run(ctx, d, h)
}

// Serve drives h over an already open stream from the calling goroutine and
// returns after h has been unbound.
func Serve(rwc io.ReadWriteCloser, h Handler) {
	t := NewTransport(rwc)
	h.ConnectionCompleted(t)
	readLoop(t, h)
}

func run(ctx context.Context, d Dialer, h Handler) {
	rwc, err := d.Dial(ctx)
	if err != nil {
		h.Unbind(err)
		return
	}
	Serve(rwc, h)
}

// readLoop is the only reader of the stream: a byte stream must be consumed
// sequentially to keep frame boundaries intact.
func readLoop(t *Transport, h Handler) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.rwc.Read(buf)
		if n > 0 {
			h.ReceiveData(buf[:n])
		}
		if err != nil {
			t.Close()
			h.Unbind(err)
			return
		}
	}
}
