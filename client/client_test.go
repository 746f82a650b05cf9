package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"async-rpc/codec"
	"async-rpc/future"
	"async-rpc/message"
	"async-rpc/metrics"
	"async-rpc/middleware"
	"async-rpc/protocol"
	"async-rpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testService = NewService("Calculator",
	Method{Name: "ping", Result: VoidResult()},
	Method{Name: "add", Result: JSONResult[int32]()},
	Method{Name: "calculate", Result: JSONResult[int32]()},
	Method{Name: "zip", Oneway: true},
)

// memStream records what the client writes. Nothing is ever read from it:
// tests feed responses through the connection's handler methods.
type memStream struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   bool
}

func (s *memStream) Read(p []byte) (int, error) { return 0, io.EOF }

func (s *memStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *memStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// requests decodes every frame written so far.
func (s *memStream) requests(t *testing.T) []message.Message {
	t.Helper()
	s.mu.Lock()
	r := bytes.NewReader(s.buf.Bytes())
	s.mu.Unlock()

	var msgs []message.Message
	for r.Len() > 0 {
		frame, err := protocol.Decode(r)
		require.NoError(t, err)
		var msg message.Message
		require.NoError(t, (&codec.BinaryCodec{}).Decode(frame, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func establish(t *testing.T, cfg Config) (*Conn, *Client, *memStream) {
	t.Helper()
	conn := newConn("mem://test", testService, cfg)
	stream := &memStream{}
	conn.ConnectionCompleted(transport.NewTransport(stream))

	cl, err := conn.Ready().Value()
	require.NoError(t, err)
	return conn, cl, stream
}

// frame builds a complete length-prefixed response.
func frame(t *testing.T, name string, kind message.Kind, seqID int32, body any) []byte {
	t.Helper()
	payload, ok := body.([]byte)
	if !ok {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	data, err := (&codec.BinaryCodec{}).Encode(&message.Message{Name: name, Kind: kind, SeqID: seqID, Payload: payload})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, protocol.Encode(&buf, data))
	return buf.Bytes()
}

func reply(t *testing.T, name string, seqID int32, success any) []byte {
	t.Helper()
	result := message.Result{}
	if success != nil {
		data, err := json.Marshal(success)
		require.NoError(t, err)
		result.Success = data
	}
	return frame(t, name, message.KindReply, seqID, &result)
}

func TestPingReplySplitAcrossChunks(t *testing.T) {
	conn, cl, stream := establish(t, Config{})

	f := cl.Call(context.Background(), "ping", nil)
	assert.Equal(t, future.Pending, f.State())

	reqs := stream.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, "ping", reqs[0].Name)
	assert.Equal(t, message.KindCall, reqs[0].Kind)
	assert.Equal(t, int32(0), reqs[0].SeqID)
	assert.JSONEq(t, "null", string(reqs[0].Payload))

	data := reply(t, "ping", 0, nil)
	conn.ReceiveData(data[:5])
	assert.Equal(t, future.Pending, f.State())

	conn.ReceiveData(data[5:])
	v, err := f.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 0, cl.calls.Len())
}

func TestResponsesOutOfOrder(t *testing.T) {
	conn, cl, _ := establish(t, Config{})
	ctx := context.Background()

	futures := []*future.Future[any]{
		cl.Call(ctx, "add", []int32{1, 1}),
		cl.Call(ctx, "add", []int32{1, 4}),
		cl.Call(ctx, "add", []int32{2, 2}),
	}

	// all three responses in one chunk, last request first
	var chunk []byte
	chunk = append(chunk, reply(t, "add", 2, 4)...)
	chunk = append(chunk, reply(t, "add", 0, 2)...)
	chunk = append(chunk, reply(t, "add", 1, 5)...)
	conn.ReceiveData(chunk)

	for i, want := range []int32{2, 5, 4} {
		v, err := futures[i].Value()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestOnewayResolvesOnWrite(t *testing.T) {
	_, cl, stream := establish(t, Config{})

	f := cl.Call(context.Background(), "zip", nil)
	assert.Equal(t, future.Succeeded, f.State())
	assert.Equal(t, 0, cl.calls.Len())

	reqs := stream.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, "zip", reqs[0].Name)
	assert.Equal(t, message.KindCall, reqs[0].Kind)
}

func TestUnknownResponseIsDiscarded(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	conn, cl, _ := establish(t, Config{Logger: zap.New(core)})

	f := cl.Call(context.Background(), "ping", nil)
	conn.ReceiveData(reply(t, "ping", 42, nil))

	assert.Equal(t, future.Pending, f.State())
	assert.Equal(t, 1, cl.calls.Len())
	assert.Equal(t, 1, logs.FilterMessage("discarding response for unknown call").Len())

	// a second reply for an id already answered is discarded as well
	conn.ReceiveData(reply(t, "ping", 0, nil))
	conn.ReceiveData(reply(t, "ping", 0, nil))
	assert.Equal(t, future.Succeeded, f.State())
	assert.Equal(t, 2, logs.FilterMessage("discarding response for unknown call").Len())
}

func TestCorrelationIDsUnique(t *testing.T) {
	_, cl, stream := establish(t, Config{})

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cl.Call(context.Background(), "ping", nil)
		}()
	}
	wg.Wait()

	seen := make(map[int32]bool, n)
	for _, req := range stream.requests(t) {
		assert.False(t, seen[req.SeqID], "duplicate seqid %d", req.SeqID)
		seen[req.SeqID] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, cl.calls.Len())
}

func TestUnknownMethodCall(t *testing.T) {
	_, cl, stream := establish(t, Config{})

	_, err := cl.Call(context.Background(), "divide", nil).Value()
	var unknown *UnknownMethodError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "divide", unknown.Method)
	assert.Empty(t, stream.requests(t))
}

func TestEncodeError(t *testing.T) {
	conn, cl, stream := establish(t, Config{})

	_, err := cl.Call(context.Background(), "add", make(chan int)).Value()
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "add", encErr.Method)

	assert.Empty(t, stream.requests(t))
	assert.Equal(t, 0, cl.calls.Len())
	assert.False(t, conn.closed())
}

func TestWriteErrorRollsBackAndCloses(t *testing.T) {
	conn, cl, stream := establish(t, Config{})
	pending := cl.Call(context.Background(), "ping", nil)

	stream.mu.Lock()
	stream.writeErr = errors.New("broken pipe")
	stream.mu.Unlock()

	_, err := cl.Call(context.Background(), "add", []int32{1, 2}).Value()
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.EqualError(t, writeErr.Err, "broken pipe")

	// the earlier call goes down with the connection
	_, err = pending.Value()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 0, cl.calls.Len())
	assert.True(t, conn.closed())
	assert.True(t, stream.isClosed())
}

func TestWriteErrorOneway(t *testing.T) {
	_, cl, stream := establish(t, Config{})
	stream.writeErr = errors.New("broken pipe")

	_, err := cl.Call(context.Background(), "zip", nil).Value()
	var writeErr *WriteError
	assert.ErrorAs(t, err, &writeErr)
}

func TestRemoteException(t *testing.T) {
	conn, cl, _ := establish(t, Config{})
	f := cl.Call(context.Background(), "add", []int32{1, 2})

	conn.ReceiveData(frame(t, "add", message.KindException, 0, &message.ApplicationException{
		Type:    message.ExceptionInternalError,
		Message: "boom",
	}))

	_, err := f.Value()
	var exc *message.ApplicationException
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, message.ExceptionInternalError, exc.Type)
	assert.Equal(t, "boom", exc.Message)
	assert.False(t, conn.closed())
}

func TestApplicationFailure(t *testing.T) {
	conn, cl, _ := establish(t, Config{})
	f := cl.Call(context.Background(), "calculate", map[string]int{"num1": 1, "num2": 0})

	conn.ReceiveData(frame(t, "calculate", message.KindReply, 0, &message.Result{
		Failure: &message.Failure{
			Name:    "InvalidOperation",
			Message: "Cannot divide by 0",
			Data:    json.RawMessage(`{"whatOp":4,"why":"Cannot divide by 0"}`),
		},
	}))

	_, err := f.Value()
	var failure *ApplicationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "calculate", failure.Method)
	assert.Equal(t, "InvalidOperation", failure.Name)

	var op struct {
		WhatOp int32  `json:"whatOp"`
		Why    string `json:"why"`
	}
	require.NoError(t, failure.Decode(&op))
	assert.Equal(t, int32(4), op.WhatOp)
}

func TestMalformedReplyBodyFailsOnlyThatCall(t *testing.T) {
	conn, cl, _ := establish(t, Config{})
	ctx := context.Background()
	bad := cl.Call(ctx, "add", []int32{1, 2})
	good := cl.Call(ctx, "add", []int32{2, 2})

	conn.ReceiveData(frame(t, "add", message.KindReply, 0, []byte("not json")))
	conn.ReceiveData(frame(t, "add", message.KindReply, 1, []byte(`{}`)))

	_, err := bad.Value()
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, int32(0), decErr.SeqID)

	// a reply with neither result nor failure
	_, err = good.Value()
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, int32(1), decErr.SeqID)

	assert.False(t, conn.closed())
}

func TestUnexpectedKind(t *testing.T) {
	conn, cl, _ := establish(t, Config{})
	f := cl.Call(context.Background(), "ping", nil)

	conn.ReceiveData(frame(t, "ping", message.KindCall, 0, []byte("null")))

	_, err := f.Value()
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestUndecodableFrameClosesConnection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	conn, cl, stream := establish(t, Config{Logger: zap.New(core)})
	f := cl.Call(context.Background(), "ping", nil)

	// a 2 byte payload cannot hold a message header
	conn.ReceiveData([]byte{0, 0, 0, 2, 0xde, 0xad})

	_, err := f.Value()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, int32(-1), decErr.SeqID)

	assert.True(t, stream.isClosed())
	assert.Equal(t, 1, logs.FilterMessage("closing connection on undecodable frame").Len())
}

func TestCallTimeout(t *testing.T) {
	conn, cl, _ := establish(t, Config{})

	f := cl.Call(context.Background(), "ping", nil, WithTimeout(20*time.Millisecond))
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not time out")
	}
	_, err := f.Value()
	assert.ErrorIs(t, err, transport.ErrTimeout)

	// the late response finds nothing
	conn.ReceiveData(reply(t, "ping", 0, nil))
	_, err = f.Value()
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestDefaultTimeoutAndContextDeadline(t *testing.T) {
	_, cl, _ := establish(t, Config{Timeout: 20 * time.Millisecond})

	f := cl.Call(context.Background(), "ping", nil)
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)

	// the context deadline takes precedence over the default
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	f = cl.Call(ctx, "ping", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, future.Pending, f.State())
}

func TestCallWithDoneContext(t *testing.T) {
	_, cl, stream := establish(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cl.Call(ctx, "ping", nil).Value()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stream.requests(t))
}

func TestCallWithExpiredDeadline(t *testing.T) {
	_, cl, stream := establish(t, Config{})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	for _, opts := range [][]CallOption{nil, {WithTimeout(time.Minute)}} {
		_, err := cl.Call(ctx, "ping", nil, opts...).Value()
		assert.ErrorIs(t, err, transport.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, metrics.OutcomeTimeout, outcome(err))
	}
	assert.Empty(t, stream.requests(t))
	assert.Equal(t, 0, cl.calls.Len())
}

func TestJSONReplyWithoutSeqIDClosesConnection(t *testing.T) {
	conn, cl, stream := establish(t, Config{CodecType: codec.CodecTypeJSON})
	ctx := context.Background()
	first := cl.Call(ctx, "ping", nil)
	second := cl.Call(ctx, "ping", nil)

	good, err := (&codec.JSONCodec{}).Encode(&message.Message{
		Name: "ping", Kind: message.KindReply, SeqID: 1, Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, protocol.Encode(&buf, good))
	require.NoError(t, protocol.Encode(&buf, []byte(`{"name":"ping","kind":2,"payload":"e30="}`)))
	conn.ReceiveData(buf.Bytes())

	v, err := second.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	// the reply with no id must not be taken for call 0
	_, err = first.Value()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, int32(-1), decErr.SeqID)

	assert.True(t, conn.closed())
	assert.True(t, stream.isClosed())
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	conn, cl, stream := establish(t, Config{MaxFrameSize: 64, Logger: zap.New(core)})
	f := cl.Call(context.Background(), "ping", nil)

	conn.ReceiveData([]byte{0x80, 0, 0, 1, 1, 2, 3})

	_, err := f.Value()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.True(t, stream.isClosed())
	assert.Equal(t, 1, logs.FilterMessage("closing connection on oversized frame").Len())

	// nothing more is read once closed
	conn.ReceiveData(reply(t, "ping", 0, nil))
	assert.Equal(t, 0, cl.calls.Len())
}

func TestMiddlewareSeesCalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	conn, cl, _ := establish(t, Config{
		Middlewares: []middleware.Middleware{middleware.LoggingMiddleware(zap.New(core))},
	})

	f := cl.Call(context.Background(), "add", []int32{1, 2})
	assert.Equal(t, 0, logs.Len())

	conn.ReceiveData(reply(t, "add", 0, 3))
	v, err := f.Value()
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	entries := logs.FilterMessage("rpc call completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "add", entries[0].ContextMap()["method"])
}
