package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"async-rpc/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Handler that records every event it sees.
type recorder struct {
	mu        sync.Mutex
	transport *Transport
	data      bytes.Buffer
	events    []string
	unbound   chan error
	connected chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		unbound:   make(chan error, 1),
		connected: make(chan struct{}),
	}
}

func (r *recorder) ConnectionCompleted(t *Transport) {
	r.mu.Lock()
	r.transport = t
	r.events = append(r.events, "connected")
	r.mu.Unlock()
	close(r.connected)
}

func (r *recorder) ReceiveData(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Write(data)
	if len(r.events) == 0 || r.events[len(r.events)-1] != "data" {
		r.events = append(r.events, "data")
	}
}

func (r *recorder) Unbind(err error) {
	r.mu.Lock()
	r.events = append(r.events, "unbind")
	r.mu.Unlock()
	r.unbound <- err
}

func (r *recorder) received() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data.Bytes()...)
}

func waitUnbind(t *testing.T, r *recorder) error {
	t.Helper()
	select {
	case err := <-r.unbound:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not unbound")
		return nil
	}
}

func TestConnectDeliversEventsInOrder(t *testing.T) {
	client, server := net.Pipe()
	rec := newRecorder()

	Connect(context.Background(), DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		return client, nil
	}), rec)
	<-rec.connected

	_, err := server.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = server.Write([]byte("def"))
	require.NoError(t, err)
	server.Close()

	assert.ErrorIs(t, waitUnbind(t, rec), io.EOF)
	assert.Equal(t, []byte("abcdef"), rec.received())
	assert.Equal(t, []string{"connected", "data", "unbind"}, rec.events)
	assert.True(t, rec.transport.Closed())
}

func TestConnectDialFailure(t *testing.T) {
	refused := errors.New("connection refused")
	rec := newRecorder()

	Connect(context.Background(), DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		return nil, refused
	}), rec)

	assert.ErrorIs(t, waitUnbind(t, rec), refused)
	assert.Equal(t, []string{"unbind"}, rec.events)
}

func TestTransportWriteAddsPrefix(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := NewTransport(client)

	go func() {
		tr.Write([]byte("ping"))
	}()

	payload, err := protocol.Decode(server)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), payload)
}

func TestTransportConcurrentWritesDoNotInterleave(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := NewTransport(client)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.Write(bytes.Repeat([]byte{byte(n)}, 100+n))
		}(i)
	}

	for i := 0; i < writers; i++ {
		payload, err := protocol.Decode(server)
		require.NoError(t, err)
		require.NotEmpty(t, payload)
		n := int(payload[0])
		assert.Len(t, payload, 100+n)
		assert.Equal(t, bytes.Repeat([]byte{byte(n)}, 100+n), payload)
	}
	wg.Wait()
}

func TestTransportCloseUnbindsReader(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newRecorder()

	go Serve(client, rec)
	<-rec.connected

	require.NoError(t, rec.transport.Close())
	require.NoError(t, rec.transport.Close())
	waitUnbind(t, rec)

	assert.ErrorIs(t, rec.transport.Write([]byte("x")), ErrConnectionClosed)
}
