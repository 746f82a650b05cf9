// Package rpctest runs an async-rpc peer for tests: a server that answers
// CALL frames by reflection over a Go receiver.
//
//	Accept ──→ handleConn (one reader per stream)
//	             └─ per frame: go handleRequest ──→ decode ──→ call ──→ REPLY / EXCEPTION
//
// Requests on one stream are handled concurrently, so responses come back in
// completion order rather than request order.
package rpctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"async-rpc/codec"
	"async-rpc/message"
	"async-rpc/protocol"
	"async-rpc/registry"
	"async-rpc/transport"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server answers calls for one registered service.
type Server struct {
	// ChunkSize, when positive, splits every response into writes of at most
	// that many bytes to exercise reassembly on the client.
	ChunkSize int

	codec  codec.Codec
	logger *zap.Logger
	svc    *service

	listener net.Listener
	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	mu        sync.Mutex
	streams   map[io.Closer]struct{}
	announced []announcement
}

type announcement struct {
	reg     registry.Registry
	service string
	addr    string
}

// NewServer returns a server using c for messages. logger may be nil.
func NewServer(c codec.Codec, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		codec:   c,
		logger:  logger.Named("rpctest"),
		streams: make(map[io.Closer]struct{}),
	}
}

// Register exposes rcvr's methods. Methods named in oneway never answer.
func (s *Server) Register(rcvr any, oneway ...string) error {
	svc, err := newService(rcvr, oneway)
	if err != nil {
		return err
	}
	s.svc = svc
	return nil
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Start listens on a loopback port and serves in the background. It returns
// the address to dial.
func (s *Server) Start() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	go s.Serve(l)
	return l.Addr().String(), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketHandler serves the same protocol over WebSocket binary messages.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.handleConn(transport.NewWebSocketStream(conn))
	})
}

// Announce registers the service in reg under addr. Shutdown deregisters it.
func (s *Server) Announce(ctx context.Context, reg registry.Registry, instance registry.ServiceInstance) error {
	if err := reg.Register(ctx, s.svc.name, instance, 10); err != nil {
		return err
	}
	s.mu.Lock()
	s.announced = append(s.announced, announcement{reg: reg, service: s.svc.name, addr: instance.Addr})
	s.mu.Unlock()
	return nil
}

// Shutdown deregisters the service, stops accepting, waits for in-flight
// requests and then closes every open stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	announced := s.announced
	s.announced = nil
	s.mu.Unlock()

	var err error
	for _, a := range announced {
		err = multierr.Append(err, a.reg.Deregister(ctx, a.service, a.addr))
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		err = multierr.Append(err, l.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("rpctest: waiting for in-flight requests: %w", ctx.Err()))
	}

	s.CloseStreams()
	return err
}

// CloseStreams drops every open stream, as a crashing server would.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[io.Closer]struct{})
	s.mu.Unlock()

	for c := range streams {
		c.Close()
	}
}

func (s *Server) handleConn(rwc io.ReadWriteCloser) {
	s.mu.Lock()
	s.streams[rwc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.streams, rwc)
		s.mu.Unlock()
		rwc.Close()
	}()

	writeMu := &sync.Mutex{}
	for {
		frame, err := protocol.Decode(rwc)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("stream closed", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleRequest(frame, rwc, writeMu)
	}
}

func (s *Server) handleRequest(frame []byte, w io.Writer, writeMu *sync.Mutex) {
	defer s.wg.Done()

	var req message.Message
	if err := s.codec.Decode(frame, &req); err != nil {
		s.logger.Warn("dropping undecodable request", zap.Error(err))
		return
	}

	resp := s.dispatch(&req)
	if resp == nil {
		return
	}

	out, err := s.codec.Encode(resp)
	if err != nil {
		s.logger.Error("encoding response failed", zap.String("method", req.Name), zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := s.write(w, out); err != nil {
		s.logger.Debug("writing response failed", zap.String("method", req.Name), zap.Error(err))
	}
}

// write frames out, optionally across several writes.
func (s *Server) write(w io.Writer, payload []byte) error {
	if s.ChunkSize <= 0 {
		return protocol.Encode(w, payload)
	}
	var buf bytesWriter
	if err := protocol.Encode(&buf, payload); err != nil {
		return err
	}
	for data := []byte(buf); len(data) > 0; {
		n := min(s.ChunkSize, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

type bytesWriter []byte

func (b *bytesWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// dispatch runs the request and builds the response, nil for oneway calls.
func (s *Server) dispatch(req *message.Message) *message.Message {
	if req.Kind != message.KindCall && req.Kind != message.KindOneway {
		return exception(req, message.ExceptionInvalidMessageType, "expected a call, got "+req.Kind.String())
	}

	var m *methodType
	if s.svc != nil {
		m = s.svc.method[req.Name]
	}
	if m == nil {
		return exception(req, message.ExceptionUnknownMethod, "unknown method "+req.Name)
	}

	argv := reflect.New(m.ArgType)
	if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
		if m.oneway {
			return nil
		}
		return exception(req, message.ExceptionProtocolError, err.Error())
	}
	replyv := reflect.New(m.ReplyType)

	callErr := s.svc.call(m, argv, replyv)
	if m.oneway || req.Kind == message.KindOneway {
		return nil
	}

	var result message.Result
	var failure Failure
	switch {
	case errors.As(callErr, &failure):
		data, err := json.Marshal(failure)
		if err != nil {
			return exception(req, message.ExceptionInternalError, err.Error())
		}
		result.Failure = &message.Failure{Name: failure.FailureName(), Message: failure.Error(), Data: data}
	case callErr != nil:
		return exception(req, message.ExceptionInternalError, callErr.Error())
	case m.ReplyType != voidType:
		data, err := json.Marshal(replyv.Interface())
		if err != nil {
			return exception(req, message.ExceptionInternalError, err.Error())
		}
		result.Success = data
	}

	body, err := json.Marshal(&result)
	if err != nil {
		return exception(req, message.ExceptionInternalError, err.Error())
	}
	return &message.Message{Name: req.Name, Kind: message.KindReply, SeqID: req.SeqID, Payload: body}
}

func exception(req *message.Message, typ message.ExceptionType, msg string) *message.Message {
	body, _ := json.Marshal(&message.ApplicationException{Type: typ, Message: msg})
	return &message.Message{Name: req.Name, Kind: message.KindException, SeqID: req.SeqID, Payload: body}
}

// Dialer returns a TCP dialer for addr.
func Dialer(addr string) transport.Dialer {
	return &transport.TCPDialer{Address: addr, Timeout: time.Second, NoDelay: true}
}
