package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"async-rpc/transport"
)

// ErrConnectionClosed is returned for calls on a closed connection and for
// calls still pending when the connection went away.
var ErrConnectionClosed = transport.ErrConnectionClosed

// EncodeError reports arguments that could not be serialized. Nothing was
// sent.
type EncodeError struct {
	Method string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("rpc: encode %s request: %v", e.Method, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// WriteError reports a request the transport refused to write.
type WriteError struct {
	Method string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("rpc: write %s request: %v", e.Method, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DecodeError reports a response frame that could not be decoded. SeqID is
// -1 when the header itself was unreadable, in which case no call can be
// blamed and the connection is closed.
type DecodeError struct {
	Method string
	SeqID  int32
	Err    error
}

func (e *DecodeError) Error() string {
	if e.SeqID < 0 {
		return fmt.Sprintf("rpc: undecodable frame: %v", e.Err)
	}
	return fmt.Sprintf("rpc: decode %s response (seqid %d): %v", e.Method, e.SeqID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ApplicationFailure is a failure declared by the service contract, such as
// a calculator's InvalidOperation. It is a well-formed answer, not a
// transport or protocol problem.
type ApplicationFailure struct {
	Method  string
	Name    string
	Message string
	Data    json.RawMessage
}

func (e *ApplicationFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rpc: %s failed with %s", e.Method, e.Name)
	}
	return fmt.Sprintf("rpc: %s failed with %s: %s", e.Method, e.Name, e.Message)
}

// Decode unmarshals the failure's own fields into v.
func (e *ApplicationFailure) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("rpc: failure carries no data")
	}
	return json.Unmarshal(e.Data, v)
}

// UnknownMethodError reports a method name that is not part of the service
// contract, either when calling or in a response.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("rpc: unknown method %q", e.Method)
}

// ConnectError reports a connection that failed before it was established.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("rpc: connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
