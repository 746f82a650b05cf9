// Package message defines the RPC message exchanged inside one frame.
//
// Every frame payload carries a header (method name, message kind, sequence
// id) followed by a body. The codec layer turns a Message into frame payload
// bytes and back; the body itself is opaque to the codec.
//
//   - CALL / ONEWAY: Payload holds the encoded arguments.
//   - REPLY:         Payload holds an encoded Result.
//   - EXCEPTION:     Payload holds an encoded ApplicationException.
package message

import (
	"encoding/json"
	"fmt"
)

// Kind is the message type carried in every header.
type Kind uint8

const (
	KindCall      Kind = 1
	KindReply     Kind = 2
	KindException Kind = 3
	KindOneway    Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindReply:
		return "REPLY"
	case KindException:
		return "EXCEPTION"
	case KindOneway:
		return "ONEWAY"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCall && k <= KindOneway
}

// Message is one decoded frame.
type Message struct {
	Name    string `json:"name"`    // method name, e.g. "add"
	Kind    Kind   `json:"kind"`    // CALL, REPLY, EXCEPTION or ONEWAY
	SeqID   int32  `json:"seqid"`   // correlation id, echoed by the server
	Payload []byte `json:"payload"` // encoded body
}

// Result is the body of a REPLY. Exactly one of Success or Failure is set;
// a void method replies with neither.
type Result struct {
	Success json.RawMessage `json:"success,omitempty"`
	Failure *Failure        `json:"failure,omitempty"`
}

// Failure is a declared exception of the service contract, e.g. a calculator's
// InvalidOperation. Data holds the exception's own fields.
type Failure struct {
	Name    string          `json:"name"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
