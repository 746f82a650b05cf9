// Package protocol implements the outer framing used on an async-rpc connection.
//
// TCP is a byte stream, so every message is wrapped in a frame: a 4-byte
// big-endian length prefix followed by exactly that many payload bytes.
// Frames are sent back to back with no padding. A zero-length payload is legal.
//
// Frame format:
//
//	0         4
//	┌─────────┬──────────────────────┐
//	│ length  │   payload ...        │
//	│ uint32  │   length bytes       │
//	└─────────┴──────────────────────┘
//
// The blocking helpers (Encode, Decode) are used where a goroutine owns the
// stream. A Reassembler is used where bytes arrive in arbitrary chunks and
// must be cut into frames without blocking.
package protocol

import (
	"encoding/binary"
	"io"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// Encode writes a complete frame (length prefix + payload) to w.
// Prefix and payload go out in a single Write call, so a caller holding a
// write lock never leaves half a frame on the wire between two writes.
func Encode(w io.Writer, payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// Decode reads exactly one frame from r and returns its payload.
// io.ReadFull guarantees the prefix and the payload are read completely.
func Decode(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
