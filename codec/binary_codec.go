package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"async-rpc/message"
)

// Binary header layout, all integers big-endian:
//
//	┌──────────┬──────────┬──────┬─────────┬─────────────┐
//	│ name len │   name   │ kind │  seqid  │  body ...   │
//	│  uint32  │  n bytes │ u8   │  int32  │  remaining  │
//	└──────────┴──────────┴──────┴─────────┴─────────────┘
//
// This is the non-strict Thrift header: there is no version word in front of
// the name. A Thrift peer that reads strictly rejects it, so interop with such
// peers needs strict reads turned off on their side.
const (
	nameLenSize = 4
	kindSize    = 1
	seqIDSize   = 4
)

var errShortHeader = errors.New("codec: message header truncated")

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(msg *message.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("codec: nil message")
	}
	if len(msg.Name) > math.MaxInt32 {
		return nil, fmt.Errorf("codec: method name too long (%d bytes)", len(msg.Name))
	}

	total := nameLenSize + len(msg.Name) + kindSize + seqIDSize + len(msg.Payload)
	buf := make([]byte, total)

	offset := 0
	// Name length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Name)))
	offset += nameLenSize

	// Name -- n bytes
	copy(buf[offset:], msg.Name)
	offset += len(msg.Name)

	// Kind -- 1 byte
	buf[offset] = byte(msg.Kind)
	offset += kindSize

	// Sequence id -- 4 bytes, two's complement
	binary.BigEndian.PutUint32(buf[offset:], uint32(msg.SeqID))
	offset += seqIDSize

	// Body -- rest of the frame
	copy(buf[offset:], msg.Payload)
	return buf, nil
}

// Decode parses the header of data into msg. On error msg may be partly
// filled; the sequence id is only meaningful when Decode returns nil.
func (c *BinaryCodec) Decode(data []byte, msg *message.Message) error {
	if msg == nil {
		return errors.New("codec: nil message")
	}

	offset := 0
	if len(data) < nameLenSize {
		return errShortHeader
	}
	nameLen := binary.BigEndian.Uint32(data[offset:])
	offset += nameLenSize

	if uint64(nameLen) > uint64(len(data)-offset) {
		return fmt.Errorf("codec: method name length %d exceeds frame", nameLen)
	}
	msg.Name = string(data[offset : offset+int(nameLen)])
	offset += int(nameLen)

	if len(data)-offset < kindSize+seqIDSize {
		return errShortHeader
	}
	msg.Kind = message.Kind(data[offset])
	offset += kindSize

	msg.SeqID = int32(binary.BigEndian.Uint32(data[offset:]))
	offset += seqIDSize

	msg.Payload = make([]byte, len(data)-offset)
	copy(msg.Payload, data[offset:])
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
