// Package codec turns a message.Message into frame payload bytes and back.
//
// The codec only deals with the header (name, kind, sequence id) and treats
// the body as opaque bytes. Two codecs are provided: BinaryCodec, the compact
// default wire format, and JSONCodec, which is easier to read when debugging.
package codec

import "async-rpc/message"

type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

// Codec encodes and decodes the messages carried in frames.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(msg *message.Message) ([]byte, error)
	Decode(data []byte, msg *message.Message) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. Unknown types fall back to binary.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
