package codec

import (
	"encoding/json"
	"errors"

	"async-rpc/message"
)

// JSONCodec encodes the whole message as one JSON object. The body is carried
// base64-encoded in the "payload" field.
type JSONCodec struct{}

// jsonHeader tells a missing header field apart from its zero value. A
// message without "seqid" must not be taken for the call with id 0.
type jsonHeader struct {
	Name    *string       `json:"name"`
	Kind    *message.Kind `json:"kind"`
	SeqID   *int32        `json:"seqid"`
	Payload []byte        `json:"payload"`
}

func (c *JSONCodec) Encode(msg *message.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("codec: nil message")
	}
	return json.Marshal(msg)
}

// Decode requires name, kind and seqid to be present. The payload may be
// absent or null.
func (c *JSONCodec) Decode(data []byte, msg *message.Message) error {
	if msg == nil {
		return errors.New("codec: nil message")
	}

	var h jsonHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	switch {
	case h.Name == nil:
		return errors.New("codec: message header has no name")
	case h.Kind == nil:
		return errors.New("codec: message header has no kind")
	case h.SeqID == nil:
		return errors.New("codec: message header has no seqid")
	}

	msg.Name = *h.Name
	msg.Kind = *h.Kind
	msg.SeqID = *h.SeqID
	msg.Payload = h.Payload
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
