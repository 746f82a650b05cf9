package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFrameTooLarge is reported by Reassembler.Err when a length prefix
// exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Reassembler cuts an incoming byte stream into frames.
//
// Bytes are fed in whatever chunks the socket delivers them: a chunk may hold
// half a length prefix, several complete frames, or the tail of one frame and
// the head of the next. The Reassembler keeps the leftover bytes between calls
// and drains every complete frame as soon as it is available.
//
// A Reassembler is not safe for concurrent use; it belongs to the single
// goroutine that reads the connection.
type Reassembler struct {
	buf          []byte
	maxFrameSize uint32 // 0 accepts any uint32 length
	frameSize    uint32 // length of the current frame, valid while awaitingBody
	awaitingBody bool   // prefix consumed, body not yet complete
	err          error
}

// NewReassembler returns an empty Reassembler that accepts any frame length
// the prefix can express.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// NewLimitedReassembler returns an empty Reassembler that stops at the first
// length prefix above maxFrameSize. A maxFrameSize of 0 means no limit.
func NewLimitedReassembler(maxFrameSize uint32) *Reassembler {
	return &Reassembler{maxFrameSize: maxFrameSize}
}

// Feed appends chunk to the internal buffer and returns every frame that is
// now complete, in stream order. Not having enough bytes is the normal idle
// state, not an error: Feed then returns nil and waits for the next chunk.
//
// Once a prefix over the limit is seen, Feed returns the frames that
// preceded it, Err reports the failure and every later call returns nil.
//
// Returned frames are copies and stay valid after later calls to Feed.
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	if r.err != nil {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	if !r.awaitingBody && !r.readLength() {
		return nil
	}

	var frames [][]byte
	for r.awaitingBody && uint64(len(r.buf)) >= uint64(r.frameSize) {
		frames = append(frames, r.readFrame())
		r.readLength()
	}

	if len(r.buf) == 0 || r.err != nil {
		// Drop the backing array once it is drained so one large frame
		// does not pin its memory for the connection's lifetime.
		r.buf = nil
	}
	return frames
}

// Err returns the error that stopped the Reassembler, or nil.
func (r *Reassembler) Err() error {
	return r.err
}

// Buffered returns the number of bytes held that do not yet form a frame,
// not counting a length prefix that was already consumed.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// readLength consumes the next length prefix if 4 bytes are available.
func (r *Reassembler) readLength() bool {
	if len(r.buf) < HeaderSize {
		return false
	}
	size := binary.BigEndian.Uint32(r.buf[:HeaderSize])
	if r.maxFrameSize > 0 && size > r.maxFrameSize {
		r.err = fmt.Errorf("%w: length prefix %d, limit %d", ErrFrameTooLarge, size, r.maxFrameSize)
		return false
	}
	r.frameSize = size
	r.buf = r.buf[HeaderSize:]
	r.awaitingBody = true
	return true
}

// readFrame slices off the current frame. The caller has checked that the
// whole body is buffered, so frameSize fits in an int.
func (r *Reassembler) readFrame() []byte {
	n := int(r.frameSize)
	frame := make([]byte, n)
	copy(frame, r.buf[:n])
	r.buf = r.buf[n:]
	r.frameSize = 0
	r.awaitingBody = false
	return frame
}
