package tcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
)

// DefaultMaxFrameSize is the largest frame accepted when no limit is given.
const DefaultMaxFrameSize = 8 << 20

// lengthPrefix is the size of the big-endian total-length field.
const lengthPrefix = 4

var (
	// ErrFrameTooLarge is returned when a peer declares a frame above the limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrFrameTooSmall is returned when a declared length cannot hold its own prefix.
	ErrFrameTooSmall = errors.New("frame shorter than its length prefix")
)

// Assembler re-segments a byte stream into length-prefixed frames. The first
// four bytes of each frame hold its total length, prefix included.
// Not safe for concurrent use.
type Assembler struct {
	buf bytes.Buffer
	max int
	err error
}

// NewAssembler creates an Assembler rejecting frames larger than maxFrameSize.
// A non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewAssembler(maxFrameSize int) *Assembler {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Assembler{max: maxFrameSize}
}

// Feed appends chunk to the stream and returns the complete frames now
// available. The chunk is buffered immediately; frames left unconsumed when
// iteration stops early are yielded again by the next Feed. After a framing
// violation every iteration yields the same error.
func (a *Assembler) Feed(chunk []byte) iter.Seq2[[]byte, error] {
	if a.err == nil {
		a.buf.Write(chunk)
	}
	return func(yield func([]byte, error) bool) {
		for {
			frame, err := a.next()
			if err != nil {
				yield(nil, err)
				return
			}
			if frame == nil {
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (a *Assembler) Buffered() int {
	return a.buf.Len()
}

func (a *Assembler) next() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	pending := a.buf.Bytes()
	if len(pending) < lengthPrefix {
		return nil, nil
	}

	size := binary.BigEndian.Uint32(pending[:lengthPrefix])
	switch {
	case size < lengthPrefix:
		a.fail(fmt.Errorf("%w: declared %d bytes", ErrFrameTooSmall, size))
		return nil, a.err
	case uint64(size) > uint64(a.max):
		a.fail(fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, size, a.max))
		return nil, a.err
	case int(size) > len(pending):
		return nil, nil
	}

	// Next advances the read cursor; the clone outlives later writes.
	return bytes.Clone(a.buf.Next(int(size))), nil
}

func (a *Assembler) fail(err error) {
	a.err = err
	a.buf.Reset()
}
