package soupbintcp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the length prefix plus the type tag.
	HeaderSize = 3
	// MaxFrameSize is the largest frame a 16-bit length prefix can describe.
	MaxFrameSize = 2 + 0xffff
)

// Envelope is one frame held in a buffer it owns exclusively:
// a 2-byte big-endian length prefix, the type tag, the fixed fields of
// the message kind and, for variable kinds, a trailing payload.
//
// The length prefix always equals len(buffer)-2.
type Envelope struct {
	buf   []byte
	fixed int // size of prefix + tag + fixed fields
}

// NewEnvelope allocates a zeroed frame of fixedSize bytes carrying tag.
func NewEnvelope(tag byte, fixedSize int) Envelope {
	if fixedSize < HeaderSize {
		fixedSize = HeaderSize
	}
	buf := make([]byte, fixedSize)
	binary.BigEndian.PutUint16(buf, uint16(fixedSize-2))
	buf[2] = tag
	return Envelope{buf: buf, fixed: fixedSize}
}

// FrameLength returns the on-wire size of the frame described by the
// length prefix at the start of header. The claimed size is validated
// against maxFrameSize before anything is allocated from it.
func FrameLength(header []byte, maxFrameSize int) (int, error) {
	if maxFrameSize <= 0 || maxFrameSize > MaxFrameSize {
		maxFrameSize = MaxFrameSize
	}
	if len(header) < 2 {
		return 0, errors.Wrapf(ErrFraming, "short length prefix: %d bytes", len(header))
	}

	l := int(binary.BigEndian.Uint16(header))
	if l == 0 {
		return 0, errors.Wrap(ErrFraming, "frame has no type tag")
	}
	if l+2 > maxFrameSize {
		return 0, errors.Wrapf(ErrFraming, "frame of %d bytes exceeds limit %d", l+2, maxFrameSize)
	}
	return l + 2, nil
}

// ParseEnvelope copies the frame at the start of wire into a new Envelope.
// Bytes following the frame are ignored.
func ParseEnvelope(wire []byte, maxFrameSize int) (Envelope, error) {
	n, err := FrameLength(wire, maxFrameSize)
	if err != nil {
		return Envelope{}, err
	}
	if len(wire) < n {
		return Envelope{}, errors.Wrapf(ErrFraming, "truncated frame: have %d of %d bytes", len(wire), n)
	}

	buf := make([]byte, n)
	copy(buf, wire)
	return Envelope{buf: buf, fixed: HeaderSize}, nil
}

// parseKind parses a frame of a specific message kind. Fixed kinds must
// match their declared size exactly; variable kinds must be at least that long.
func parseKind(wire []byte, tag byte, fixedSize int, variable bool) (Envelope, error) {
	e, err := ParseEnvelope(wire, MaxFrameSize)
	if err != nil {
		return Envelope{}, err
	}
	if e.Tag() != tag {
		return Envelope{}, errors.Wrapf(ErrFraming, "tag %q, want %q", e.Tag(), tag)
	}
	if variable && len(e.buf) < fixedSize || !variable && len(e.buf) != fixedSize {
		return Envelope{}, errors.Wrapf(ErrFraming, "%q frame of %d bytes, want %d", tag, len(e.buf), fixedSize)
	}
	e.fixed = fixedSize
	return e, nil
}

// Tag returns the message type tag.
func (e Envelope) Tag() byte {
	if len(e.buf) < HeaderSize {
		return 0
	}
	return e.buf[2]
}

// Length returns the total frame size, length prefix included.
func (e Envelope) Length() int {
	return len(e.buf)
}

// Bytes returns the frame as it appears on the wire.
func (e Envelope) Bytes() []byte {
	return e.buf
}

// Payload returns the bytes after the fixed fields.
func (e Envelope) Payload() []byte {
	if len(e.buf) <= e.fixed {
		return nil
	}
	return e.buf[e.fixed:]
}

// Clone returns a copy that does not share the buffer.
func (e Envelope) Clone() Envelope {
	buf := make([]byte, len(e.buf))
	copy(buf, e.buf)
	return Envelope{buf: buf, fixed: e.fixed}
}

// appendPayload grows the frame by exactly len(p) bytes into a fresh
// buffer and rewrites the length prefix from the new total.
func (e *Envelope) appendPayload(p []byte) error {
	if len(e.buf) < HeaderSize {
		return errors.Wrap(ErrFraming, "envelope has no header")
	}

	n := len(e.buf) + len(p)
	if n > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}

	buf := make([]byte, n)
	copy(buf, e.buf)
	copy(buf[len(e.buf):], p)
	binary.BigEndian.PutUint16(buf, uint16(n-2))
	e.buf = buf
	return nil
}

// init gives a zero-value envelope its header so it can be appended to.
func (e *Envelope) init(tag byte, fixedSize int) {
	if len(e.buf) == 0 {
		*e = NewEnvelope(tag, fixedSize)
	}
}

// Int reads a binary integer field.
func (e Envelope) Int(f Field) (uint64, error) {
	return ReadInt(e.buf, f)
}

// SetInt writes a binary integer field.
func (e *Envelope) SetInt(f Field, v uint64) error {
	return WriteInt(e.buf, f, v)
}

// Text reads a text or numeric-text field.
func (e Envelope) Text(f Field) string {
	s, _ := ReadText(e.buf, f)
	return s
}

// SetText writes a text or numeric-text field.
func (e *Envelope) SetText(f Field, s string) error {
	return WriteText(e.buf, f, s)
}
