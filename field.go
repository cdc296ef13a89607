package soupbintcp

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// FieldKind is the wire representation of a field.
type FieldKind uint8

const (
	// FixedText is left-justified ASCII padded with spaces.
	FixedText FieldKind = iota
	// BinaryInt is a big-endian integer 1, 2, 4 or 8 bytes wide.
	BinaryInt
	// NumericText is a number written as ASCII digits.
	NumericText
)

// String returns a short name for the kind.
func (k FieldKind) String() string {
	switch k {
	case FixedText:
		return "text"
	case BinaryInt:
		return "int"
	case NumericText:
		return "numeric"
	default:
		return "unknown"
	}
}

// padByte fills the unused tail of a text field.
const padByte = ' '

// Field describes one fixed-position field within a frame.
// Offsets count from the first byte of the length prefix.
type Field struct {
	Name   string
	Offset int
	Length int
	Kind   FieldKind
}

// Common header fields shared by every message.
var (
	PacketLength = Field{Name: "packet_length", Offset: 0, Length: 2, Kind: BinaryInt}
	PacketType   = Field{Name: "packet_type", Offset: 2, Length: 1, Kind: FixedText}
)

func (f Field) bounds(buf []byte) ([]byte, error) {
	if f.Offset < 0 || f.Length <= 0 || f.Offset+f.Length > len(buf) {
		return nil, errors.Wrapf(ErrFieldOutOfRange, "%s at %d+%d, buffer %d", f.Name, f.Offset, f.Length, len(buf))
	}
	return buf[f.Offset : f.Offset+f.Length], nil
}

// ReadInt reads a big-endian integer field.
func ReadInt(buf []byte, f Field) (uint64, error) {
	b, err := f.bounds(buf)
	if err != nil {
		return 0, err
	}

	switch f.Length {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedFieldWidth, "%s is %d bytes", f.Name, f.Length)
	}
}

// WriteInt writes v as a big-endian integer of the field's width.
func WriteInt(buf []byte, f Field, v uint64) error {
	b, err := f.bounds(buf)
	if err != nil {
		return err
	}

	switch f.Length {
	case 1:
		if v > 0xff {
			return errors.Wrapf(ErrValueOverflow, "%s: %d", f.Name, v)
		}
		b[0] = byte(v)
	case 2:
		if v > 0xffff {
			return errors.Wrapf(ErrValueOverflow, "%s: %d", f.Name, v)
		}
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		if v > 0xffffffff {
			return errors.Wrapf(ErrValueOverflow, "%s: %d", f.Name, v)
		}
		binary.BigEndian.PutUint32(b, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(b, v)
	default:
		return errors.Wrapf(ErrUnsupportedFieldWidth, "%s is %d bytes", f.Name, f.Length)
	}
	return nil
}

// ReadText reads a text or numeric-text field with trailing spaces and NULs removed.
// Numeric text is returned as-is; parsing it is up to the caller.
func ReadText(buf []byte, f Field) (string, error) {
	b, err := f.bounds(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), " \x00"), nil
}

// WriteText writes s left-justified and space padded.
// Text longer than the field is rejected rather than truncated.
func WriteText(buf []byte, f Field, s string) error {
	b, err := f.bounds(buf)
	if err != nil {
		return err
	}
	if len(s) > len(b) {
		return errors.Wrapf(ErrTextTooLong, "%s: %d > %d", f.Name, len(s), len(b))
	}

	n := copy(b, s)
	for i := n; i < len(b); i++ {
		b[i] = padByte
	}
	return nil
}
