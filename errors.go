package soupbintcp

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrFraming is returned for a malformed, truncated or implausible frame.
	ErrFraming = errors.New("soupbintcp: framing error")
	// ErrFrameTooLarge is returned when a frame would exceed the maximum frame size.
	ErrFrameTooLarge = errors.New("soupbintcp: frame too large")
	// ErrUnsupportedFieldWidth is returned when a binary integer field is not 1, 2, 4 or 8 bytes wide.
	ErrUnsupportedFieldWidth = errors.New("soupbintcp: unsupported field width")
	// ErrValueOverflow is returned when an integer does not fit in its field.
	ErrValueOverflow = errors.New("soupbintcp: value overflows field")
	// ErrTextTooLong is returned instead of truncating text that does not fit in its field.
	ErrTextTooLong = errors.New("soupbintcp: text too long for field")
	// ErrFieldOutOfRange is returned when a field lies outside the buffer.
	ErrFieldOutOfRange = errors.New("soupbintcp: field out of range")
	// ErrUnknownMessageTag is returned for a frame whose tag is not in the catalog.
	// It is not fatal to a session.
	ErrUnknownMessageTag = errors.New("soupbintcp: unknown message tag")
)

// Session errors.
var (
	// ErrConnectionClosed is returned when operating on a closed session.
	ErrConnectionClosed = errors.New("soupbintcp: connection closed")
	// ErrLoginRejected ends a client session whose login was rejected.
	ErrLoginRejected = errors.New("soupbintcp: login rejected")
	// ErrSessionEnded ends a session closed by the protocol (logout, end of session, reject).
	ErrSessionEnded = errors.New("soupbintcp: session ended")
	// ErrInvalidHandler is returned when no handler is provided.
	ErrInvalidHandler = errors.New("soupbintcp: invalid handler")
	// ErrSequenceInUse is returned when a sequence number was already recorded
	// or lies below the outbound counter.
	ErrSequenceInUse = errors.New("soupbintcp: sequence number already used")
	// ErrInvalidCredentials is returned when client credentials do not fit the login request.
	ErrInvalidCredentials = errors.New("soupbintcp: invalid credentials")
)

// TransportError reports a read or write failure on the underlying stream.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("soupbintcp: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying stream error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
