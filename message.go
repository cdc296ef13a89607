package soupbintcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Message is one frame of the SoupBinTCP catalog.
type Message interface {
	// Tag returns the message type tag.
	Tag() byte
	// Length returns the frame size including the length prefix.
	Length() int
	// Bytes returns the frame as sent on the wire.
	Bytes() []byte
}

// Message type tags.
const (
	TagDebug           byte = '+'
	TagLoginAccepted   byte = 'A'
	TagLoginRejected   byte = 'J'
	TagSequencedData   byte = 'S'
	TagServerHeartbeat byte = 'H'
	TagEndOfSession    byte = 'Z'
	TagLoginRequest    byte = 'L'
	TagUnsequencedData byte = 'U'
	TagClientHeartbeat byte = 'R'
	TagLogoutRequest   byte = 'O'
)

// Fixed frame sizes, length prefix included.
const (
	LoginRequestSize    = 49
	LoginAcceptedSize   = 33
	LoginRejectedSize   = 4
	SequencedDataSize   = HeaderSize
	UnsequencedDataSize = HeaderSize
	HeartbeatSize       = HeaderSize
	EndOfSessionSize    = HeaderSize
	LogoutRequestSize   = HeaderSize
	DebugSize           = HeaderSize
)

// Login request fields.
var (
	LoginUsername          = Field{Name: "username", Offset: 3, Length: 6, Kind: FixedText}
	LoginPassword          = Field{Name: "password", Offset: 9, Length: 10, Kind: FixedText}
	LoginRequestedSession  = Field{Name: "requested_session", Offset: 19, Length: 10, Kind: FixedText}
	LoginRequestedSequence = Field{Name: "requested_sequence", Offset: 29, Length: 20, Kind: NumericText}
)

// Login accepted fields.
var (
	AcceptedSession  = Field{Name: "session", Offset: 3, Length: 10, Kind: FixedText}
	AcceptedSequence = Field{Name: "sequence", Offset: 13, Length: 20, Kind: NumericText}
)

// RejectReasonCode is the single field of a login rejection.
var RejectReasonCode = Field{Name: "reject_reason_code", Offset: 3, Length: 1, Kind: FixedText}

// RejectReason explains a login rejection.
type RejectReason byte

const (
	// RejectNotAuthorized means the username or password was wrong.
	RejectNotAuthorized RejectReason = 'A'
	// RejectSessionUnavailable means the requested session does not exist.
	RejectSessionUnavailable RejectReason = 'S'
)

// String describes the reason for logs.
func (r RejectReason) String() string {
	switch r {
	case RejectNotAuthorized:
		return "not authorized"
	case RejectSessionUnavailable:
		return "session not available"
	default:
		return fmt.Sprintf("reason %q", byte(r))
	}
}

// formatSequence renders a sequence number right-justified in a 20 byte numeric field.
func formatSequence(seq uint64) string {
	return fmt.Sprintf("%20d", seq)
}

// parseSequence parses a numeric field. A blank field reads as zero.
func parseSequence(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "sequence %q", s)
	}
	return seq, nil
}

// LoginRequest is sent by the client to open a session.
type LoginRequest struct{ Envelope }

// NewLoginRequest returns a login request with blank fields.
func NewLoginRequest() LoginRequest {
	return LoginRequest{NewEnvelope(TagLoginRequest, LoginRequestSize)}
}

// ParseLoginRequest decodes a login request frame.
func ParseLoginRequest(wire []byte) (LoginRequest, error) {
	e, err := parseKind(wire, TagLoginRequest, LoginRequestSize, false)
	return LoginRequest{e}, err
}

// Username returns the login username.
func (m LoginRequest) Username() string { return m.Text(LoginUsername) }

// Password returns the login password.
func (m LoginRequest) Password() string { return m.Text(LoginPassword) }

// RequestedSession returns the session asked for, blank for the current one.
func (m LoginRequest) RequestedSession() string { return m.Text(LoginRequestedSession) }

// RequestedSequence returns the raw requested sequence field.
func (m LoginRequest) RequestedSequence() string { return m.Text(LoginRequestedSequence) }

// SetUsername writes the login username.
func (m *LoginRequest) SetUsername(s string) error { return m.SetText(LoginUsername, s) }

// SetPassword writes the login password.
func (m *LoginRequest) SetPassword(s string) error { return m.SetText(LoginPassword, s) }

// SetRequestedSession writes the session asked for.
func (m *LoginRequest) SetRequestedSession(s string) error {
	return m.SetText(LoginRequestedSession, s)
}

// SetRequestedSequence writes the raw requested sequence field.
func (m *LoginRequest) SetRequestedSequence(s string) error {
	return m.SetText(LoginRequestedSequence, s)
}

// Sequence parses the requested sequence number.
func (m LoginRequest) Sequence() (uint64, error) {
	return parseSequence(m.RequestedSequence())
}

// SetSequence writes the requested sequence number.
func (m *LoginRequest) SetSequence(seq uint64) error {
	return m.SetRequestedSequence(formatSequence(seq))
}

// LoginAccepted is the server's reply to a valid login.
type LoginAccepted struct{ Envelope }

// NewLoginAccepted returns a login accepted message with blank fields.
func NewLoginAccepted() LoginAccepted {
	return LoginAccepted{NewEnvelope(TagLoginAccepted, LoginAcceptedSize)}
}

// ParseLoginAccepted decodes a login accepted frame.
func ParseLoginAccepted(wire []byte) (LoginAccepted, error) {
	e, err := parseKind(wire, TagLoginAccepted, LoginAcceptedSize, false)
	return LoginAccepted{e}, err
}

// Session returns the session the client was logged in to.
func (m LoginAccepted) Session() string { return m.Text(AcceptedSession) }

// SequenceNumber returns the raw sequence field.
func (m LoginAccepted) SequenceNumber() string { return m.Text(AcceptedSequence) }

// SetSession writes the session name.
func (m *LoginAccepted) SetSession(s string) error { return m.SetText(AcceptedSession, s) }

// SetSequenceNumber writes the raw sequence field.
func (m *LoginAccepted) SetSequenceNumber(s string) error { return m.SetText(AcceptedSequence, s) }

// Sequence parses the sequence number of the next sequenced message.
func (m LoginAccepted) Sequence() (uint64, error) {
	return parseSequence(m.SequenceNumber())
}

// SetSequence writes the sequence number of the next sequenced message.
func (m *LoginAccepted) SetSequence(seq uint64) error {
	return m.SetSequenceNumber(formatSequence(seq))
}

// LoginRejected is the server's reply to an invalid login.
type LoginRejected struct{ Envelope }

// NewLoginRejected returns a login rejected message with no reason set.
func NewLoginRejected() LoginRejected {
	return LoginRejected{NewEnvelope(TagLoginRejected, LoginRejectedSize)}
}

// ParseLoginRejected decodes a login rejected frame.
func ParseLoginRejected(wire []byte) (LoginRejected, error) {
	e, err := parseKind(wire, TagLoginRejected, LoginRejectedSize, false)
	return LoginRejected{e}, err
}

// Reason returns the reject reason code, zero if unset.
func (m LoginRejected) Reason() RejectReason {
	s := m.Text(RejectReasonCode)
	if s == "" {
		return 0
	}
	return RejectReason(s[0])
}

// SetReason writes the reject reason code.
func (m *LoginRejected) SetReason(r RejectReason) error {
	return m.SetText(RejectReasonCode, string([]byte{byte(r)}))
}

// SequencedData carries one sequenced application message.
// The zero value is an empty message ready for AppendPayload.
type SequencedData struct{ Envelope }

// NewSequencedData returns a sequenced data message with no payload.
func NewSequencedData() SequencedData {
	return SequencedData{NewEnvelope(TagSequencedData, SequencedDataSize)}
}

// ParseSequencedData decodes a sequenced data frame.
func ParseSequencedData(wire []byte) (SequencedData, error) {
	e, err := parseKind(wire, TagSequencedData, SequencedDataSize, true)
	return SequencedData{e}, err
}

// AppendPayload appends p to the message and updates the length prefix.
func (m *SequencedData) AppendPayload(p []byte) error {
	m.init(TagSequencedData, SequencedDataSize)
	return m.appendPayload(p)
}

// UnsequencedData carries one unsequenced application message.
// The zero value is an empty message ready for AppendPayload.
type UnsequencedData struct{ Envelope }

// NewUnsequencedData returns an unsequenced data message with no payload.
func NewUnsequencedData() UnsequencedData {
	return UnsequencedData{NewEnvelope(TagUnsequencedData, UnsequencedDataSize)}
}

// ParseUnsequencedData decodes an unsequenced data frame.
func ParseUnsequencedData(wire []byte) (UnsequencedData, error) {
	e, err := parseKind(wire, TagUnsequencedData, UnsequencedDataSize, true)
	return UnsequencedData{e}, err
}

// AppendPayload appends p to the message and updates the length prefix.
func (m *UnsequencedData) AppendPayload(p []byte) error {
	m.init(TagUnsequencedData, UnsequencedDataSize)
	return m.appendPayload(p)
}

// ServerHeartbeat is sent by the server when idle.
type ServerHeartbeat struct{ Envelope }

// NewServerHeartbeat returns a server heartbeat.
func NewServerHeartbeat() ServerHeartbeat {
	return ServerHeartbeat{NewEnvelope(TagServerHeartbeat, HeartbeatSize)}
}

// ParseServerHeartbeat decodes a server heartbeat frame.
func ParseServerHeartbeat(wire []byte) (ServerHeartbeat, error) {
	e, err := parseKind(wire, TagServerHeartbeat, HeartbeatSize, false)
	return ServerHeartbeat{e}, err
}

// ClientHeartbeat is sent by the client when idle.
type ClientHeartbeat struct{ Envelope }

// NewClientHeartbeat returns a client heartbeat.
func NewClientHeartbeat() ClientHeartbeat {
	return ClientHeartbeat{NewEnvelope(TagClientHeartbeat, HeartbeatSize)}
}

// ParseClientHeartbeat decodes a client heartbeat frame.
func ParseClientHeartbeat(wire []byte) (ClientHeartbeat, error) {
	e, err := parseKind(wire, TagClientHeartbeat, HeartbeatSize, false)
	return ClientHeartbeat{e}, err
}

// EndOfSession tells the client that no more sequenced data will follow.
type EndOfSession struct{ Envelope }

// NewEndOfSession returns an end of session message.
func NewEndOfSession() EndOfSession {
	return EndOfSession{NewEnvelope(TagEndOfSession, EndOfSessionSize)}
}

// ParseEndOfSession decodes an end of session frame.
func ParseEndOfSession(wire []byte) (EndOfSession, error) {
	e, err := parseKind(wire, TagEndOfSession, EndOfSessionSize, false)
	return EndOfSession{e}, err
}

// LogoutRequest is sent by the client to end the session.
type LogoutRequest struct{ Envelope }

// NewLogoutRequest returns a logout request.
func NewLogoutRequest() LogoutRequest {
	return LogoutRequest{NewEnvelope(TagLogoutRequest, LogoutRequestSize)}
}

// ParseLogoutRequest decodes a logout request frame.
func ParseLogoutRequest(wire []byte) (LogoutRequest, error) {
	e, err := parseKind(wire, TagLogoutRequest, LogoutRequestSize, false)
	return LogoutRequest{e}, err
}

// Debug carries free-form text in either direction.
// The zero value is an empty message.
type Debug struct{ Envelope }

// NewDebug returns a debug message with no text.
func NewDebug() Debug {
	return Debug{NewEnvelope(TagDebug, DebugSize)}
}

// ParseDebug decodes a debug frame.
func ParseDebug(wire []byte) (Debug, error) {
	e, err := parseKind(wire, TagDebug, DebugSize, true)
	return Debug{e}, err
}

// Text returns the debug text.
func (m Debug) Text() string { return string(m.Payload()) }

// SetText replaces the debug text. On error the message is unchanged.
func (m *Debug) SetText(s string) error {
	e := NewEnvelope(TagDebug, DebugSize)
	if err := e.appendPayload([]byte(s)); err != nil {
		return err
	}
	m.Envelope = e
	return nil
}

// AppendPayload appends p to the debug text.
func (m *Debug) AppendPayload(p []byte) error {
	m.init(TagDebug, DebugSize)
	return m.appendPayload(p)
}

// ParseMessage decodes a frame into its catalog type. A frame with a tag
// outside the catalog is returned as a bare Envelope with ErrUnknownMessageTag.
func ParseMessage(frame []byte, maxFrameSize int) (Message, error) {
	e, err := ParseEnvelope(frame, maxFrameSize)
	if err != nil {
		return nil, err
	}

	raw := e.Bytes()
	switch e.Tag() {
	case TagDebug:
		return ParseDebug(raw)
	case TagLoginAccepted:
		return ParseLoginAccepted(raw)
	case TagLoginRejected:
		return ParseLoginRejected(raw)
	case TagSequencedData:
		return ParseSequencedData(raw)
	case TagServerHeartbeat:
		return ParseServerHeartbeat(raw)
	case TagEndOfSession:
		return ParseEndOfSession(raw)
	case TagLoginRequest:
		return ParseLoginRequest(raw)
	case TagUnsequencedData:
		return ParseUnsequencedData(raw)
	case TagClientHeartbeat:
		return ParseClientHeartbeat(raw)
	case TagLogoutRequest:
		return ParseLogoutRequest(raw)
	default:
		return e, errors.Wrapf(ErrUnknownMessageTag, "tag %q", e.Tag())
	}
}
