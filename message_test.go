package soupbintcp

import (
	"bytes"
	"errors"
	"testing"
)

func TestLoginRequest_WireLayout(t *testing.T) {
	m := NewLoginRequest()
	if err := m.SetUsername("user1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPassword("pass12345"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetRequestedSession(""); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSequence(1); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x00, 0x2f, 'L'}
	want = append(want, "user1 "...)
	want = append(want, "pass12345 "...)
	want = append(want, "          "...)
	want = append(want, "                   1"...)

	if !bytes.Equal(m.Bytes(), want) {
		t.Fatalf("wire =\n%q\nwant\n%q", m.Bytes(), want)
	}
}

func TestLoginRequest_RoundTrip(t *testing.T) {
	m := NewLoginRequest()
	_ = m.SetUsername("user1")
	_ = m.SetPassword("pass12345")
	_ = m.SetRequestedSession("SESSION001")
	_ = m.SetSequence(12345)

	got, err := ParseLoginRequest(m.Bytes())
	if err != nil {
		t.Fatalf("ParseLoginRequest failed: %v", err)
	}
	if !bytes.Equal(got.Bytes(), m.Bytes()) {
		t.Fatal("round trip changed the frame")
	}
	if got.Username() != "user1" || got.Password() != "pass12345" || got.RequestedSession() != "SESSION001" {
		t.Errorf("fields = %q %q %q", got.Username(), got.Password(), got.RequestedSession())
	}
	seq, err := got.Sequence()
	if err != nil || seq != 12345 {
		t.Errorf("Sequence = %d, %v; want 12345", seq, err)
	}
}

func TestLoginAccepted_RoundTrip(t *testing.T) {
	m := NewLoginAccepted()
	_ = m.SetSession("SESSION001")
	_ = m.SetSequenceNumber("00000000000000000001")

	got, err := ParseLoginAccepted(m.Bytes())
	if err != nil {
		t.Fatalf("ParseLoginAccepted failed: %v", err)
	}
	if got.Session() != "SESSION001" {
		t.Errorf("Session = %q", got.Session())
	}
	if got.SequenceNumber() != "00000000000000000001" {
		t.Errorf("SequenceNumber = %q", got.SequenceNumber())
	}
	seq, err := got.Sequence()
	if err != nil || seq != 1 {
		t.Errorf("Sequence = %d, %v; want 1", seq, err)
	}
}

func TestLoginAccepted_BadSequence(t *testing.T) {
	m := NewLoginAccepted()
	_ = m.SetSequenceNumber("12x")

	if _, err := m.Sequence(); err == nil {
		t.Error("expected error for non-numeric sequence")
	}
}

func TestLoginRejected_RoundTrip(t *testing.T) {
	for _, reason := range []RejectReason{RejectNotAuthorized, RejectSessionUnavailable} {
		m := NewLoginRejected()
		if err := m.SetReason(reason); err != nil {
			t.Fatal(err)
		}

		got, err := ParseLoginRejected(m.Bytes())
		if err != nil {
			t.Fatalf("ParseLoginRejected failed: %v", err)
		}
		if got.Reason() != reason {
			t.Errorf("Reason = %v, want %v", got.Reason(), reason)
		}
		if !bytes.Equal(got.Bytes(), []byte{0x00, 0x02, 'J', byte(reason)}) {
			t.Errorf("wire = %q", got.Bytes())
		}
	}
}

func TestDataMessages_RoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 'x', 0xff}

	s := NewSequencedData()
	_ = s.AppendPayload(payload)
	gs, err := ParseSequencedData(s.Bytes())
	if err != nil {
		t.Fatalf("ParseSequencedData failed: %v", err)
	}
	if !bytes.Equal(gs.Payload(), payload) {
		t.Errorf("sequenced payload = %x", gs.Payload())
	}

	u := NewUnsequencedData()
	_ = u.AppendPayload(payload)
	gu, err := ParseUnsequencedData(u.Bytes())
	if err != nil {
		t.Fatalf("ParseUnsequencedData failed: %v", err)
	}
	if !bytes.Equal(gu.Payload(), payload) {
		t.Errorf("unsequenced payload = %x", gu.Payload())
	}

	empty, err := ParseSequencedData(NewSequencedData().Bytes())
	if err != nil {
		t.Fatalf("ParseSequencedData empty failed: %v", err)
	}
	if len(empty.Payload()) != 0 {
		t.Errorf("empty payload = %x", empty.Payload())
	}
}

func TestDebug_Text(t *testing.T) {
	m := NewDebug()
	_ = m.SetText("first")
	_ = m.SetText("hello")
	_ = m.AppendPayload([]byte(" world"))

	got, err := ParseDebug(m.Bytes())
	if err != nil {
		t.Fatalf("ParseDebug failed: %v", err)
	}
	if got.Text() != "hello world" {
		t.Errorf("Text = %q", got.Text())
	}
}

func TestHeaderOnlyMessages(t *testing.T) {
	tests := []struct {
		msg   Message
		tag   byte
		parse func([]byte) error
	}{
		{NewServerHeartbeat(), TagServerHeartbeat, func(b []byte) error { _, err := ParseServerHeartbeat(b); return err }},
		{NewClientHeartbeat(), TagClientHeartbeat, func(b []byte) error { _, err := ParseClientHeartbeat(b); return err }},
		{NewEndOfSession(), TagEndOfSession, func(b []byte) error { _, err := ParseEndOfSession(b); return err }},
		{NewLogoutRequest(), TagLogoutRequest, func(b []byte) error { _, err := ParseLogoutRequest(b); return err }},
	}

	for _, tt := range tests {
		if !bytes.Equal(tt.msg.Bytes(), []byte{0x00, 0x01, tt.tag}) {
			t.Errorf("%q wire = %x", tt.tag, tt.msg.Bytes())
		}
		if err := tt.parse(tt.msg.Bytes()); err != nil {
			t.Errorf("%q parse failed: %v", tt.tag, err)
		}
		if err := tt.parse([]byte{0x00, 0x02, tt.tag, 'x'}); !errors.Is(err, ErrFraming) {
			t.Errorf("%q oversized parse error = %v, want ErrFraming", tt.tag, err)
		}
	}
}

func TestParse_WrongTag(t *testing.T) {
	_, err := ParseLoginAccepted(NewLoginRequest().Bytes())
	if !errors.Is(err, ErrFraming) {
		t.Errorf("error = %v, want ErrFraming", err)
	}
}

func TestParse_WrongFixedSize(t *testing.T) {
	m := NewLoginRejected()
	_ = m.SetReason(RejectNotAuthorized)
	wire := append([]byte(nil), m.Bytes()...)
	wire = append(wire, 'x')
	wire[1] = 3

	if _, err := ParseLoginRejected(wire); !errors.Is(err, ErrFraming) {
		t.Errorf("error = %v, want ErrFraming", err)
	}
}

func TestParseMessage_Dispatch(t *testing.T) {
	req := NewLoginRequest()
	_ = req.SetUsername("u")
	seq := NewSequencedData()
	_ = seq.AppendPayload([]byte("p"))

	msgs := []Message{
		NewDebug(), NewLoginAccepted(), NewLoginRejected(), seq,
		NewServerHeartbeat(), NewEndOfSession(), req, NewUnsequencedData(),
		NewClientHeartbeat(), NewLogoutRequest(),
	}

	for _, m := range msgs {
		got, err := ParseMessage(m.Bytes(), MaxFrameSize)
		if err != nil {
			t.Fatalf("ParseMessage %q failed: %v", m.Tag(), err)
		}
		if got.Tag() != m.Tag() {
			t.Errorf("tag = %q, want %q", got.Tag(), m.Tag())
		}
		if !bytes.Equal(got.Bytes(), m.Bytes()) {
			t.Errorf("%q round trip changed the frame", m.Tag())
		}
	}

	if _, ok := mustParse(t, req.Bytes()).(LoginRequest); !ok {
		t.Error("login request not decoded as LoginRequest")
	}
	if _, ok := mustParse(t, seq.Bytes()).(SequencedData); !ok {
		t.Error("sequenced data not decoded as SequencedData")
	}
}

func mustParse(t *testing.T, b []byte) Message {
	t.Helper()
	m, err := ParseMessage(b, MaxFrameSize)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	return m
}

func TestParseMessage_UnknownTag(t *testing.T) {
	wire := []byte{0x00, 0x03, 'Q', 'x', 'y'}

	m, err := ParseMessage(wire, MaxFrameSize)
	if !errors.Is(err, ErrUnknownMessageTag) {
		t.Fatalf("error = %v, want ErrUnknownMessageTag", err)
	}
	if m == nil || !bytes.Equal(m.Bytes(), wire) {
		t.Errorf("unknown frame not preserved: %v", m)
	}
}

func TestRejectReason_String(t *testing.T) {
	if RejectNotAuthorized.String() != "not authorized" {
		t.Errorf("A = %q", RejectNotAuthorized.String())
	}
	if RejectSessionUnavailable.String() != "session not available" {
		t.Errorf("S = %q", RejectSessionUnavailable.String())
	}
	if RejectReason('Q').String() != `reason 'Q'` {
		t.Errorf("Q = %q", RejectReason('Q').String())
	}
}

func TestZeroValue_VariableKinds(t *testing.T) {
	var s SequencedData
	if err := s.AppendPayload([]byte("x")); err != nil {
		t.Fatalf("SequencedData.AppendPayload failed: %v", err)
	}
	if !bytes.Equal(s.Bytes(), []byte{0x00, 0x02, TagSequencedData, 'x'}) {
		t.Errorf("sequenced wire = %q", s.Bytes())
	}

	var u UnsequencedData
	if err := u.AppendPayload([]byte("y")); err != nil {
		t.Fatalf("UnsequencedData.AppendPayload failed: %v", err)
	}
	if !bytes.Equal(u.Bytes(), []byte{0x00, 0x02, TagUnsequencedData, 'y'}) {
		t.Errorf("unsequenced wire = %q", u.Bytes())
	}

	var d Debug
	if err := d.SetText("hi"); err != nil {
		t.Fatalf("Debug.SetText failed: %v", err)
	}
	if d.Tag() != TagDebug || d.Text() != "hi" {
		t.Errorf("debug = %q", d.Bytes())
	}

	var d2 Debug
	if err := d2.AppendPayload([]byte("z")); err != nil {
		t.Fatalf("Debug.AppendPayload failed: %v", err)
	}
	if d2.Text() != "z" {
		t.Errorf("debug text = %q", d2.Text())
	}
}

func TestZeroValue_FixedKinds(t *testing.T) {
	var m LoginRequest
	if err := m.SetUsername("u"); !errors.Is(err, ErrFieldOutOfRange) {
		t.Errorf("SetUsername on zero value = %v, want ErrFieldOutOfRange", err)
	}
	if m.Username() != "" || m.Tag() != 0 {
		t.Errorf("zero value reads = %q, %q", m.Username(), m.Tag())
	}
}

func TestDebug_SetTextFailureKeepsMessage(t *testing.T) {
	m := NewDebug()
	if err := m.SetText("ok"); err != nil {
		t.Fatal(err)
	}

	err := m.SetText(string(make([]byte, MaxFrameSize)))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("SetText error = %v, want ErrFrameTooLarge", err)
	}
	if got := lengthPrefix(m.Bytes()); got != m.Length()-2 {
		t.Errorf("length prefix = %d, want %d", got, m.Length()-2)
	}
	if m.Text() != "ok" {
		t.Errorf("Text = %q, want the previous text", m.Text())
	}
}
