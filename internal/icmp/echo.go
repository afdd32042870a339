package icmp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the length of the fixed ICMP echo header:
// type, code, checksum, identifier and sequence.
const HeaderLen = 8

// Type is an ICMPv4 message type.
type Type uint8

const (
	// TypeEchoReply is the ICMPv4 echo reply type.
	TypeEchoReply Type = 0
	// TypeEchoRequest is the ICMPv4 echo request type.
	TypeEchoRequest Type = 8
)

// String returns a human-readable name for the type.
func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo-reply"
	case TypeEchoRequest:
		return "echo-request"
	default:
		return fmt.Sprintf("type-%d", uint8(t))
	}
}

// Decode errors. They are returned wrapped with detail; match with errors.Is.
var (
	ErrTooShort       = errors.New("icmp message too short")
	ErrUnexpectedType = errors.New("unexpected icmp type")
	ErrUnexpectedCode = errors.New("unexpected icmp code")
	ErrBadChecksum    = errors.New("bad icmp checksum")
	ErrTruncatedField = errors.New("truncated icmp field")
)

// EchoMessage is an ICMP echo request or reply body as seen by callers.
// Type, code and checksum only exist on the wire.
type EchoMessage struct {
	Identifier uint16
	Sequence   uint16
	Payload    []byte
}

// NewEchoMessage creates an echo message. The payload is used as given.
func NewEchoMessage(id, seq uint16, payload []byte) *EchoMessage {
	return &EchoMessage{
		Identifier: id,
		Sequence:   seq,
		Payload:    payload,
	}
}

// SetPayload replaces the payload. Only used when preparing a reply.
func (m *EchoMessage) SetPayload(payload []byte) {
	m.Payload = payload
}

// Len returns the encoded length of the message.
func (m *EchoMessage) Len() int {
	return HeaderLen + len(m.Payload)
}

// Encode serializes m as an echo request with a valid checksum.
func (m *EchoMessage) Encode() []byte {
	b := make([]byte, m.Len())
	b[0] = byte(TypeEchoRequest)
	b[1] = 0
	binary.BigEndian.PutUint16(b[4:6], m.Identifier)
	binary.BigEndian.PutUint16(b[6:8], m.Sequence)
	copy(b[HeaderLen:], m.Payload)

	SetChecksum(b)
	return b
}

// Decode parses an ICMP echo request or reply (without IP header).
//
// Checks run in a fixed order: length, type, code, checksum. A truncated
// buffer is therefore never reported as a checksum failure. The returned
// message owns a copy of the payload.
func Decode(b []byte) (*EchoMessage, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTooShort, len(b), HeaderLen)
	}

	switch Type(b[0]) {
	case TypeEchoRequest, TypeEchoReply:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedType, b[0])
	}

	if b[1] != 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedCode, b[1])
	}

	if cs := Checksum(b); cs != 0 {
		return nil, fmt.Errorf("%w: residue 0x%04x", ErrBadChecksum, cs)
	}

	id, ok := readUint16(b, 4)
	if !ok {
		return nil, fmt.Errorf("%w: identifier", ErrTruncatedField)
	}
	seq, ok := readUint16(b, 6)
	if !ok {
		return nil, fmt.Errorf("%w: sequence", ErrTruncatedField)
	}

	payload := make([]byte, len(b)-HeaderLen)
	copy(payload, b[HeaderLen:])

	return &EchoMessage{
		Identifier: id,
		Sequence:   seq,
		Payload:    payload,
	}, nil
}

// TypeOf returns the type byte of an ICMP message. It is meaningful only for
// buffers that Decode accepted.
func TypeOf(b []byte) Type {
	if len(b) == 0 {
		return 0
	}
	return Type(b[0])
}

// DecodeErrorReason maps a decode error to a short label for metrics and logs.
func DecodeErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrUnexpectedType):
		return "unexpected_type"
	case errors.Is(err, ErrUnexpectedCode):
		return "unexpected_code"
	case errors.Is(err, ErrBadChecksum):
		return "bad_checksum"
	case errors.Is(err, ErrTruncatedField):
		return "truncated_field"
	default:
		return "other"
	}
}

// IsDecodeError reports whether err came from Decode.
func IsDecodeError(err error) bool {
	r := DecodeErrorReason(err)
	return r != "" && r != "other"
}

func readUint16(b []byte, offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[offset : offset+2]), true
}
