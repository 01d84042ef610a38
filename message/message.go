// Package message implements the D-Bus message model: the fixed
// header prefix, the dynamic (optional) header fields, and the
// typed body with its associated file-descriptor side channel.
package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creachadair/mds/value"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/fdtable"
)

// Type is the message type: call, reply, error or signal.
type Type byte

const (
	TypeInvalid Type = iota
	TypeCall
	TypeReply
	TypeError
	TypeSignal
)

func (t Type) String() string {
	switch t {
	case TypeCall:
		return "call"
	case TypeReply:
		return "reply"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Flags is the message flags byte.
type Flags byte

const (
	FlagNoReplyExpected Flags = 1 << iota
	FlagNoAutoStart
	FlagAllowInteractiveAuthorization
)

// ProtocolVersion is the only D-Bus wire protocol version this
// package speaks.
const ProtocolVersion = 1

// Errors returned while validating a message's header fields.
var (
	ErrInvalidObjectPath       = errors.New("message: invalid object path")
	ErrInvalidInterface        = errors.New("message: invalid interface name")
	ErrInvalidBusName          = errors.New("message: invalid bus name")
	ErrInvalidMemberName       = errors.New("message: invalid member name")
	ErrInvalidErrorName        = errors.New("message: invalid error name")
	ErrInvalidHeaderFields     = errors.New("message: missing required header field for this message type")
	ErrDuplicatedHeaderFields  = errors.New("message: header field code appears more than once")
	ErrZeroSerial              = errors.New("message: serial must be non-zero")
	ErrInvalidMessageType      = errors.New("message: invalid message type")
)

// Header is the message's fixed 16-byte prefix.
type Header struct {
	Order      wire.ByteOrder
	Type       Type
	Flags      Flags
	Version    uint8
	BodyLength uint32
	Serial     uint32
}

// Header field codes, as they appear on the wire (a{yv} keyed by
// these bytes).
const (
	FieldPath        = 1
	FieldInterface   = 2
	FieldMember      = 3
	FieldErrorName   = 4
	FieldReplySerial = 5
	FieldDestination = 6
	FieldSender      = 7
	FieldSignature   = 8
	FieldUnixFDs     = 9
)

// DynHeader holds the nine optional header fields. Each is present or
// absent independently, matching the wire's a{yv} array-of-dict-entry
// representation (a field that never appeared on the wire has its
// Maybe unset; decoding never synthesizes a default).
type DynHeader struct {
	Path        value.Maybe[wire.ObjectPath]
	Interface   value.Maybe[string]
	Member      value.Maybe[string]
	ErrorName   value.Maybe[string]
	ReplySerial value.Maybe[uint32]
	Destination value.Maybe[string]
	Sender      value.Maybe[string]
	Signature   value.Maybe[wire.Sig]
	UnixFDs     value.Maybe[uint32]

	// Unknown collects header fields with codes this package does not
	// recognize, keyed by field code, still structurally parsed as
	// variants per spec (an unrecognized code is not itself an
	// error).
	Unknown map[uint8]wire.RawVariant
}

// Message is one complete D-Bus message: header, dynamic header, and
// an (optionally still-encoded) body with its associated fd table.
type Message struct {
	Header Header
	Dyn    DynHeader

	// Body holds the marshalled message body bytes, in Header.Order,
	// whose signature is Dyn.Signature (absent only when the body is
	// empty). Decode it with [Message.Decode] or package param's
	// Unmarshal.
	Body []byte

	// FDs holds the file descriptors that travelled alongside this
	// message (via SCM_RIGHTS on receive, or queued for send).
	FDs *fdtable.Table
}

// Decode unmarshals the message body into v, a pointer to a Go value
// whose flattened body signature (per [wire.SignatureOfBody]) must
// equal the body's declared signature.
func (m *Message) Decode(v any) error {
	if len(m.Body) == 0 {
		return nil
	}
	want, ok := m.Dyn.Signature.GetOK()
	got, err := wire.SignatureOfBody(v)
	if err != nil {
		return err
	}
	if ok && string(want) != got {
		return fmt.Errorf("%w: body has signature %q, target has signature %q", wire.ErrWrongSignature, want, got)
	}
	return wire.Unmarshal(m.Body, m.Header.Order, m.FDs, v)
}

// SetBody marshals v (a pointer is not required) as the message body
// and records its signature in Dyn.Signature. A struct v's fields are
// written as independent top-level arguments (see
// [wire.SignatureOfBody]): the wire bytes are the same either way
// since the body always starts 8-byte aligned, but the recorded
// signature string must describe a flat argument list, not a single
// nested struct, or peers will reject or misparse the message.
func (m *Message) SetBody(v any) error {
	sig, err := wire.SignatureOfBody(v)
	if err != nil {
		return err
	}
	body, err := wire.Marshal(v, m.Header.Order, m.FDs)
	if err != nil {
		return err
	}
	m.Body = body
	m.Header.BodyLength = uint32(len(body))
	m.Dyn.Signature = value.Just(wire.Sig(sig))
	return nil
}

// ErrorDetail returns the first string argument of an error message's
// body, the conventional human-readable detail message D-Bus errors
// carry, and true, but only when the body's signature is exactly "s"
// or begins with "(s" (matching the teacher's own dispatch heuristic
// for recognizing a leading string argument). It returns "", false
// when the body is empty, carries no signature, or doesn't start with
// a string.
func (m *Message) ErrorDetail() (string, bool) {
	if m.Header.Type != TypeError || len(m.Body) == 0 {
		return "", false
	}
	sig, ok := m.Dyn.Signature.GetOK()
	if !ok {
		return "", false
	}
	s := string(sig)
	if s != "s" && !strings.HasPrefix(s, "(s") {
		return "", false
	}
	d := &wire.Decoder{Order: m.Header.Order, In: m.Body, FDs: m.FDs}
	detail, err := d.String()
	if err != nil {
		return "", false
	}
	return detail, true
}

// Validate checks that the dynamic header carries the fields required
// for m's message type, and returns the specific error when it
// doesn't.
func (m *Message) Validate() error {
	if m.Header.Serial == 0 {
		return ErrZeroSerial
	}
	switch m.Header.Type {
	case TypeCall:
		if !m.Dyn.Path.Present() || !m.Dyn.Member.Present() {
			return ErrInvalidHeaderFields
		}
	case TypeSignal:
		if !m.Dyn.Path.Present() || !m.Dyn.Member.Present() || !m.Dyn.Interface.Present() {
			return ErrInvalidHeaderFields
		}
	case TypeReply:
		if !m.Dyn.ReplySerial.Present() {
			return ErrInvalidHeaderFields
		}
	case TypeError:
		if !m.Dyn.ErrorName.Present() || !m.Dyn.ReplySerial.Present() {
			return ErrInvalidHeaderFields
		}
	default:
		return ErrInvalidMessageType
	}
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("%s serial=%d", m.Header.Type, m.Header.Serial)
}
