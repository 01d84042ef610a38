package message

import (
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/mds/value"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/fdtable"
)

// Encode marshals m into a complete on-wire message: the fixed
// 16-byte prefix, the dynamic header fields array padded to an 8-byte
// boundary, and the body. m.Header.Serial must already be set (zero is
// rejected by Validate); m.Header.BodyLength is recomputed from
// len(m.Body) regardless of its current value.
func (m *Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.Header.BodyLength = uint32(len(m.Body))

	e := &wire.Encoder{Order: m.Header.Order, FDs: m.FDs}
	e.ByteOrderFlag()
	e.Uint8(uint8(m.Header.Type))
	e.Uint8(uint8(m.Header.Flags))
	e.Uint8(m.Header.Version)
	e.Uint32(m.Header.BodyLength)
	e.Uint32(m.Header.Serial)

	if err := e.Array(8, func() error {
		return m.encodeFields(e)
	}); err != nil {
		return nil, err
	}
	e.Pad(8)
	e.Out = append(e.Out, m.Body...)
	return e.Out, nil
}

func (m *Message) encodeFields(e *wire.Encoder) error {
	field := func(code uint8, v any) error {
		return e.Struct(func() error {
			e.Uint8(code)
			return wire.Variant{Value: v}.MarshalDBus(e)
		})
	}

	if v, ok := m.Dyn.Path.GetOK(); ok {
		if err := ValidateObjectPath(string(v)); err != nil {
			return err
		}
		if err := field(FieldPath, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.Interface.GetOK(); ok {
		if err := ValidateInterface(v); err != nil {
			return err
		}
		if err := field(FieldInterface, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.Member.GetOK(); ok {
		if err := ValidateMember(v); err != nil {
			return err
		}
		if err := field(FieldMember, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.ErrorName.GetOK(); ok {
		if err := ValidateErrorName(v); err != nil {
			return err
		}
		if err := field(FieldErrorName, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.ReplySerial.GetOK(); ok {
		if err := field(FieldReplySerial, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.Destination.GetOK(); ok {
		if err := ValidateBusName(v); err != nil {
			return err
		}
		if err := field(FieldDestination, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.Sender.GetOK(); ok {
		if err := ValidateBusName(v); err != nil {
			return err
		}
		if err := field(FieldSender, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.Signature.GetOK(); ok {
		if err := field(FieldSignature, v); err != nil {
			return err
		}
	}
	if v, ok := m.Dyn.UnixFDs.GetOK(); ok {
		if err := field(FieldUnixFDs, v); err != nil {
			return err
		}
	}
	// Sort unknown codes for deterministic wire output; there are
	// rarely more than one or two of these, so the allocation is fine.
	for _, code := range slices.Sorted(maps.Keys(m.Dyn.Unknown)) {
		rv := m.Dyn.Unknown[code]
		if err := e.Struct(func() error {
			e.Uint8(code)
			return rv.MarshalDBus(e)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses buf as one complete on-wire message (fixed prefix,
// dynamic header fields, and body). The body is left unmarshalled;
// callers use [Message.Decode] or package param's Unmarshal on the
// result. fds becomes the owner of any file descriptors the message's
// UnixFd-typed fields refer to.
func Decode(buf []byte, fds *fdtable.Table) (*Message, error) {
	d := &wire.Decoder{In: buf, FDs: fds}
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	typ, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	flags, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	version, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	serial, err := d.Uint32()
	if err != nil {
		return nil, err
	}

	m := &Message{
		Header: Header{
			Order:      d.Order,
			Type:       Type(typ),
			Flags:      Flags(flags),
			Version:    version,
			BodyLength: bodyLen,
			Serial:     serial,
		},
		FDs: fds,
	}

	if _, err := d.Array(8, func(int) error {
		return m.decodeField(d)
	}); err != nil {
		return nil, err
	}
	if err := d.Align(8); err != nil {
		return nil, err
	}
	body, err := d.Read(int(bodyLen))
	if err != nil {
		return nil, err
	}
	// Copy out of d.In: the caller's incoming buffer is typically
	// reused across messages.
	m.Body = append([]byte(nil), body...)
	return m, nil
}

func (m *Message) decodeField(d *wire.Decoder) error {
	return d.Struct(func() error {
		code, err := d.Uint8()
		if err != nil {
			return err
		}
		var rv wire.RawVariant
		if err := (&rv).UnmarshalDBus(d); err != nil {
			return fmt.Errorf("message: decoding header field %d: %w", code, err)
		}
		switch code {
		case FieldPath:
			if m.Dyn.Path.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[wire.ObjectPath](rv)
			if err != nil {
				return err
			}
			if err := ValidateObjectPath(string(v)); err != nil {
				return err
			}
			m.Dyn.Path = value.Just(v)
		case FieldInterface:
			if m.Dyn.Interface.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[string](rv)
			if err != nil {
				return err
			}
			if err := ValidateInterface(v); err != nil {
				return err
			}
			m.Dyn.Interface = value.Just(v)
		case FieldMember:
			if m.Dyn.Member.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[string](rv)
			if err != nil {
				return err
			}
			if err := ValidateMember(v); err != nil {
				return err
			}
			m.Dyn.Member = value.Just(v)
		case FieldErrorName:
			if m.Dyn.ErrorName.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[string](rv)
			if err != nil {
				return err
			}
			if err := ValidateErrorName(v); err != nil {
				return err
			}
			m.Dyn.ErrorName = value.Just(v)
		case FieldReplySerial:
			if m.Dyn.ReplySerial.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[uint32](rv)
			if err != nil {
				return err
			}
			m.Dyn.ReplySerial = value.Just(v)
		case FieldDestination:
			if m.Dyn.Destination.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[string](rv)
			if err != nil {
				return err
			}
			if err := ValidateBusName(v); err != nil {
				return err
			}
			m.Dyn.Destination = value.Just(v)
		case FieldSender:
			if m.Dyn.Sender.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[string](rv)
			if err != nil {
				return err
			}
			if err := ValidateBusName(v); err != nil {
				return err
			}
			m.Dyn.Sender = value.Just(v)
		case FieldSignature:
			if m.Dyn.Signature.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[wire.Sig](rv)
			if err != nil {
				return err
			}
			m.Dyn.Signature = value.Just(v)
		case FieldUnixFDs:
			if m.Dyn.UnixFDs.Present() {
				return ErrDuplicatedHeaderFields
			}
			v, err := wire.Get[uint32](rv)
			if err != nil {
				return err
			}
			m.Dyn.UnixFDs = value.Just(v)
		default:
			if m.Dyn.Unknown == nil {
				m.Dyn.Unknown = map[uint8]wire.RawVariant{}
			}
			m.Dyn.Unknown[code] = rv
		}
		return nil
	})
}
