package param

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/fdtable"
	"busline.dev/dbus/signature"
)

// MarshalDBus encodes p to e, dispatching on p.Kind.
func (p Param) MarshalDBus(e *wire.Encoder) error {
	switch p.kind {
	case KindBase:
		return marshalBase(e, p.sig.Kind, p.base)
	case KindArray:
		return e.Array(elemAlign(p.sig), func() error {
			for i, el := range p.elems {
				if err := el.MarshalDBus(e); err != nil {
					return fmt.Errorf("array element %d: %w", i, err)
				}
			}
			return nil
		})
	case KindStruct:
		return e.Struct(func() error {
			for i, el := range p.elems {
				if err := el.MarshalDBus(e); err != nil {
					return fmt.Errorf("struct field %d: %w", i, err)
				}
			}
			return nil
		})
	case KindDict:
		return e.Array(8, func() error {
			for i, ent := range p.dict {
				if err := e.Struct(func() error {
					if err := ent.Key.MarshalDBus(e); err != nil {
						return err
					}
					return ent.Value.MarshalDBus(e)
				}); err != nil {
					return fmt.Errorf("dict entry %d: %w", i, err)
				}
			}
			return nil
		})
	case KindVariant:
		if err := e.Signature(p.variant.sig.String()); err != nil {
			return err
		}
		return p.variant.MarshalDBus(e)
	default:
		return fmt.Errorf("param: cannot marshal Param with invalid kind")
	}
}

func elemAlign(arraySig signature.Type) int {
	return arraySig.Elem().Align()
}

func marshalBase(e *wire.Encoder, k signature.Kind, v any) error {
	switch k {
	case signature.KindBool:
		e.Bool(v.(bool))
	case signature.KindByte:
		e.Uint8(v.(uint8))
	case signature.KindInt16:
		e.Uint16(uint16(v.(int16)))
	case signature.KindUint16:
		e.Uint16(v.(uint16))
	case signature.KindInt32:
		e.Uint32(uint32(v.(int32)))
	case signature.KindUint32:
		e.Uint32(v.(uint32))
	case signature.KindInt64:
		e.Uint64(uint64(v.(int64)))
	case signature.KindUint64:
		e.Uint64(v.(uint64))
	case signature.KindDouble:
		e.Uint64(math.Float64bits(v.(float64)))
	case signature.KindString:
		s := v.(string)
		if !utf8.ValidString(s) {
			return wire.ErrInvalidUTF8
		}
		if strings.IndexByte(s, 0) >= 0 {
			return wire.ErrStringContainsNullByte
		}
		e.Pad(4)
		e.String(s)
	case signature.KindObjectPath:
		return v.(wire.ObjectPath).MarshalDBus(e)
	case signature.KindSignature:
		return v.(wire.Sig).MarshalDBus(e)
	case signature.KindUnixFD:
		ref := v.(fdtable.Ref)
		f, err := ref.File()
		if err != nil {
			return fmt.Errorf("param: marshalling unix fd: %w", err)
		}
		e.Pad(4)
		return e.UnixFD(f)
	default:
		return fmt.Errorf("param: unknown base kind %v", k)
	}
	return nil
}
