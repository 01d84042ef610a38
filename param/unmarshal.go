package param

import (
	"fmt"
	"math"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/signature"
)

// Unmarshal decodes a single complete Param from d, whose signature
// must equal sig.
func Unmarshal(d *wire.Decoder, sig signature.Type) (Param, error) {
	switch sig.Kind {
	case signature.KindArray:
		return unmarshalArray(d, sig)
	case signature.KindDict:
		return unmarshalDict(d, sig)
	case signature.KindStruct:
		return unmarshalStruct(d, sig)
	case signature.KindVariant:
		return unmarshalVariant(d)
	default:
		return unmarshalBase(d, sig.Kind)
	}
}

func unmarshalArray(d *wire.Decoder, sig signature.Type) (Param, error) {
	elemSig := sig.Elem()
	var elems []Param
	_, err := d.Array(elemSig.Align(), func(i int) error {
		el, err := Unmarshal(d, elemSig)
		if err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
		elems = append(elems, el)
		return nil
	})
	if err != nil {
		return Param{}, err
	}
	return NewArray(elemSig, elems)
}

func unmarshalDict(d *wire.Decoder, sig signature.Type) (Param, error) {
	keySig, valSig := sig.DictKey(), sig.DictValue()
	var entries []DictEntry
	_, err := d.Array(8, func(i int) error {
		var k, v Param
		if err := d.Struct(func() error {
			var err error
			k, err = Unmarshal(d, keySig)
			if err != nil {
				return err
			}
			v, err = Unmarshal(d, valSig)
			return err
		}); err != nil {
			return fmt.Errorf("dict entry %d: %w", i, err)
		}
		entries = append(entries, DictEntry{Key: k, Value: v})
		return nil
	})
	if err != nil {
		return Param{}, err
	}
	return NewDict(keySig, valSig, entries)
}

func unmarshalStruct(d *wire.Decoder, sig signature.Type) (Param, error) {
	var fields []Param
	err := d.Struct(func() error {
		for i, fsig := range sig.Fields() {
			f, err := Unmarshal(d, fsig)
			if err != nil {
				return fmt.Errorf("struct field %d: %w", i, err)
			}
			fields = append(fields, f)
		}
		return nil
	})
	if err != nil {
		return Param{}, err
	}
	return NewStruct(fields)
}

func unmarshalVariant(d *wire.Decoder) (Param, error) {
	sigStr, err := d.Signature()
	if err != nil {
		return Param{}, err
	}
	sig, err := signature.Parse(sigStr)
	if err != nil {
		return Param{}, fmt.Errorf("param: variant has invalid signature %q: %w", sigStr, err)
	}
	if err := d.Align(sig.Align()); err != nil {
		return Param{}, err
	}
	inner, err := Unmarshal(d, sig)
	if err != nil {
		return Param{}, fmt.Errorf("param: decoding variant value (signature %q): %w", sigStr, err)
	}
	return NewVariant(inner), nil
}

func unmarshalBase(d *wire.Decoder, k signature.Kind) (Param, error) {
	var v any
	switch k {
	case signature.KindBool:
		b, err := d.Bool()
		if err != nil {
			return Param{}, err
		}
		v = b
	case signature.KindByte:
		b, err := d.Uint8()
		if err != nil {
			return Param{}, err
		}
		v = b
	case signature.KindInt16:
		n, err := d.Uint16()
		if err != nil {
			return Param{}, err
		}
		v = int16(n)
	case signature.KindUint16:
		n, err := d.Uint16()
		if err != nil {
			return Param{}, err
		}
		v = n
	case signature.KindInt32:
		n, err := d.Uint32()
		if err != nil {
			return Param{}, err
		}
		v = int32(n)
	case signature.KindUint32:
		n, err := d.Uint32()
		if err != nil {
			return Param{}, err
		}
		v = n
	case signature.KindInt64:
		n, err := d.Uint64()
		if err != nil {
			return Param{}, err
		}
		v = int64(n)
	case signature.KindUint64:
		n, err := d.Uint64()
		if err != nil {
			return Param{}, err
		}
		v = n
	case signature.KindDouble:
		n, err := d.Uint64()
		if err != nil {
			return Param{}, err
		}
		v = math.Float64frombits(n)
	case signature.KindString:
		s, err := d.String()
		if err != nil {
			return Param{}, err
		}
		v = s
	case signature.KindObjectPath:
		var o wire.ObjectPath
		if err := o.UnmarshalDBus(d); err != nil {
			return Param{}, err
		}
		v = o
	case signature.KindSignature:
		var s wire.Sig
		if err := s.UnmarshalDBus(d); err != nil {
			return Param{}, err
		}
		v = s
	case signature.KindUnixFD:
		if err := d.Align(4); err != nil {
			return Param{}, err
		}
		ref, err := d.UnixFD()
		if err != nil {
			return Param{}, err
		}
		v = ref
	default:
		return Param{}, fmt.Errorf("param: unknown base kind %v", k)
	}
	return NewBase(v)
}
