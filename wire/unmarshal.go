package wire

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"busline.dev/dbus/fdtable"
)

// Unmarshal decodes a value of the same type as v (which must be a
// non-nil pointer) from buf, using order to interpret multi-byte
// values and fds to resolve any UnixFD values encountered.
//
// Unmarshal does not require buf to be fully consumed: bytes after the
// decoded value are ignored, and Unmarshal does not report how many
// bytes it used.
func Unmarshal(buf []byte, order ByteOrder, fds *fdtable.Table, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("wire: Unmarshal requires a non-nil pointer, got %T", v)
	}
	dec, err := decoderFor(rv.Type().Elem())
	if err != nil {
		return err
	}
	d := &Decoder{Order: order, In: buf, FDs: fds}
	return dec(d, rv.Elem())
}

// decoderFunc reads a value of a fixed, pre-resolved type from d into
// val, which must be addressable and settable.
type decoderFunc func(d *Decoder, val reflect.Value) error

var decoders cache[reflect.Type, decoderFunc]

// decoderFor returns the decoderFunc for t, building and caching it
// on first use.
func decoderFor(t reflect.Type) (decoderFunc, error) {
	if ret, err := decoders.Get(t); err == nil {
		return ret, nil
	} else if errors.Is(err, errRecursive) {
		return nil, typeErr(t, "recursive type cannot be represented in D-Bus")
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	fn, err := buildDecoder(t)
	if err != nil {
		decoders.SetErr(t, err)
		return nil, err
	}
	decoders.Set(t, fn)
	return fn, nil
}

func buildDecoder(t reflect.Type) (decoderFunc, error) {
	if t == nil {
		return nil, typeErr(nil, "nil type")
	}

	pt := reflect.PointerTo(t)
	if pt.Implements(unmarshalerType) {
		return addrUnmarshalDecoder(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elemDec, err := decoderFor(t.Elem())
		if err != nil {
			return nil, err
		}
		return func(d *Decoder, val reflect.Value) error {
			if val.IsNil() {
				val.Set(reflect.New(t.Elem()))
			}
			return elemDec(d, val.Elem())
		}, nil

	case reflect.Interface:
		return func(d *Decoder, val reflect.Value) error {
			var v Variant
			if err := v.UnmarshalDBus(d); err != nil {
				return err
			}
			val.Set(reflect.ValueOf(v.Value))
			return nil
		}, nil

	case reflect.Bool:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Bool()
			if err != nil {
				return err
			}
			val.SetBool(v)
			return nil
		}, nil
	case reflect.Uint8:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint8()
			if err != nil {
				return err
			}
			val.SetUint(uint64(v))
			return nil
		}, nil
	case reflect.Int16:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint16()
			if err != nil {
				return err
			}
			val.SetInt(int64(int16(v)))
			return nil
		}, nil
	case reflect.Uint16:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint16()
			if err != nil {
				return err
			}
			val.SetUint(uint64(v))
			return nil
		}, nil
	case reflect.Int32:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint32()
			if err != nil {
				return err
			}
			val.SetInt(int64(int32(v)))
			return nil
		}, nil
	case reflect.Uint32:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint32()
			if err != nil {
				return err
			}
			val.SetUint(uint64(v))
			return nil
		}, nil
	case reflect.Int64:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint64()
			if err != nil {
				return err
			}
			val.SetInt(int64(v))
			return nil
		}, nil
	case reflect.Uint64:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint64()
			if err != nil {
				return err
			}
			val.SetUint(v)
			return nil
		}, nil
	case reflect.Float64:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.Uint64()
			if err != nil {
				return err
			}
			val.SetFloat(math.Float64frombits(v))
			return nil
		}, nil
	case reflect.String:
		return func(d *Decoder, val reflect.Value) error {
			v, err := d.String()
			if err != nil {
				return err
			}
			val.SetString(v)
			return nil
		}, nil

	case reflect.Slice, reflect.Array:
		return buildSliceDecoder(t)

	case reflect.Map:
		return buildMapDecoder(t)

	case reflect.Struct:
		return buildStructDecoder(t)

	default:
		return nil, typeErr(t, "no D-Bus representation available")
	}
}

func addrUnmarshalDecoder() decoderFunc {
	return func(d *Decoder, val reflect.Value) error {
		if !val.CanAddr() {
			return fmt.Errorf("wire: cannot unmarshal into unaddressable value of type %s", val.Type())
		}
		return val.Addr().Interface().(Unmarshaler).UnmarshalDBus(d)
	}
}

func buildSliceDecoder(t reflect.Type) (decoderFunc, error) {
	elemT := t.Elem()

	if elemT.Kind() == reflect.Uint8 && elemT == reflect.TypeFor[uint8]() {
		return func(d *Decoder, val reflect.Value) error {
			bs, err := d.Bytes()
			if err != nil {
				return err
			}
			out := make([]byte, len(bs))
			copy(out, bs)
			val.Set(reflect.ValueOf(out))
			return nil
		}, nil
	}

	elemDec, err := decoderFor(elemT)
	if err != nil {
		return nil, err
	}
	elemSig, err := signatureOf(elemT)
	if err != nil {
		return nil, err
	}
	align := elemSig.Align()

	return func(d *Decoder, val reflect.Value) error {
		slice := reflect.MakeSlice(t, 0, 0)
		n, err := d.Array(align, func(i int) error {
			elem := reflect.New(elemT).Elem()
			if err := elemDec(d, elem); err != nil {
				return fmt.Errorf("array element %d: %w", i, err)
			}
			slice = reflect.Append(slice, elem)
			return nil
		})
		if err != nil {
			return err
		}
		_ = n
		val.Set(slice)
		return nil
	}, nil
}

func buildMapDecoder(t reflect.Type) (decoderFunc, error) {
	keyT, valT := t.Key(), t.Elem()
	keyDec, err := decoderFor(keyT)
	if err != nil {
		return nil, err
	}
	valDec, err := decoderFor(valT)
	if err != nil {
		return nil, err
	}
	return func(d *Decoder, val reflect.Value) error {
		m := reflect.MakeMap(t)
		_, err := d.Array(8, func(i int) error {
			k := reflect.New(keyT).Elem()
			v := reflect.New(valT).Elem()
			if err := d.Struct(func() error {
				if err := keyDec(d, k); err != nil {
					return err
				}
				return valDec(d, v)
			}); err != nil {
				return fmt.Errorf("dict entry %d: %w", i, err)
			}
			m.SetMapIndex(k, v)
			return nil
		})
		if err != nil {
			return err
		}
		val.Set(m)
		return nil
	}, nil
}

func buildStructDecoder(t reflect.Type) (decoderFunc, error) {
	info, err := getStructInfo(t)
	if err != nil {
		return nil, typeErr(t, "inspecting struct: %v", err)
	}
	if len(info.Fields) == 0 {
		return nil, typeErr(t, "struct has no exported fields")
	}
	fieldDecs := make([]decoderFunc, len(info.Fields))
	for i, f := range info.Fields {
		dec, err := decoderFor(f.Type)
		if err != nil {
			return nil, err
		}
		fieldDecs[i] = dec
	}
	fields := info.Fields
	return func(d *Decoder, val reflect.Value) error {
		return d.Struct(func() error {
			for i, f := range fields {
				fv := fieldByIndexPath(val, f)
				if err := fieldDecs[i](d, fv); err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
			}
			return nil
		})
	}, nil
}
