package wire

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"unicode/utf8"

	"busline.dev/dbus/fdtable"
)

// Marshal encodes v into a new byte buffer in the given byte order,
// using fds to record any UnixFD values encountered. fds may be nil
// if v is known not to contain file descriptors.
func Marshal(v any, order ByteOrder, fds *fdtable.Table) ([]byte, error) {
	enc, err := encoderFor(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	e := &Encoder{Order: order, FDs: fds}
	if err := enc(e, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return e.Out, nil
}

// encoderFunc writes val (of a fixed, pre-resolved type) to e.
type encoderFunc func(e *Encoder, val reflect.Value) error

var encoders cache[reflect.Type, encoderFunc]

// encoderFor returns the encoderFunc for t, building and caching it
// on first use. The cache also detects recursive type definitions,
// which D-Bus cannot represent.
func encoderFor(t reflect.Type) (encoderFunc, error) {
	if ret, err := encoders.Get(t); err == nil {
		return ret, nil
	} else if errors.Is(err, errRecursive) {
		return nil, typeErr(t, "recursive type cannot be represented in D-Bus")
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	fn, err := buildEncoder(t)
	if err != nil {
		encoders.SetErr(t, err)
		return nil, err
	}
	encoders.Set(t, fn)
	return fn, nil
}

func buildEncoder(t reflect.Type) (encoderFunc, error) {
	if t == nil {
		return nil, typeErr(nil, "nil type")
	}

	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType) {
		return addrMarshalEncoder(t), nil
	}
	if t.Implements(marshalerType) {
		return valueMarshalEncoder(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elemEnc, err := encoderFor(t.Elem())
		if err != nil {
			return nil, err
		}
		return func(e *Encoder, val reflect.Value) error {
			if val.IsNil() {
				zero := reflect.New(t.Elem()).Elem()
				return elemEnc(e, zero)
			}
			return elemEnc(e, val.Elem())
		}, nil

	case reflect.Interface:
		return func(e *Encoder, val reflect.Value) error {
			if val.IsNil() {
				return typeErr(t, "cannot marshal nil interface value")
			}
			inner := val.Elem()
			v := Variant{Value: inner.Interface()}
			return v.MarshalDBus(e)
		}, nil

	case reflect.Bool:
		return func(e *Encoder, val reflect.Value) error {
			e.Bool(val.Bool())
			return nil
		}, nil
	case reflect.Uint8:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint8(uint8(val.Uint()))
			return nil
		}, nil
	case reflect.Int16:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint16(uint16(val.Int()))
			return nil
		}, nil
	case reflect.Uint16:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint16(uint16(val.Uint()))
			return nil
		}, nil
	case reflect.Int32:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint32(uint32(val.Int()))
			return nil
		}, nil
	case reflect.Uint32:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint32(uint32(val.Uint()))
			return nil
		}, nil
	case reflect.Int64:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint64(uint64(val.Int()))
			return nil
		}, nil
	case reflect.Uint64:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint64(val.Uint())
			return nil
		}, nil
	case reflect.Float64:
		return func(e *Encoder, val reflect.Value) error {
			e.Uint64(math.Float64bits(val.Float()))
			return nil
		}, nil
	case reflect.String:
		return func(e *Encoder, val reflect.Value) error {
			s := val.String()
			if err := validateStringValue(s); err != nil {
				return err
			}
			e.String(s)
			return nil
		}, nil

	case reflect.Slice, reflect.Array:
		return buildSliceEncoder(t)

	case reflect.Map:
		return buildMapEncoder(t)

	case reflect.Struct:
		return buildStructEncoder(t)

	default:
		return nil, typeErr(t, "no D-Bus representation available")
	}
}

func validateStringValue(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return ErrStringContainsNullByte
		}
	}
	return nil
}

func addrMarshalEncoder(t reflect.Type) encoderFunc {
	return func(e *Encoder, val reflect.Value) error {
		var addr reflect.Value
		if val.CanAddr() {
			addr = val.Addr()
		} else {
			addr = reflect.New(t)
			addr.Elem().Set(val)
		}
		return addr.Interface().(Marshaler).MarshalDBus(e)
	}
}

func valueMarshalEncoder() encoderFunc {
	return func(e *Encoder, val reflect.Value) error {
		return val.Interface().(Marshaler).MarshalDBus(e)
	}
}

func buildSliceEncoder(t reflect.Type) (encoderFunc, error) {
	elemT := t.Elem()

	if elemT.Kind() == reflect.Uint8 && elemT == reflect.TypeFor[uint8]() {
		return func(e *Encoder, val reflect.Value) error {
			bs := val.Bytes()
			e.Pad(4)
			e.Uint32(uint32(len(bs)))
			e.Out = append(e.Out, bs...)
			return nil
		}, nil
	}

	elemEnc, err := encoderFor(elemT)
	if err != nil {
		return nil, err
	}
	elemSig, err := signatureOf(elemT)
	if err != nil {
		return nil, err
	}
	align := elemSig.Align()

	return func(e *Encoder, val reflect.Value) error {
		n := val.Len()
		return e.Array(align, func() error {
			for i := 0; i < n; i++ {
				if err := elemEnc(e, val.Index(i)); err != nil {
					return fmt.Errorf("array element %d: %w", i, err)
				}
			}
			return nil
		})
	}, nil
}

func buildMapEncoder(t reflect.Type) (encoderFunc, error) {
	keyEnc, err := encoderFor(t.Key())
	if err != nil {
		return nil, err
	}
	valEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	return func(e *Encoder, val reflect.Value) error {
		keys := val.MapKeys()
		slices.SortFunc(keys, compareReflect)
		return e.Array(8, func() error {
			for _, k := range keys {
				if err := e.Struct(func() error {
					if err := keyEnc(e, k); err != nil {
						return err
					}
					return valEnc(e, val.MapIndex(k))
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

func buildStructEncoder(t reflect.Type) (encoderFunc, error) {
	info, err := getStructInfo(t)
	if err != nil {
		return nil, typeErr(t, "inspecting struct: %v", err)
	}
	if len(info.Fields) == 0 {
		return nil, typeErr(t, "struct has no exported fields")
	}
	fieldEncs := make([]encoderFunc, len(info.Fields))
	for i, f := range info.Fields {
		enc, err := encoderFor(f.Type)
		if err != nil {
			return nil, err
		}
		fieldEncs[i] = enc
	}
	fields := info.Fields
	return func(e *Encoder, val reflect.Value) error {
		return e.Struct(func() error {
			for i, f := range fields {
				fv := fieldByIndexPath(val, f)
				if err := fieldEncs[i](e, fv); err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
			}
			return nil
		})
	}, nil
}

func fieldByIndexPath(val reflect.Value, f reflect.StructField) reflect.Value {
	if len(f.Index) > 0 {
		return val.FieldByIndex(f.Index)
	}
	return val.FieldByName(f.Name)
}

// compareReflect orders map keys of any valid D-Bus dict-key kind.
// Map iteration order is unspecified in Go; sorting keys makes the
// encoded dict byte-for-byte reproducible across runs.
func compareReflect(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.Bool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		default:
			return 1
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cmpOrdered(a.Uint(), b.Uint())
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return cmpOrdered(a.Int(), b.Int())
	case reflect.Float64:
		return cmpOrdered(a.Float(), b.Float())
	case reflect.String:
		return cmpOrdered(a.String(), b.String())
	default:
		return 0
	}
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
