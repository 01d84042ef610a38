package wire

import (
	"reflect"

	"busline.dev/dbus/signature"
)

var (
	objectPathType = reflect.TypeFor[ObjectPath]()
	sigType        = reflect.TypeFor[Sig]()
	unixFDType     = reflect.TypeFor[UnixFD]()
	variantType    = reflect.TypeFor[Variant]()
	rawVariantType = reflect.TypeFor[RawVariant]()
	anyType        = reflect.TypeFor[any]()

	marshalerType   = reflect.TypeFor[Marshaler]()
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
)

// kindToGoType maps the base D-Bus kinds to the Go type that
// represents them by default.
var kindToGoType = map[signature.Kind]reflect.Type{
	signature.KindByte:       reflect.TypeFor[uint8](),
	signature.KindBool:       reflect.TypeFor[bool](),
	signature.KindInt16:      reflect.TypeFor[int16](),
	signature.KindUint16:     reflect.TypeFor[uint16](),
	signature.KindInt32:      reflect.TypeFor[int32](),
	signature.KindUint32:     reflect.TypeFor[uint32](),
	signature.KindInt64:      reflect.TypeFor[int64](),
	signature.KindUint64:     reflect.TypeFor[uint64](),
	signature.KindDouble:     reflect.TypeFor[float64](),
	signature.KindString:     reflect.TypeFor[string](),
	signature.KindObjectPath: objectPathType,
	signature.KindSignature:  sigType,
	signature.KindUnixFD:     unixFDType,
	signature.KindVariant:    variantType,
}

// goKindToSig maps Go reflect.Kinds onto the D-Bus base kind they
// default to.
var goKindToSig = map[reflect.Kind]signature.Kind{
	reflect.Bool:    signature.KindBool,
	reflect.Uint8:   signature.KindByte,
	reflect.Int16:   signature.KindInt16,
	reflect.Uint16:  signature.KindUint16,
	reflect.Int32:   signature.KindInt32,
	reflect.Uint32:  signature.KindUint32,
	reflect.Int64:   signature.KindInt64,
	reflect.Uint64:  signature.KindUint64,
	reflect.Float64: signature.KindDouble,
	reflect.String:  signature.KindString,
}

// mapKeyKinds is the set of Go kinds that can be D-Bus dict keys (the
// kinds that correspond to D-Bus base types).
var mapKeyKinds = map[reflect.Kind]bool{
	reflect.Bool:    true,
	reflect.Uint8:   true,
	reflect.Int16:   true,
	reflect.Uint16:  true,
	reflect.Int32:   true,
	reflect.Uint32:  true,
	reflect.Int64:   true,
	reflect.Uint64:  true,
	reflect.Float64: true,
	reflect.String:  true,
}

// goTypeForSignature returns the default Go type used to decode a
// value with the given wire signature, used by Variant when no
// static type is available.
func goTypeForSignature(sig signature.Type) (reflect.Type, error) {
	switch sig.Kind {
	case signature.KindArray:
		elem, err := goTypeForSignature(sig.Elem())
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case signature.KindDict:
		k, err := goTypeForSignature(sig.DictKey())
		if err != nil {
			return nil, err
		}
		v, err := goTypeForSignature(sig.DictValue())
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(k, v), nil
	case signature.KindStruct:
		fields := make([]reflect.StructField, len(sig.Fields()))
		for i, f := range sig.Fields() {
			ft, err := goTypeForSignature(f)
			if err != nil {
				return nil, err
			}
			fields[i] = reflect.StructField{Name: fieldName(i), Type: ft}
		}
		return reflect.StructOf(fields), nil
	default:
		if t, ok := kindToGoType[sig.Kind]; ok {
			return t, nil
		}
		return nil, errNotFound
	}
}

func fieldName(i int) string {
	const letters = "0123456789"
	if i < 10 {
		return "Field" + string(letters[i])
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{letters[i%10]}, digits...)
		i /= 10
	}
	return "Field" + string(digits)
}
