package wire

import (
	"fmt"
	"reflect"
	"strings"

	"busline.dev/dbus/signature"
)

type sigEntry struct {
	sig signature.Type
	err error
}

var signatures cache[reflect.Type, sigEntry]

// SignatureFor returns the D-Bus signature of Go type T.
func SignatureFor[T any]() (signature.Type, error) {
	return signatureOf(reflect.TypeFor[T]())
}

// SignatureOf returns the D-Bus signature of v's dynamic type.
func SignatureOf(v any) (signature.Type, error) {
	if v == nil {
		return signature.Type{}, typeErr(nil, "nil interface has no D-Bus signature")
	}
	return signatureOf(reflect.TypeOf(v))
}

// SignatureOfBody returns the flattened D-Bus signature string for v
// when used as a message body. A struct v's exported fields are
// concatenated as independent top-level types, the way a call,
// signal, or reply's arguments are laid out on the wire, rather than
// wrapped in a single nested STRUCT container the way [SignatureOf]
// would render them. A v that isn't a struct (including one whose
// type implements [Marshaler] itself, which controls its own wire
// shape) signs exactly as SignatureOf does.
func SignatureOfBody(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || implementsMarshalUnmarshal(t) {
		sig, err := signatureOf(reflect.TypeOf(v))
		if err != nil {
			return "", err
		}
		return sig.String(), nil
	}

	info, err := getStructInfo(t)
	if err != nil {
		return "", typeErr(t, "inspecting struct: %v", err)
	}
	if len(info.Fields) == 0 {
		return "", typeErr(t, "struct has no exported fields")
	}
	var sb strings.Builder
	for _, f := range info.Fields {
		s, err := signatureOf(f.Type)
		if err != nil {
			return "", err
		}
		sb.WriteString(s.String())
	}
	return sb.String(), nil
}

func signatureOf(t reflect.Type) (signature.Type, error) {
	if ret, err := signatures.Get(t); err == nil {
		return ret.sig, ret.err
	} else if err == errRecursive {
		return signature.Type{}, typeErr(t, "recursive type cannot be represented in D-Bus")
	}
	sig, err := computeSignature(t)
	signatures.Set(t, sigEntry{sig, err})
	return sig, err
}

// TypeError is returned when a Go type cannot be represented in the
// D-Bus wire format.
type TypeError struct {
	Type   string
	Reason string
}

func (e TypeError) Error() string {
	return fmt.Sprintf("wire: type %s cannot be represented in D-Bus: %s", e.Type, e.Reason)
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	name := "<nil>"
	if t != nil {
		name = t.String()
	}
	return TypeError{Type: name, Reason: fmt.Sprintf(reason, args...)}
}

func computeSignature(t reflect.Type) (signature.Type, error) {
	if t == nil {
		return signature.Type{}, typeErr(nil, "nil type")
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pt := reflect.PointerTo(t)

	if pt.Implements(marshalerType) {
		return reflect.New(t).Interface().(Marshaler).SignatureDBus(), nil
	}
	if t.Implements(marshalerType) {
		return reflect.Zero(t).Interface().(Marshaler).SignatureDBus(), nil
	}

	if k, ok := goKindToSig[t.Kind()]; ok {
		return signature.Type{Kind: k}, nil
	}

	switch t.Kind() {
	case reflect.Interface:
		return signature.Type{Kind: signature.KindVariant}, nil
	case reflect.Slice, reflect.Array:
		elem, err := signatureOf(t.Elem())
		if err != nil {
			return signature.Type{}, err
		}
		return signature.Type{Kind: signature.KindArray, Sub: []signature.Type{elem}}, nil
	case reflect.Map:
		k := t.Key()
		if !mapKeyKinds[k.Kind()] {
			return signature.Type{}, typeErr(t, "map key type %s is not a valid D-Bus dict key", k)
		}
		key, err := signatureOf(k)
		if err != nil {
			return signature.Type{}, err
		}
		val, err := signatureOf(t.Elem())
		if err != nil {
			return signature.Type{}, err
		}
		return signature.Type{Kind: signature.KindDict, Sub: []signature.Type{key, val}}, nil
	case reflect.Struct:
		info, err := getStructInfo(t)
		if err != nil {
			return signature.Type{}, typeErr(t, "inspecting struct: %v", err)
		}
		if len(info.Fields) == 0 {
			return signature.Type{}, typeErr(t, "struct has no exported fields")
		}
		sub := make([]signature.Type, len(info.Fields))
		for i, f := range info.Fields {
			s, err := signatureOf(f.Type)
			if err != nil {
				return signature.Type{}, err
			}
			sub[i] = s
		}
		return signature.Type{Kind: signature.KindStruct, Sub: sub}, nil
	default:
		return signature.Type{}, typeErr(t, "no D-Bus representation available")
	}
}
