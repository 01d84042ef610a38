// Package param implements the dynamic D-Bus value tree: a runtime
// representation of a marshalled value that does not require a
// static Go type to describe it, used for introspecting arbitrary
// messages and building messages whose body shape is only known at
// runtime.
package param

import (
	"errors"
	"fmt"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/fdtable"
	"busline.dev/dbus/signature"
)

// Errors returned while building a Param tree by hand.
var (
	ErrArrayElementTypesDiffer = errors.New("param: array elements do not all have the same signature")
	ErrDictKeyTypesDiffer      = errors.New("param: dict keys do not all have the same signature")
	ErrDictValueTypesDiffer    = errors.New("param: dict values do not all have the same signature")
	ErrEmptyArray              = errors.New("param: cannot infer element signature of an empty array without one")
	ErrEmptyDict               = errors.New("param: cannot infer key/value signature of an empty dict without one")
)

// Kind identifies which alternative of the Param union is populated.
type Kind byte

const (
	KindInvalid Kind = iota
	KindBase
	KindArray
	KindStruct
	KindDict
	KindVariant
)

// Param is a dynamically typed D-Bus value: one of a base scalar, an
// array, a struct, a dict, or a variant. It is the value-level analog
// of [signature.Type].
//
// The zero Param is not valid; construct one with the New* functions.
type Param struct {
	kind Kind
	sig  signature.Type

	base any // bool, byte, int16, uint16, int32, uint32, int64, uint64, float64, string, wire.ObjectPath, wire.Sig, fdtable.Ref

	elems   []Param // Array, Struct
	dict    []DictEntry
	variant *Param
}

// DictEntry is one key/value pair of a dict-valued Param.
type DictEntry struct {
	Key   Param
	Value Param
}

// Kind reports which alternative of the union p holds.
func (p Param) Kind() Kind { return p.kind }

// Signature returns the D-Bus signature of p's value.
func (p Param) Signature() signature.Type { return p.sig }

// Base returns the scalar value held by a KindBase Param, as the Go
// type [wire] uses to represent that base kind (bool, uint8, int16,
// uint16, int32, uint32, int64, uint64, float64, string,
// wire.ObjectPath, wire.Sig, or fdtable.Ref). It panics if p is not
// KindBase.
func (p Param) Base() any {
	if p.kind != KindBase {
		panic("param: Base called on non-base Param")
	}
	return p.base
}

// Elems returns the element Params of a KindArray or KindStruct
// Param. It panics otherwise. The returned slice must not be mutated.
func (p Param) Elems() []Param {
	if p.kind != KindArray && p.kind != KindStruct {
		panic("param: Elems called on non-array/struct Param")
	}
	return p.elems
}

// Entries returns the key/value pairs of a KindDict Param. It panics
// otherwise. The returned slice must not be mutated.
func (p Param) Entries() []DictEntry {
	if p.kind != KindDict {
		panic("param: Entries called on non-dict Param")
	}
	return p.dict
}

// Variant returns the wrapped value of a KindVariant Param. It panics
// otherwise.
func (p Param) Variant() Param {
	if p.kind != KindVariant {
		panic("param: Variant called on non-variant Param")
	}
	return *p.variant
}

// AsStruct returns p's fields, in wire order, and true, if p is
// KindStruct. Unlike [Param.Elems] it reports failure via ok instead
// of panicking, for callers that don't statically know p's kind (for
// example, code walking an arbitrary decoded message body).
func (p Param) AsStruct() (fields []Param, ok bool) {
	if p.kind != KindStruct {
		return nil, false
	}
	return p.elems, true
}

// AsArrayOf converts a KindArray Param's elements to T by applying
// convert to each one, in order. It returns ok == false if p is not
// KindArray; convert's error, if any, is returned wrapped with the
// offending element's index.
func AsArrayOf[T any](p Param, convert func(Param) (T, error)) (elems []T, ok bool, err error) {
	if p.kind != KindArray {
		return nil, false, nil
	}
	out := make([]T, len(p.elems))
	for i, e := range p.elems {
		v, err := convert(e)
		if err != nil {
			return nil, true, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, true, nil
}

// NewBase wraps a single base-kind Go value as a Param. v must be one
// of the types listed in [Param.Base]'s doc comment.
func NewBase(v any) (Param, error) {
	k, ok := baseKindOf(v)
	if !ok {
		return Param{}, fmt.Errorf("param: %T is not a valid D-Bus base value", v)
	}
	return Param{kind: KindBase, sig: signature.Type{Kind: k}, base: v}, nil
}

func baseKindOf(v any) (signature.Kind, bool) {
	switch v.(type) {
	case bool:
		return signature.KindBool, true
	case uint8:
		return signature.KindByte, true
	case int16:
		return signature.KindInt16, true
	case uint16:
		return signature.KindUint16, true
	case int32:
		return signature.KindInt32, true
	case uint32:
		return signature.KindUint32, true
	case int64:
		return signature.KindInt64, true
	case uint64:
		return signature.KindUint64, true
	case float64:
		return signature.KindDouble, true
	case string:
		return signature.KindString, true
	case wire.ObjectPath:
		return signature.KindObjectPath, true
	case wire.Sig:
		return signature.KindSignature, true
	case fdtable.Ref:
		return signature.KindUnixFD, true
	default:
		return 0, false
	}
}

// NewArray builds a KindArray Param from elems, which must all share
// the same signature. If elems is empty, elemSig must be provided (a
// zero signature.Type is not a valid element type); non-empty arrays
// ignore elemSig and infer it from elems[0].
func NewArray(elemSig signature.Type, elems []Param) (Param, error) {
	if len(elems) == 0 {
		if elemSig.Kind == signature.KindInvalid {
			return Param{}, ErrEmptyArray
		}
		return Param{kind: KindArray, sig: signature.Type{Kind: signature.KindArray, Sub: []signature.Type{elemSig}}}, nil
	}
	want := elems[0].sig
	for _, e := range elems[1:] {
		if e.sig.String() != want.String() {
			return Param{}, ErrArrayElementTypesDiffer
		}
	}
	cp := append([]Param(nil), elems...)
	return Param{
		kind: KindArray,
		sig:  signature.Type{Kind: signature.KindArray, Sub: []signature.Type{want}},
		elems: cp,
	}, nil
}

// NewStruct builds a KindStruct Param from fields, in wire order.
// Struct must have at least one field.
func NewStruct(fields []Param) (Param, error) {
	if len(fields) == 0 {
		return Param{}, signature.ErrInvalidSignature
	}
	sub := make([]signature.Type, len(fields))
	for i, f := range fields {
		sub[i] = f.sig
	}
	cp := append([]Param(nil), fields...)
	return Param{kind: KindStruct, sig: signature.Type{Kind: signature.KindStruct, Sub: sub}, elems: cp}, nil
}

// NewDict builds a KindDict Param from entries, all of whose keys must
// share one base signature and whose values must share one signature.
// If entries is empty, keySig/valSig must be provided.
func NewDict(keySig, valSig signature.Type, entries []DictEntry) (Param, error) {
	if len(entries) == 0 {
		if keySig.Kind == signature.KindInvalid || valSig.Kind == signature.KindInvalid {
			return Param{}, ErrEmptyDict
		}
		return Param{kind: KindDict, sig: signature.Type{Kind: signature.KindDict, Sub: []signature.Type{keySig, valSig}}}, nil
	}
	wantKey := entries[0].Key.sig
	wantVal := entries[0].Value.sig
	for _, e := range entries[1:] {
		if e.Key.sig.String() != wantKey.String() {
			return Param{}, ErrDictKeyTypesDiffer
		}
		if e.Value.sig.String() != wantVal.String() {
			return Param{}, ErrDictValueTypesDiffer
		}
	}
	if !wantKey.Kind.IsBase() {
		return Param{}, signature.ErrShouldBeBaseType
	}
	cp := append([]DictEntry(nil), entries...)
	return Param{
		kind: KindDict,
		sig:  signature.Type{Kind: signature.KindDict, Sub: []signature.Type{wantKey, wantVal}},
		dict: cp,
	}, nil
}

// NewVariant wraps inner as a KindVariant Param.
func NewVariant(inner Param) Param {
	v := inner
	return Param{kind: KindVariant, sig: signature.Type{Kind: signature.KindVariant}, variant: &v}
}
