// Package wire implements the D-Bus byte codec (alignment-aware
// integer, string and signature framing) and the capability-driven
// marshal/unmarshal trait surface that lets Go types describe their
// own D-Bus signature, alignment and wire representation.
//
// Most callers only need [Marshal] and [Unmarshal]. Implementing
// [Marshaler]/[Unmarshaler] directly is for types with a custom wire
// representation; everything else is handled by the package's
// built-in support for Go's primitive, slice, map and struct kinds.
package wire

import (
	"busline.dev/dbus/signature"
)

// Type is the capability common to every value with a well-defined
// D-Bus wire representation: it knows its own signature and
// alignment without needing an instance (both methods are called on
// zero values, and must return constant results for a given Go
// type).
type Type interface {
	// SignatureDBus returns the D-Bus type signature of this value.
	SignatureDBus() signature.Type
	// IsDBusStruct reports whether this value marshals as a D-Bus
	// struct (and therefore needs 8-byte alignment at its start, even
	// though the signature kind might be a bare base type wrapper).
	IsDBusStruct() bool
}

// Marshaler is implemented by types that encode themselves to the
// D-Bus wire format.
//
// MarshalDBus must align e's output to the type's own alignment
// before writing any content, except when writing the fields of a
// struct, where the struct's Encoder.Struct call already aligned to
// 8 on the caller's behalf.
type Marshaler interface {
	Type
	MarshalDBus(e *Encoder) error
}

// Unmarshaler is implemented by types that decode themselves from the
// D-Bus wire format. Implementations must use a pointer receiver.
//
// UnmarshalDBus must align d's cursor to the type's own alignment
// before reading any content (Decoder.Align rejects non-zero padding
// automatically), except when reading struct fields, where
// Decoder.Struct has already aligned to 8.
type Unmarshaler interface {
	Type
	UnmarshalDBus(d *Decoder) error
}

// FastArray is an opt-in, unsafe capability for element types whose
// in-memory layout, when the host's native byte order matches the
// wire's declared order, is byte-for-byte identical to their D-Bus
// wire representation. The array codec in this package does not
// consult FastArray: arrays are encoded and decoded one element at a
// time whether or not the element type implements it.
//
// A type must only implement FastArray if: its Go size in bytes
// equals its D-Bus alignment (no internal padding), it is Copy (no
// pointers or other indirection), and it carries no external
// resources (e.g. file descriptors) that need separate bookkeeping.
// Nothing in this package checks these conditions.
type FastArray interface {
	// ValidSlice reports whether, under the given wire byte order, a
	// contiguous Go slice of this type can be reinterpreted as wire
	// bytes (or vice versa) via a raw memory copy.
	ValidSlice(order ByteOrder) bool
}
