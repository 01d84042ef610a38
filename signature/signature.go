// Package signature implements the D-Bus type signature language:
// parsing, validation, rendering and alignment of type strings.
//
// A signature is a compact textual encoding of a tree of D-Bus types.
// This package models that tree as [Type] values, independent of any
// particular Go representation for the values those types describe.
package signature

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one node of a signature tree.
type Kind byte

const (
	KindInvalid Kind = iota

	// Base kinds.
	KindByte
	KindBool
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindObjectPath
	KindSignature
	KindUnixFD

	// Container kinds.
	KindArray
	KindDict
	KindStruct
	KindVariant
)

// String returns the D-Bus type code for simple kinds, or a
// descriptive name for container kinds.
func (k Kind) String() string {
	switch k {
	case KindByte:
		return "y"
	case KindBool:
		return "b"
	case KindInt16:
		return "n"
	case KindUint16:
		return "q"
	case KindInt32:
		return "i"
	case KindUint32:
		return "u"
	case KindInt64:
		return "x"
	case KindUint64:
		return "t"
	case KindDouble:
		return "d"
	case KindString:
		return "s"
	case KindObjectPath:
		return "o"
	case KindSignature:
		return "g"
	case KindUnixFD:
		return "h"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindStruct:
		return "struct"
	case KindVariant:
		return "v"
	default:
		return "invalid"
	}
}

// IsBase reports whether k is a base (non-container) type, the only
// kind permitted as a dict key.
func (k Kind) IsBase() bool {
	switch k {
	case KindByte, KindBool, KindInt16, KindUint16, KindInt32, KindUint32,
		KindInt64, KindUint64, KindDouble, KindString, KindObjectPath,
		KindSignature, KindUnixFD:
		return true
	default:
		return false
	}
}

// Type is one node of a D-Bus signature tree: either a base type, or
// a container (Array, Dict, Struct, Variant) with sub-types.
type Type struct {
	Kind Kind
	// Sub holds the element type for Array (len 1), the key and value
	// types for Dict (len 2, key first), and the field types for
	// Struct (len >= 1). Unused for base kinds and Variant.
	Sub []Type
}

// Elem returns the array element type. Panics if Kind != KindArray.
func (t Type) Elem() Type {
	if t.Kind != KindArray {
		panic("Elem called on non-array Type")
	}
	return t.Sub[0]
}

// DictKey returns the dict key type. Panics if Kind != KindDict.
func (t Type) DictKey() Type {
	if t.Kind != KindDict {
		panic("DictKey called on non-dict Type")
	}
	return t.Sub[0]
}

// DictValue returns the dict value type. Panics if Kind != KindDict.
func (t Type) DictValue() Type {
	if t.Kind != KindDict {
		panic("DictValue called on non-dict Type")
	}
	return t.Sub[1]
}

// Fields returns the struct field types. Panics if Kind != KindStruct.
func (t Type) Fields() []Type {
	if t.Kind != KindStruct {
		panic("Fields called on non-struct Type")
	}
	return t.Sub
}

// Align returns the wire alignment, in bytes, of values of type t.
func (t Type) Align() int {
	switch t.Kind {
	case KindByte, KindSignature:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindBool, KindUnixFD, KindString, KindObjectPath, KindArray, KindDict:
		return 4
	case KindInt64, KindUint64, KindDouble, KindStruct:
		return 8
	case KindVariant:
		return 1
	default:
		return 1
	}
}

// String renders t as a D-Bus signature string.
func (t Type) String() string {
	var sb strings.Builder
	t.appendString(&sb)
	return sb.String()
}

func (t Type) appendString(sb *strings.Builder) {
	switch t.Kind {
	case KindArray:
		sb.WriteByte('a')
		t.Sub[0].appendString(sb)
	case KindDict:
		sb.WriteString("a{")
		t.Sub[0].appendString(sb)
		t.Sub[1].appendString(sb)
		sb.WriteByte('}')
	case KindStruct:
		sb.WriteByte('(')
		for _, f := range t.Sub {
			f.appendString(sb)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString(t.Kind.String())
	}
}

// Errors returned by Parse and by signature construction helpers.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNestingTooDeep   = errors.New("signature nested too deep")
	ErrSignatureTooLong = errors.New("signature exceeds 255 bytes")
	ErrEmptySignature   = errors.New("signature is empty")
	ErrShouldBeBaseType = errors.New("dict key must be a base type")
)

// MaxLength is the maximum length, in bytes, of a rendered signature
// string.
const MaxLength = 255

// MaxDepth is the maximum nesting depth for struct and array
// containers, tracked independently.
const MaxDepth = 32

var baseKinds = map[byte]Kind{
	'y': KindByte,
	'b': KindBool,
	'n': KindInt16,
	'q': KindUint16,
	'i': KindInt32,
	'u': KindUint32,
	'x': KindInt64,
	't': KindUint64,
	'd': KindDouble,
	's': KindString,
	'o': KindObjectPath,
	'g': KindSignature,
	'h': KindUnixFD,
	'v': KindVariant,
}

// Parse parses a complete D-Bus signature string, which may describe
// zero or more complete types concatenated together (as in a message
// body signature). The result is a KindStruct Type whose fields are
// the parsed types, unless the input is empty (returns the zero
// Type) or describes exactly one type (returned directly, not
// wrapped).
func Parse(sig string) (Type, error) {
	if len(sig) > MaxLength {
		return Type{}, ErrSignatureTooLong
	}
	var parts []Type
	rest := sig
	for rest != "" {
		var (
			t   Type
			err error
		)
		t, rest, err = parseOne(rest, &depth{})
		if err != nil {
			return Type{}, fmt.Errorf("parsing signature %q: %w", sig, err)
		}
		parts = append(parts, t)
	}
	switch len(parts) {
	case 0:
		return Type{}, nil
	case 1:
		return parts[0], nil
	default:
		return Type{Kind: KindStruct, Sub: parts}, nil
	}
}

// ParseOne parses exactly one complete type from the front of sig,
// and returns the parsed type along with the unconsumed remainder.
// It returns ErrEmptySignature if sig is empty. Types after the first
// are left in the remainder rather than reported as an error; callers
// that want "one type, nothing else" should check that the returned
// remainder is empty.
func ParseOne(sig string) (t Type, rest string, err error) {
	if len(sig) > MaxLength {
		return Type{}, "", ErrSignatureTooLong
	}
	return parseOne(sig, &depth{})
}

type depth struct {
	structDepth int
	arrayDepth  int
}

func parseOne(sig string, d *depth) (Type, string, error) {
	if sig == "" {
		return Type{}, "", ErrEmptySignature
	}

	c := sig[0]
	if k, ok := baseKinds[c]; ok {
		return Type{Kind: k}, sig[1:], nil
	}

	switch c {
	case 'a':
		d.arrayDepth++
		if d.arrayDepth > MaxDepth {
			return Type{}, "", ErrNestingTooDeep
		}
		defer func() { d.arrayDepth-- }()

		if len(sig) > 1 && sig[1] == '{' {
			return parseDict(sig[1:], d)
		}
		elem, rest, err := parseOne(sig[1:], d)
		if err != nil {
			return Type{}, "", err
		}
		return Type{Kind: KindArray, Sub: []Type{elem}}, rest, nil

	case '(':
		d.structDepth++
		if d.structDepth > MaxDepth {
			return Type{}, "", ErrNestingTooDeep
		}
		defer func() { d.structDepth-- }()

		var fields []Type
		rest := sig[1:]
		for {
			if rest == "" {
				return Type{}, "", fmt.Errorf("%w: missing closing ) in struct", ErrInvalidSignature)
			}
			if rest[0] == ')' {
				rest = rest[1:]
				break
			}
			var (
				f   Type
				err error
			)
			f, rest, err = parseOne(rest, d)
			if err != nil {
				return Type{}, "", err
			}
			fields = append(fields, f)
		}
		if len(fields) == 0 {
			return Type{}, "", fmt.Errorf("%w: struct must have at least one field", ErrInvalidSignature)
		}
		return Type{Kind: KindStruct, Sub: fields}, rest, nil

	case '{':
		return Type{}, "", fmt.Errorf("%w: dict entry found outside array", ErrInvalidSignature)
	case ')', '}':
		return Type{}, "", fmt.Errorf("%w: unexpected %q", ErrInvalidSignature, c)
	default:
		return Type{}, "", fmt.Errorf("%w: unknown type code %q", ErrInvalidSignature, c)
	}
}

// parseDict parses a "{kv}" dict-entry type that must immediately
// follow the 'a' that introduces it. sig starts at '{'.
func parseDict(sig string, d *depth) (Type, string, error) {
	if sig == "" || sig[0] != '{' {
		return Type{}, "", fmt.Errorf("%w: expected {", ErrInvalidSignature)
	}
	key, rest, err := parseOne(sig[1:], d)
	if err != nil {
		return Type{}, "", err
	}
	if !key.Kind.IsBase() {
		return Type{}, "", ErrShouldBeBaseType
	}
	val, rest, err := parseOne(rest, d)
	if err != nil {
		return Type{}, "", err
	}
	if rest == "" || rest[0] != '}' {
		return Type{}, "", fmt.Errorf("%w: missing closing } in dict entry", ErrInvalidSignature)
	}
	return Type{Kind: KindDict, Sub: []Type{key, val}}, rest[1:], nil
}

// Validate checks that t's textual rendering does not exceed
// MaxLength, and that its nesting does not exceed MaxDepth. Types
// built by hand (rather than via Parse) should call Validate before
// being marshalled, since Parse's depth/length checks happen as it
// goes and cannot be bypassed, but hand-built trees can.
func Validate(t Type) error {
	if s := t.String(); len(s) > MaxLength {
		return ErrSignatureTooLong
	}
	if err := validateDepth(t, 0, 0); err != nil {
		return err
	}
	return nil
}

func validateDepth(t Type, structDepth, arrayDepth int) error {
	switch t.Kind {
	case KindArray:
		arrayDepth++
		if arrayDepth > MaxDepth {
			return ErrNestingTooDeep
		}
		return validateDepth(t.Sub[0], structDepth, arrayDepth)
	case KindDict:
		arrayDepth++
		if arrayDepth > MaxDepth {
			return ErrNestingTooDeep
		}
		if !t.Sub[0].Kind.IsBase() {
			return ErrShouldBeBaseType
		}
		return validateDepth(t.Sub[1], structDepth, arrayDepth)
	case KindStruct:
		structDepth++
		if structDepth > MaxDepth {
			return ErrNestingTooDeep
		}
		if len(t.Sub) == 0 {
			return fmt.Errorf("%w: struct must have at least one field", ErrInvalidSignature)
		}
		for _, f := range t.Sub {
			if err := validateDepth(f, structDepth, arrayDepth); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// Buffer is a small string builder used by static types to emit their
// signature without always allocating. Pushing a constant string into
// an empty Buffer stores it without copying; any further push forces
// a copy into a growable buffer.
type Buffer struct {
	lit   string
	extra strings.Builder
	used  bool
}

// PushString appends s to the buffer.
func (b *Buffer) PushString(s string) {
	if !b.used && b.extra.Len() == 0 {
		b.lit = s
		b.used = true
		return
	}
	b.migrate()
	b.extra.WriteString(s)
}

// PushByte appends a single byte to the buffer.
func (b *Buffer) PushByte(c byte) {
	b.migrate()
	b.extra.WriteByte(c)
}

func (b *Buffer) migrate() {
	if b.lit != "" && b.extra.Len() == 0 {
		b.extra.WriteString(b.lit)
		b.lit = ""
	}
	b.used = true
}

// String returns the buffer's accumulated contents.
func (b *Buffer) String() string {
	if b.extra.Len() == 0 {
		return b.lit
	}
	return b.extra.String()
}
