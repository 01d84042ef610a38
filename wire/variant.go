package wire

import (
	"fmt"
	"reflect"

	"busline.dev/dbus/signature"
)

// Variant holds a value of any D-Bus type, known only at runtime. It
// corresponds to the wire "variant" basic type: a self-describing
// value prefixed by its own signature.
//
// Marshalling a Variant computes the signature of its Value field via
// [SignatureOf]; unmarshalling allocates a new value of the Go type
// corresponding to the wire signature and decodes into it.
type Variant struct {
	Value any
}

var variantSig = signature.Type{Kind: signature.KindVariant}

func (Variant) SignatureDBus() signature.Type { return variantSig }
func (Variant) IsDBusStruct() bool            { return false }

func (v Variant) MarshalDBus(e *Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return err
	}
	if err := e.Signature(sig.String()); err != nil {
		return err
	}
	enc, err := encoderFor(reflect.TypeOf(v.Value))
	if err != nil {
		return err
	}
	return enc(e, reflect.ValueOf(v.Value))
}

func (v *Variant) UnmarshalDBus(d *Decoder) error {
	sigStr, err := d.Signature()
	if err != nil {
		return fmt.Errorf("wire: reading variant signature: %w", err)
	}
	sig, err := signature.Parse(sigStr)
	if err != nil {
		return fmt.Errorf("wire: variant has invalid signature %q: %w", sigStr, err)
	}
	t, err := goTypeForSignature(sig)
	if err != nil {
		return fmt.Errorf("wire: %w: no Go type available for signature %q", ErrNoMatchingVariantFound, sigStr)
	}
	dec, err := decoderFor(t)
	if err != nil {
		return err
	}
	val := reflect.New(t)
	if err := dec(d, val.Elem()); err != nil {
		return fmt.Errorf("wire: decoding variant value (signature %q): %w", sigStr, err)
	}
	v.Value = val.Elem().Interface()
	return nil
}

// RawVariant is a variant value whose contents are not decoded until
// [RawVariant.Get] is called. It holds a reference to the decoder's
// input buffer rather than copying the variant's body, matching the
// design's "parallel variant capability" that defers decoding.
//
// A RawVariant is produced either by unmarshalling or by
// NewRawVariant, which wraps a Go value for marshalling.
type RawVariant struct {
	sig  signature.Type
	body []byte
	// order is the byte order the body was encoded/received in.
	order ByteOrder
}

// NewRawVariant wraps value for later marshalling as a variant. It
// computes the signature and encodes the value now, in native byte
// order; MarshalDBus copies those bytes, or re-encodes them when the
// target byte order differs.
func NewRawVariant(value any) (RawVariant, error) {
	sig, err := SignatureOf(value)
	if err != nil {
		return RawVariant{}, err
	}
	var e Encoder
	e.Order = NativeEndian
	enc, err := encoderFor(reflect.TypeOf(value))
	if err != nil {
		return RawVariant{}, err
	}
	if err := enc(&e, reflect.ValueOf(value)); err != nil {
		return RawVariant{}, err
	}
	return RawVariant{sig: sig, body: e.Out, order: e.Order}, nil
}

func (RawVariant) SignatureDBus() signature.Type { return variantSig }
func (RawVariant) IsDBusStruct() bool            { return false }

func (v RawVariant) MarshalDBus(e *Encoder) error {
	if err := e.Signature(v.sig.String()); err != nil {
		return err
	}
	e.Pad(v.sig.Align())
	if v.order == e.Order {
		e.Out = append(e.Out, v.body...)
		return nil
	}
	// Byte order mismatch: re-decode with the stored order and
	// re-encode with the target order. Writing in a non-native order
	// is out of the fast path but still correct.
	t, err := goTypeForSignature(v.sig)
	if err != nil {
		return err
	}
	dec, err := decoderFor(t)
	if err != nil {
		return err
	}
	rd := &Decoder{Order: v.order, In: v.body, FDs: e.FDs}
	val := reflect.New(t)
	if err := dec(rd, val.Elem()); err != nil {
		return err
	}
	enc, err := encoderFor(t)
	if err != nil {
		return err
	}
	return enc(e, val.Elem())
}

func (v *RawVariant) UnmarshalDBus(d *Decoder) error {
	sigStr, err := d.Signature()
	if err != nil {
		return err
	}
	sig, err := signature.Parse(sigStr)
	if err != nil {
		return err
	}
	if err := d.Align(sig.Align()); err != nil {
		return err
	}
	// We don't know the exact body length without decoding it, so
	// decode once into a throwaway value to find the consumed extent,
	// then keep only the byte range as the lazy body.
	t, err := goTypeForSignature(sig)
	if err != nil {
		return fmt.Errorf("wire: %w: no Go type available for signature %q", ErrNoMatchingVariantFound, sigStr)
	}
	dec, err := decoderFor(t)
	if err != nil {
		return err
	}
	start := d.Pos
	val := reflect.New(t)
	if err := dec(d, val.Elem()); err != nil {
		return err
	}
	v.sig = sig
	v.body = d.In[start:d.Pos]
	v.order = d.Order
	return nil
}

// Signature returns the signature of the variant's contained value.
func (v RawVariant) Signature() signature.Type { return v.sig }

// Get decodes the variant's contents into a new value of type T. The
// variant's declared signature must equal T's signature, or Get
// returns [ErrWrongSignature].
func Get[T any](v RawVariant) (T, error) {
	var zero T
	want, err := SignatureFor[T]()
	if err != nil {
		return zero, err
	}
	if want.String() != v.sig.String() {
		return zero, fmt.Errorf("%w: variant has signature %q, want %q", ErrWrongSignature, v.sig, want)
	}
	dec, err := decoderFor(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	rd := &Decoder{Order: v.order, In: v.body}
	out := reflect.New(reflect.TypeFor[T]())
	if err := dec(rd, out.Elem()); err != nil {
		return zero, err
	}
	return out.Elem().Interface().(T), nil
}
