package wire

import (
	"fmt"
	"os"

	"busline.dev/dbus/fdtable"
)

// Encoder writes D-Bus wire format bytes to an output buffer.
//
// Methods insert padding as needed to conform to D-Bus alignment
// rules, except for [Encoder.Write] which emits bytes verbatim.
// Encoder corresponds to the design's "marshal context": byte order,
// output buffer, and a view onto the message's outgoing fd table.
type Encoder struct {
	// Order is the byte order used for multi-byte values.
	Order ByteOrder
	// Out is the accumulated output.
	Out []byte
	// FDs collects file descriptors referenced by UnixFd values
	// marshalled through this Encoder. Required if the message being
	// built may contain unix fd values.
	FDs *fdtable.Table
}

// Pad appends zero bytes as needed to make len(e.Out) a multiple of
// align. If already aligned, Pad is a no-op.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var zero [8]byte
	e.Out = append(e.Out, zero[:align-extra]...)
}

// Write appends bs to the output with no padding or framing.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Bytes writes a D-Bus byte array (length-prefixed, no trailing nul).
func (e *Encoder) Bytes(bs []byte) {
	e.Pad(4)
	e.Uint32(uint32(len(bs)))
	e.Out = append(e.Out, bs...)
}

// String writes a D-Bus string or object path: 4-byte length, bytes,
// trailing nul. Callers are responsible for validating s (UTF-8, no
// embedded nul, object path syntax) before calling String.
func (e *Encoder) String(s string) {
	e.Pad(4)
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Signature writes a D-Bus signature wrapper value: 1-byte length,
// bytes, trailing nul.
func (e *Encoder) Signature(s string) error {
	if len(s) > 255 {
		return fmt.Errorf("wire: signature %q exceeds maximum length of 255 bytes", s)
	}
	e.Uint8(uint8(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
	return nil
}

// Uint8 writes a single byte.
func (e *Encoder) Uint8(v uint8) {
	e.Out = append(e.Out, v)
}

// Bool writes a D-Bus boolean, encoded as a 4-byte integer 0 or 1.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint32(1)
	} else {
		e.Uint32(0)
	}
}

// Uint16 writes a uint16.
func (e *Encoder) Uint16(v uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, v)
}

// Uint32 writes a uint32.
func (e *Encoder) Uint32(v uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, v)
}

// Uint64 writes a uint64.
func (e *Encoder) Uint64(v uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, v)
}

// UnixFD duplicates file, adds the duplicate to e.FDs (so the message
// being built owns an independent descriptor, per the wire format's
// fd-table contract), and writes its index.
func (e *Encoder) UnixFD(file *os.File) error {
	if e.FDs == nil {
		return fmt.Errorf("wire: cannot marshal unix fd: Encoder has no fd table")
	}
	dup, err := dupFile(file)
	if err != nil {
		return fmt.Errorf("wire: duplicating fd for marshal: %w", err)
	}
	idx := e.FDs.Add(dup)
	e.Uint32(idx)
	return nil
}

// Array writes a D-Bus array: a u32 length (the byte length of the
// encoded elements, not counting any padding between the length field
// and the first element), followed by padding to the element's
// alignment, followed by the concatenated elements.
//
// elements is called to write the array's contents; it is responsible
// for correctly padding every element to its own alignment. An empty
// array still gets its alignment padding.
func (e *Encoder) Array(elemAlign int, elements func() error) error {
	e.Pad(4)
	lenOffset := len(e.Out)
	e.Uint32(0)
	e.Pad(elemAlign)

	start := len(e.Out)
	if err := elements(); err != nil {
		return err
	}
	end := len(e.Out)
	e.Order.PutUint32(e.Out[lenOffset:], uint32(end-start))
	return nil
}

// Struct writes a D-Bus struct: pads to 8-byte alignment, then calls
// fields to write the struct's own fields.
func (e *Encoder) Struct(fields func() error) error {
	e.Pad(8)
	return fields()
}

// Variant writes a self-describing variant: the value's signature as
// a signature-wrapper frame, followed by the value itself aligned to
// its own alignment.
func (e *Encoder) Variant(sig string, value func() error) error {
	if err := e.Signature(sig); err != nil {
		return err
	}
	return value()
}

// ByteOrderFlag writes the wire endianness flag byte matching e.Order.
func (e *Encoder) ByteOrderFlag() {
	e.Out = append(e.Out, e.Order.Flag())
}
