package wire

import (
	"busline.dev/dbus/fdtable"
)

// Decoder reads D-Bus wire format bytes from an input buffer.
//
// Unlike an io.Reader-based decoder, Decoder holds the entire message
// body as a slice and tracks a cursor into it, so that byte arrays
// (Bytes, Read) can be decoded as sub-slices of the input without
// copying. Decoder corresponds to the design's
// "unmarshal context": byte order, input slice, cursor, and a view of
// the message's incoming fd table.
type Decoder struct {
	// Order is the byte order used for multi-byte values.
	Order ByteOrder
	// In is the input buffer. Pos indexes into it.
	In []byte
	// Pos is the current read cursor, also used as the "global
	// offset" that alignment padding is computed against.
	Pos int
	// FDs is the incoming message's fd table, consulted by UnixFD.
	FDs *fdtable.Table
}

// Align consumes padding bytes as needed to make the next read start
// at a multiple of align bytes (relative to the start of In, since Pos
// indexes into In). It is an error for any padding byte to be
// non-zero.
func (d *Decoder) Align(align int) error {
	extra := d.Pos % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	bs, err := d.take(skip)
	if err != nil {
		return err
	}
	for _, b := range bs {
		if b != 0 {
			return ErrPaddingContainedData
		}
	}
	return nil
}

// take advances the cursor by n bytes and returns a slice view onto
// them (no copy).
func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.In)-d.Pos < n {
		return nil, ErrNotEnoughBytes
	}
	bs := d.In[d.Pos : d.Pos+n]
	d.Pos += n
	return bs, nil
}

// Read consumes n bytes verbatim (no alignment, no framing) and
// returns a slice view onto them. The returned slice aliases the
// Decoder's input buffer and must not be retained past the buffer's
// lifetime unless copied.
func (d *Decoder) Read(n int) ([]byte, error) {
	return d.take(n)
}

// Bytes reads a D-Bus byte array: a u32 length followed by that many
// raw bytes.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.take(int(n))
}

// String reads a D-Bus string or object path: a u32 length, that many
// bytes, and a trailing nul (consumed but not returned).
//
// The returned string always copies out of the input buffer (Go
// strings must be immutable, so this cannot alias In).
func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	bs, err := d.take(int(n) + 1)
	if err != nil {
		return "", err
	}
	return string(bs[:len(bs)-1]), nil
}

// Signature reads a D-Bus signature wrapper: a 1-byte length, that
// many bytes, and a trailing nul.
func (d *Decoder) Signature() (string, error) {
	n, err := d.Uint8()
	if err != nil {
		return "", err
	}
	bs, err := d.take(int(n) + 1)
	if err != nil {
		return "", err
	}
	return string(bs[:len(bs)-1]), nil
}

// Uint8 reads a single byte.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Bool reads a D-Bus boolean (a 4-byte integer that must be 0 or 1).
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBoolean
	}
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Align(2); err != nil {
		return 0, err
	}
	bs, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Align(4); err != nil {
		return 0, err
	}
	bs, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Align(8); err != nil {
		return 0, err
	}
	bs, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// UnixFD reads a u32 fd-table index and returns a cloned reference to
// the corresponding entry in d.FDs. The reference is independent: the
// caller may Close or Detach it without affecting the message's other
// references to the same descriptor.
func (d *Decoder) UnixFD() (fdtable.Ref, error) {
	idx, err := d.Uint32()
	if err != nil {
		return fdtable.Ref{}, err
	}
	if d.FDs == nil {
		return fdtable.Ref{}, ErrBadFdIndex
	}
	ref, ok := d.FDs.At(idx)
	if !ok {
		return fdtable.Ref{}, ErrBadFdIndex
	}
	return ref, nil
}

// Array reads a D-Bus array. readElement is called repeatedly, once
// per array element, with the index of the element being decoded; it
// must consume exactly that element's bytes.
//
// elemAlign is the element type's alignment in bytes; the array's
// internal length-prefix-to-first-element padding is consumed
// accordingly, even for an empty array.
func (d *Decoder) Array(elemAlign int, readElement func(i int) error) (int, error) {
	n, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if err := d.Align(elemAlign); err != nil {
		return 0, err
	}
	end := d.Pos + int(n)
	if end > len(d.In) {
		return 0, ErrNotEnoughBytes
	}
	i := 0
	for d.Pos < end {
		if err := readElement(i); err != nil {
			return i, err
		}
		i++
	}
	if d.Pos != end {
		return i, ErrNotAllBytesUsed
	}
	return i, nil
}

// Struct reads a D-Bus struct: aligns to 8 bytes, then calls fields to
// read the struct's own fields.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Align(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads the wire endianness flag byte and sets d.Order
// to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	order, ok := OrderForFlag(v)
	if !ok {
		return ErrInvalidByteOrder
	}
	d.Order = order
	return nil
}

// Remaining reports how many unconsumed bytes are left in the input.
func (d *Decoder) Remaining() int {
	return len(d.In) - d.Pos
}
