package wire

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte order capable of both reading and writing
// multi-byte wire values, and of reporting the D-Bus endianness flag
// byte ('l' or 'B') that corresponds to it.
type ByteOrder interface {
	byteOrder
	Flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) Flag() byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder")
	}
}

// BigEndian, LittleEndian and NativeEndian are the three byte orders
// a D-Bus connection can encounter. The wire format's own flag byte
// only distinguishes big/little; NativeEndian is whichever of the two
// the host uses, and its Flag reports the matching byte.
var (
	BigEndian    ByteOrder = wrapStd{binary.BigEndian}
	LittleEndian ByteOrder = wrapStd{binary.LittleEndian}
	NativeEndian ByteOrder = wrapStd{binary.NativeEndian}
)

// OrderForFlag returns the ByteOrder corresponding to a wire
// endianness flag byte ('l' or 'B').
func OrderForFlag(flag byte) (ByteOrder, bool) {
	switch flag {
	case 'l':
		return LittleEndian, true
	case 'B':
		return BigEndian, true
	default:
		return nil, false
	}
}
