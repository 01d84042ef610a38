package wire

import (
	"fmt"
	"os"

	"busline.dev/dbus/fdtable"
	"busline.dev/dbus/signature"
)

// ObjectPath is a D-Bus object path value ("o"). Validity (leading
// slash, non-empty alphanumeric/underscore segments) is enforced by
// package message's ValidateObjectPath; this package only knows how
// to put its bytes on the wire.
type ObjectPath string

var objectPathSig = signature.Type{Kind: signature.KindObjectPath}

func (ObjectPath) SignatureDBus() signature.Type { return objectPathSig }
func (ObjectPath) IsDBusStruct() bool            { return false }

func (o ObjectPath) MarshalDBus(e *Encoder) error {
	e.Pad(4)
	e.String(string(o))
	return nil
}

func (o *ObjectPath) UnmarshalDBus(d *Decoder) error {
	if err := d.Align(4); err != nil {
		return err
	}
	s, err := d.String()
	if err != nil {
		return err
	}
	*o = ObjectPath(s)
	return nil
}

// Sig is a D-Bus signature-wrapper value ("g") — a signature string
// carried as data, distinct from [signature.Type] which describes the
// *type* of a value rather than being a value itself.
type Sig string

var sigSig = signature.Type{Kind: signature.KindSignature}

func (Sig) SignatureDBus() signature.Type { return sigSig }
func (Sig) IsDBusStruct() bool            { return false }

func (s Sig) MarshalDBus(e *Encoder) error {
	return e.Signature(string(s))
}

func (s *Sig) UnmarshalDBus(d *Decoder) error {
	str, err := d.Signature()
	if err != nil {
		return err
	}
	*s = Sig(str)
	return nil
}

// UnixFD is a D-Bus file descriptor value ("h"): an index into the
// message's fd table. It holds a [fdtable.Ref] once decoded, or an
// *os.File to be sent once constructed for marshalling.
type UnixFD struct {
	// Send is set by the caller before marshalling, to the file that
	// should be transferred.
	Send *os.File
	// Recv is populated after unmarshalling, a reference to the
	// received descriptor. Ownership semantics are those of
	// [fdtable.Ref]: call Recv.Detach to take ownership, or Recv.Clone
	// to share it further.
	Recv fdtable.Ref
}

var unixFDSig = signature.Type{Kind: signature.KindUnixFD}

func (UnixFD) SignatureDBus() signature.Type { return unixFDSig }
func (UnixFD) IsDBusStruct() bool            { return false }

func (u UnixFD) MarshalDBus(e *Encoder) error {
	if u.Send == nil {
		return fmt.Errorf("wire: cannot marshal UnixFD: Send is nil")
	}
	e.Pad(4)
	return e.UnixFD(u.Send)
}

func (u *UnixFD) UnmarshalDBus(d *Decoder) error {
	if err := d.Align(4); err != nil {
		return err
	}
	ref, err := d.UnixFD()
	if err != nil {
		return err
	}
	u.Recv = ref
	return nil
}
