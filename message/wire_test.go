package message

import (
	"testing"

	"github.com/creachadair/mds/value"

	"busline.dev/dbus/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{
		Header: Header{Order: wire.LittleEndian, Type: TypeCall, Serial: 7},
		Dyn: DynHeader{
			Path:      value.Just(wire.ObjectPath("/org/example/Foo")),
			Interface: value.Just("org.example.Iface"),
			Member:    value.Just("DoThing"),
		},
	}
	if err := m.SetBody(&struct {
		A string
		B int32
	}{"hello", 42}); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	if sig, ok := m.Dyn.Signature.GetOK(); !ok || sig != "si" {
		t.Fatalf("Dyn.Signature = %q, %v, want \"si\" (flattened, not wrapped in parens)", sig, ok)
	}

	buf, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header.Type != TypeCall || got.Header.Serial != 7 {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	path, ok := got.Dyn.Path.GetOK()
	if !ok || path != "/org/example/Foo" {
		t.Fatalf("path = %v, %v", path, ok)
	}
	iface, ok := got.Dyn.Interface.GetOK()
	if !ok || iface != "org.example.Iface" {
		t.Fatalf("interface = %v, %v", iface, ok)
	}
	member, ok := got.Dyn.Member.GetOK()
	if !ok || member != "DoThing" {
		t.Fatalf("member = %v, %v", member, ok)
	}

	var out struct {
		A string
		B int32
	}
	if err := got.Decode(&out); err != nil {
		t.Fatalf("Decode body: %v", err)
	}
	if out.A != "hello" || out.B != 42 {
		t.Fatalf("body = %+v", out)
	}
}

func TestEncodeRejectsInvalidHeader(t *testing.T) {
	m := &Message{Header: Header{Order: wire.LittleEndian, Type: TypeCall, Serial: 1}}
	if _, err := m.Encode(); err != ErrInvalidHeaderFields {
		t.Fatalf("got %v, want ErrInvalidHeaderFields", err)
	}
}
