package wire

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"busline.dev/dbus/fdtable"
)

// roundTrip marshals v, unmarshals into a fresh zero value of the same
// type, and returns it for the caller to compare against v.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	buf, err := Marshal(v, LittleEndian, nil)
	if err != nil {
		t.Fatalf("Marshal(%#v): %v", v, err)
	}
	var got T
	if err := Unmarshal(buf, LittleEndian, nil, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return got
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type twoFields struct {
		A string
		B int32
	}
	type nested struct {
		Inner twoFields
		C     bool
	}

	t.Run("bool", func(t *testing.T) {
		if got := roundTrip(t, true); got != true {
			t.Errorf("got %v, want true", got)
		}
	})
	t.Run("byte", func(t *testing.T) {
		if got := roundTrip(t, uint8(200)); got != 200 {
			t.Errorf("got %v, want 200", got)
		}
	})
	t.Run("int16", func(t *testing.T) {
		if got := roundTrip(t, int16(-7)); got != -7 {
			t.Errorf("got %v, want -7", got)
		}
	})
	t.Run("uint32", func(t *testing.T) {
		if got := roundTrip(t, uint32(0xdeadbeef)); got != 0xdeadbeef {
			t.Errorf("got %v, want 0xdeadbeef", got)
		}
	})
	t.Run("int64", func(t *testing.T) {
		if got := roundTrip(t, int64(-123456789012)); got != -123456789012 {
			t.Errorf("got %v, want -123456789012", got)
		}
	})
	t.Run("double", func(t *testing.T) {
		if got := roundTrip(t, 3.25); got != 3.25 {
			t.Errorf("got %v, want 3.25", got)
		}
	})
	t.Run("string", func(t *testing.T) {
		if got := roundTrip(t, "hello, world"); got != "hello, world" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("object_path", func(t *testing.T) {
		if got := roundTrip(t, ObjectPath("/org/example/Foo")); got != "/org/example/Foo" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("signature", func(t *testing.T) {
		if got := roundTrip(t, Sig("a{sv}")); got != "a{sv}" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("byte_slice", func(t *testing.T) {
		want := []byte{1, 2, 3, 4, 5}
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("byte slice mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("string_slice", func(t *testing.T) {
		want := []string{"a", "bb", "ccc"}
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("string slice mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("map", func(t *testing.T) {
		want := map[string]int32{"a": 1, "b": 2, "c": 3}
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("map mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("struct", func(t *testing.T) {
		want := twoFields{"hi", 42}
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("struct mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("nested_struct", func(t *testing.T) {
		want := nested{Inner: twoFields{"deep", 7}, C: true}
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("nested struct mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnixFDRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()
	defer r.Close()

	fds := &fdtable.Table{}
	defer fds.Close()

	v := UnixFD{Send: w}
	buf, err := Marshal(v, LittleEndian, fds)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got UnixFD
	if err := Unmarshal(buf, LittleEndian, fds, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Recv.IsZero() {
		t.Fatal("Recv is zero after round trip")
	}
}

func TestSignatureOf(t *testing.T) {
	type twoFields struct {
		Name  string
		Flags uint32
	}

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"bool", true, "b"},
		{"byte", uint8(1), "y"},
		{"int16", int16(1), "n"},
		{"uint16", uint16(1), "q"},
		{"int32", int32(1), "i"},
		{"uint32", uint32(1), "u"},
		{"int64", int64(1), "x"},
		{"uint64", uint64(1), "t"},
		{"double", 1.0, "d"},
		{"string", "s", "s"},
		{"object_path", ObjectPath("/a"), "o"},
		{"signature", Sig("s"), "g"},
		{"byte_slice", []byte{1}, "ay"},
		{"string_slice", []string{"a"}, "as"},
		{"map", map[string]int32{"a": 1}, "a{si}"},
		{"struct", twoFields{}, "(su)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := SignatureOf(tc.v)
			if err != nil {
				t.Fatalf("SignatureOf(%#v): %v", tc.v, err)
			}
			if got := sig.String(); got != tc.want {
				t.Errorf("SignatureOf(%#v) = %q, want %q", tc.v, got, tc.want)
			}
		})
	}
}

// TestSignatureOfBodyFlattens is the regression test for the bug where
// a struct used as a message body got its signature wrapped in parens
// like a nested STRUCT argument, instead of flattened into a top-level
// argument list the way a real call, signal, or reply body is laid
// out on the wire.
func TestSignatureOfBodyFlattens(t *testing.T) {
	type twoFields struct {
		Name  string
		Flags uint32
	}
	type threeFields struct {
		A string
		B int32
		C bool
	}

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"non_struct_unchanged", uint32(1), "u"},
		{"string_unchanged", "hi", "s"},
		{"two_field_struct_flattens", twoFields{"com.example.Test", 4}, "su"},
		{"three_field_struct_flattens", threeFields{"a", 1, true}, "sib"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SignatureOfBody(tc.v)
			if err != nil {
				t.Fatalf("SignatureOfBody(%#v): %v", tc.v, err)
			}
			if got != tc.want {
				t.Errorf("SignatureOfBody(%#v) = %q, want %q (unparenthesized)", tc.v, got, tc.want)
			}
		})
	}

	// Compare directly against SignatureOf to make the divergence this
	// function exists for explicit: the same value signs differently
	// depending on whether it's a nested argument or a flattened body.
	v := twoFields{"com.example.Test", 4}
	nested, err := SignatureOf(v)
	if err != nil {
		t.Fatalf("SignatureOf: %v", err)
	}
	body, err := SignatureOfBody(v)
	if err != nil {
		t.Fatalf("SignatureOfBody: %v", err)
	}
	if nested.String() != "(su)" || body != "su" {
		t.Fatalf("nested=%q body=%q, want nested=\"(su)\" body=\"su\"", nested.String(), body)
	}
}

func TestSignatureOfBodyMarshalerUnchanged(t *testing.T) {
	// Sig implements Marshaler/Unmarshaler itself and is not a struct,
	// but ObjectPath and Sig are exercised above; here we check that a
	// struct type implementing Marshaler is signed as the single opaque
	// value it chooses to be, not flattened field-by-field.
	got, err := SignatureOfBody(Variant{Value: uint32(4)})
	if err != nil {
		t.Fatalf("SignatureOfBody: %v", err)
	}
	if got != "v" {
		t.Errorf("SignatureOfBody(Variant{...}) = %q, want \"v\"", got)
	}
}
