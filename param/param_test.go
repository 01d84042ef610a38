package param_test

import (
	"testing"

	"busline.dev/dbus/wire"
	"busline.dev/dbus/param"
	"busline.dev/dbus/signature"
)

func roundTrip(t *testing.T, p param.Param) param.Param {
	t.Helper()
	var e wire.Encoder
	e.Order = wire.LittleEndian
	if err := p.MarshalDBus(&e); err != nil {
		t.Fatalf("MarshalDBus: %v", err)
	}
	d := &wire.Decoder{Order: wire.LittleEndian, In: e.Out}
	got, err := param.Unmarshal(d, p.Signature())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return got
}

func TestBaseRoundTrip(t *testing.T) {
	p, err := param.NewBase(uint32(42))
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, p)
	if got.Base().(uint32) != 42 {
		t.Errorf("got %v, want 42", got.Base())
	}
}

func TestStringRoundTrip(t *testing.T) {
	p, err := param.NewBase("hello")
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, p)
	if got.Base().(string) != "hello" {
		t.Errorf("got %q", got.Base())
	}
}

func TestArrayRoundTrip(t *testing.T) {
	a, _ := param.NewBase(uint32(1))
	b, _ := param.NewBase(uint32(2))
	arr, err := param.NewArray(signature.Type{}, []param.Param{a, b})
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, arr)
	if len(got.Elems()) != 2 {
		t.Fatalf("got %d elems, want 2", len(got.Elems()))
	}
	if got.Elems()[0].Base().(uint32) != 1 || got.Elems()[1].Base().(uint32) != 2 {
		t.Errorf("elems = %v", got.Elems())
	}
}

func TestArrayElementTypesDiffer(t *testing.T) {
	a, _ := param.NewBase(uint32(1))
	b, _ := param.NewBase("nope")
	if _, err := param.NewArray(signature.Type{}, []param.Param{a, b}); err != param.ErrArrayElementTypesDiffer {
		t.Errorf("got %v, want ErrArrayElementTypesDiffer", err)
	}
}

func TestDictRoundTrip(t *testing.T) {
	k, _ := param.NewBase("key")
	v, _ := param.NewBase(int32(7))
	dict, err := param.NewDict(signature.Type{}, signature.Type{}, []param.DictEntry{{Key: k, Value: v}})
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, dict)
	entries := got.Entries()
	if len(entries) != 1 || entries[0].Key.Base().(string) != "key" || entries[0].Value.Base().(int32) != 7 {
		t.Errorf("entries = %v", entries)
	}
}

func TestVariantRoundTrip(t *testing.T) {
	inner, _ := param.NewBase(uint64(99))
	v := param.NewVariant(inner)
	got := roundTrip(t, v)
	if got.Variant().Base().(uint64) != 99 {
		t.Errorf("got %v", got.Variant().Base())
	}
}

func TestStructRoundTrip(t *testing.T) {
	a, _ := param.NewBase(uint32(5))
	b, _ := param.NewBase(true)
	s, err := param.NewStruct([]param.Param{a, b})
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip(t, s)
	if got.Elems()[0].Base().(uint32) != 5 || got.Elems()[1].Base().(bool) != true {
		t.Errorf("elems = %v", got.Elems())
	}
}

func TestAsStruct(t *testing.T) {
	a, _ := param.NewBase(uint32(5))
	b, _ := param.NewBase(true)
	s, err := param.NewStruct([]param.Param{a, b})
	if err != nil {
		t.Fatal(err)
	}
	fields, ok := s.AsStruct()
	if !ok {
		t.Fatal("AsStruct() ok = false, want true")
	}
	if fields[0].Base().(uint32) != 5 || fields[1].Base().(bool) != true {
		t.Errorf("fields = %v", fields)
	}

	notStruct, _ := param.NewBase(uint32(1))
	if _, ok := notStruct.AsStruct(); ok {
		t.Error("AsStruct() on a base Param returned ok = true")
	}
}

func TestAsArrayOf(t *testing.T) {
	a, _ := param.NewBase(uint32(1))
	b, _ := param.NewBase(uint32(2))
	arr, err := param.NewArray(signature.Type{}, []param.Param{a, b})
	if err != nil {
		t.Fatal(err)
	}

	got, ok, err := param.AsArrayOf(arr, func(p param.Param) (uint32, error) {
		return p.Base().(uint32), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("AsArrayOf() ok = false, want true")
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}

	notArray, _ := param.NewBase(uint32(1))
	if _, ok, err := param.AsArrayOf(notArray, func(p param.Param) (uint32, error) {
		return p.Base().(uint32), nil
	}); ok || err != nil {
		t.Errorf("AsArrayOf() on a base Param: ok=%v err=%v, want false, nil", ok, err)
	}
}
