package dispatch

import (
	"reflect"
	"testing"

	"busline.dev/dbus/wire"
)

func TestPatternExact(t *testing.T) {
	p, err := ParsePattern("/org/example/Foo")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Match("/org/example/Foo"); !ok {
		t.Error("expected match")
	}
	if _, ok := p.Match("/org/example/Bar"); ok {
		t.Error("expected no match")
	}
}

func TestPatternWildcardSingle(t *testing.T) {
	p, err := ParsePattern("/org/*/Foo")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Match("/org/example/Foo"); !ok {
		t.Error("expected match")
	}
	if _, ok := p.Match("/org/example/other/Foo"); ok {
		t.Error("single wildcard should not span segments")
	}
}

func TestPatternWildcardTrailing(t *testing.T) {
	p, err := ParsePattern("/org/*")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Match("/org/a"); !ok {
		t.Error("expected match")
	}
	if _, ok := p.Match("/org/a/b/c"); !ok {
		t.Error("trailing wildcard should span multiple segments")
	}
	if _, ok := p.Match("/org"); ok {
		t.Error("trailing wildcard still requires at least one segment")
	}
}

func TestPatternCapture(t *testing.T) {
	p, err := ParsePattern("/objs/:id/prop")
	if err != nil {
		t.Fatal(err)
	}
	caps, ok := p.Match(wire.ObjectPath("/objs/42/prop"))
	if !ok {
		t.Fatal("expected match")
	}
	if !reflect.DeepEqual(caps, map[string]string{"id": "42"}) {
		t.Errorf("captures = %v", caps)
	}
}

func TestPatternRoot(t *testing.T) {
	p, err := ParsePattern("/")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Match("/"); !ok {
		t.Error("expected root to match root")
	}
	if _, ok := p.Match("/foo"); ok {
		t.Error("root pattern should not match non-root paths")
	}
}
