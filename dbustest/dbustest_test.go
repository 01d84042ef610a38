package dbustest

import (
	"context"
	"testing"
	"time"
)

func TestBus(t *testing.T) {
	b := New(t, true)
	conn := b.MustConn(t)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if conn.LocalName() == "" {
		t.Error("LocalName is empty after Hello")
	}

	id, err := conn.BusID(ctx)
	if err != nil {
		t.Fatalf("BusID: %v", err)
	}
	if id == "" {
		t.Error("BusID returned an empty string")
	}

	names, err := conn.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	found := false
	for _, n := range names {
		if n == conn.LocalName() {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Names() = %v, want to contain own name %q", names, conn.LocalName())
	}
}
