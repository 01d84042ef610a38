package fdtable

import (
	"errors"
	"os"
	"sync"
	"testing"
)

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fdtable")
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCloneAndClose(t *testing.T) {
	var tbl Table
	f := tempFile(t)
	idx := tbl.Add(f)

	r1, ok := tbl.At(idx)
	if !ok {
		t.Fatal("At failed")
	}
	r2 := r1.Clone()

	if err := r1.Close(); err != nil {
		t.Fatalf("Close r1: %v", err)
	}
	// f must still be open: tbl's own ref and r2 are both alive.
	if _, err := f.Stat(); err != nil {
		t.Fatalf("fd closed too early: %v", err)
	}

	if err := r2.Close(); err != nil {
		t.Fatalf("Close r2: %v", err)
	}
	if _, err := f.Stat(); err != nil {
		t.Fatalf("fd closed too early (after r2): %v", err)
	}

	if err := tbl.Close(); err != nil {
		t.Fatalf("Close table: %v", err)
	}
	if _, err := f.Stat(); err == nil {
		t.Fatal("fd should be closed after table release")
	}
}

func TestDetach(t *testing.T) {
	var tbl Table
	f := tempFile(t)
	idx := tbl.Add(f)

	r, _ := tbl.At(idx)
	got, err := r.Detach()
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if got != f {
		t.Fatal("detached wrong file")
	}

	// table.Close must not close a detached fd.
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Stat(); err != nil {
		t.Fatal("detached fd was closed by table")
	}
	f.Close()
}

func TestDetachRaceHasOneWinner(t *testing.T) {
	var tbl Table
	f := tempFile(t)
	defer f.Close()
	idx := tbl.Add(f)

	const n = 16
	refs := make([]Ref, n)
	for i := range refs {
		refs[i], _ = tbl.At(idx)
	}

	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	for _, r := range refs {
		wg.Add(1)
		go func(r Ref) {
			defer wg.Done()
			if _, err := r.Detach(); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}(r)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}
}

func TestEmptyRef(t *testing.T) {
	var r Ref
	if !r.IsZero() {
		t.Fatal("zero Ref should report IsZero")
	}
	if _, err := r.Detach(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Detach on empty ref: %v", err)
	}
	if err := r.Close(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Close on empty ref: %v", err)
	}
}

func TestEqual(t *testing.T) {
	var tbl Table
	f := tempFile(t)
	defer f.Close()
	idx := tbl.Add(f)

	r1, _ := tbl.At(idx)
	r2 := r1.Clone()
	defer r1.Close()
	defer r2.Close()

	if !r1.Equal(r2) {
		t.Fatal("clones of the same entry should be Equal")
	}

	var tbl2 Table
	f2 := tempFile(t)
	defer f2.Close()
	idx2 := tbl2.Add(f2)
	r3, _ := tbl2.At(idx2)
	defer r3.Close()

	if r1.Equal(r3) {
		t.Fatal("refs to different entries should not be Equal")
	}
}
