// Package fdtable implements the per-message file descriptor table
// described in the D-Bus wire format: a reference-counted holder for
// file descriptors transferred out-of-band via SCM_RIGHTS, indexed by
// the small integers that appear in a message's body in place of the
// actual descriptors.
package fdtable

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
)

// ErrAlreadyTaken is returned by Detach when another caller has
// already detached the same Ref.
var ErrAlreadyTaken = errors.New("fdtable: file descriptor already taken")

// ErrEmpty is returned when operating on a zero-value Ref.
var ErrEmpty = errors.New("fdtable: empty unix fd")

// entry is the shared state behind every Ref pointing at the same
// underlying descriptor. It is closed exactly once: either by the
// last Ref to Close, or never, if some Ref detached it first.
type entry struct {
	mu     sync.Mutex
	file   *os.File
	refs   int32
	taken  atomic.Bool
	closed bool
}

func (e *entry) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.taken.Load() {
		return
	}
	if atomic.AddInt32(&e.refs, -1) == 0 {
		e.closed = true
		e.file.Close()
	}
}

// Ref is a reference to one entry in a Table. The zero Ref is empty
// and all of its methods report ErrEmpty.
type Ref struct {
	e *entry
}

// IsZero reports whether r is the empty Ref.
func (r Ref) IsZero() bool { return r.e == nil }

// Clone returns a new Ref sharing the same underlying descriptor.
// The descriptor is closed only once both the original and the clone
// (and any further clones) have been closed or dropped, unless one of
// them is detached first.
func (r Ref) Clone() Ref {
	if r.e == nil {
		return Ref{}
	}
	atomic.AddInt32(&r.e.refs, 1)
	return Ref{e: r.e}
}

// Close releases this reference. If it was the last live reference
// and the fd was never detached, the underlying descriptor is closed.
func (r Ref) Close() error {
	if r.e == nil {
		return ErrEmpty
	}
	r.e.release()
	return nil
}

// Detach transfers ownership of the underlying descriptor to the
// caller. The returned *os.File is the caller's to close; no other
// Ref referring to the same entry will ever close it. Only one caller
// across all clones of this Ref can win the detach race; all others
// receive ErrAlreadyTaken.
func (r Ref) Detach() (*os.File, error) {
	if r.e == nil {
		return nil, ErrEmpty
	}
	if !r.e.taken.CompareAndSwap(false, true) {
		return nil, ErrAlreadyTaken
	}
	return r.e.file, nil
}

// File returns the *os.File backing this reference, for callers that
// need to pass it to an API expecting one (e.g. re-marshalling a
// received fd without detaching it). The returned file is still owned
// by r: closing it directly, instead of through r.Close, will confuse
// the refcount.
func (r Ref) File() (*os.File, error) {
	if r.e == nil {
		return nil, ErrEmpty
	}
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	if r.e.closed {
		return nil, ErrEmpty
	}
	return r.e.file, nil
}

// Raw returns the current raw file descriptor number, or -1 if r is
// empty or has already been closed/detached to completion.
func (r Ref) Raw() int {
	if r.e == nil {
		return -1
	}
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	if r.e.closed {
		return -1
	}
	return int(r.e.file.Fd())
}

// Equal reports whether r and other refer to the same entry, either
// by pointer identity or by currently sharing the same raw
// descriptor number.
func (r Ref) Equal(other Ref) bool {
	if r.e == other.e {
		return true
	}
	if r.e == nil || other.e == nil {
		return false
	}
	return r.Raw() == other.Raw()
}

// Table is a message's collection of received (or about-to-be-sent)
// file descriptors, indexed the same way the wire format indexes
// them: by position in the order they were appended.
//
// A Table is safe for concurrent use; the detach race across clones
// of the same entry is resolved by CompareAndSwap on entry.taken, so
// moving a decoded message between goroutines and having exactly one
// of them win a Detach is well-defined.
type Table struct {
	mu      sync.Mutex
	entries []*entry
}

// Add appends file as a new entry, owned by the table itself, and
// returns its index. Use At to obtain a Ref to it.
func (t *Table) Add(file *os.File) (idx uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &entry{file: file, refs: 1}
	t.entries = append(t.entries, e)
	return uint32(len(t.entries) - 1)
}

// At returns a cloned Ref to the fd at index idx. The returned Ref is
// an independent reference: closing it does not affect other clones.
func (t *Table) At(idx uint32) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.entries) {
		return Ref{}, false
	}
	e := t.entries[idx]
	atomic.AddInt32(&e.refs, 1)
	return Ref{e: e}, true
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close releases the table's own reference to every entry. Entries
// with other live Refs (e.g. ones handed out by At, or held by
// decoded UnixFd values) are unaffected until those Refs are also
// closed.
func (t *Table) Close() error {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	for _, e := range entries {
		e.release()
	}
	return nil
}
