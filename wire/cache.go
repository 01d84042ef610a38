package wire

import (
	"errors"
	"fmt"
	"sync"
)

// cache is a pull-through cache keyed by K, used to memoize
// reflection-derived encoders, decoders and signatures so that
// repeated marshalling of the same Go type doesn't re-walk its
// structure every time.
type cache[K comparable, V any] struct {
	m sync.Map
}

var (
	errNotFound  = errors.New("wire: key not found in cache")
	errRecursive = errors.New("wire: recursive type")
)

// Get returns the cached value for k, or errNotFound if absent. If
// another goroutine is concurrently computing k's value for the
// first time, Get returns errRecursive: this only happens while
// walking a cyclic type, which D-Bus cannot represent.
func (c *cache[K, V]) Get(k K) (V, error) {
	ent, loaded := c.m.LoadOrStore(k, errRecursive)
	if !loaded {
		var zero V
		return zero, errNotFound
	}
	if e, ok := ent.(error); ok {
		var zero V
		return zero, e
	}
	if v, ok := ent.(V); ok {
		return v, nil
	}
	panic(fmt.Sprintf("wire: cache holds unexpected value %v (%T)", ent, ent))
}

func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, v)
}

func (c *cache[K, V]) SetErr(k K, err error) {
	c.m.Store(k, err)
}
