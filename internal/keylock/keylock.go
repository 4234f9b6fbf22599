// Package keylock provides per-key mutual exclusion with entries that are
// dropped as soon as no goroutine holds or waits for them.
package keylock

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	mu   sync.Mutex
	refs int // guarded by the map bucket lock inside Compute
}

// Table is a set of mutexes addressed by string key.
type Table struct {
	m *xsync.MapOf[string, *entry]
}

// New creates an empty Table.
func New() *Table {
	return &Table{m: xsync.NewMapOf[string, *entry]()}
}

// Lock blocks until key is free and returns the function that releases it.
// Calling the release function more than once is harmless.
func (t *Table) Lock(key string) (unlock func()) {
	e, _ := t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{}
		}
		old.refs++
		return old, false
	})
	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
				if !loaded {
					return old, true
				}
				old.refs--
				return old, old.refs <= 0
			})
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	return t.m.Size()
}
