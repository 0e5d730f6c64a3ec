// Package strtab implements the process-wide string interning table shared
// by every subsystem that needs to emit a name (filenames, function names,
// frame labels) without repeating the bytes on every sample.
package strtab

import (
	"hash/maphash"
	"log"
	"sync"
)

// Reserved sentinel keys. INVALID marks a key that could not be resolved at
// all; UNKNOWN marks a key that resolved to "no information available" but
// is otherwise a legitimate lookup.
const (
	KeyInvalid uint64 = 0
	KeyUnknown uint64 = 1
)

var contentSeed = maphash.MakeSeed()

// Table is a process-wide map from opaque key to owned string. Keys never
// change identity once registered: Lookup after a successful Register
// always succeeds for the same key.
type Table struct {
	mu      sync.RWMutex
	strings map[uint64]string
	logger  *log.Logger
}

// New constructs an empty Table with the two sentinel keys pre-registered.
// A nil logger defaults to log.Default().
func New(logger *log.Logger) *Table {
	if logger == nil {
		logger = log.Default()
	}
	t := &Table{
		strings: make(map[uint64]string),
		logger:  logger,
	}
	t.strings[KeyInvalid] = "<invalid>"
	t.strings[KeyUnknown] = "<unknown>"
	return t
}

// KeyForContent derives a deterministic key from arbitrary string content.
// Two calls with equal content always produce the same key.
func KeyForContent(s string) uint64 {
	return maphash.String(contentSeed, s)
}

// KeyForAddress derives a key from a runtime object identity or a program
// counter; both are just opaque 64-bit addresses from the interning table's
// point of view, and the caller is responsible for not colliding two
// different key spaces into the same table (in practice each key space is
// partitioned by how the key was derived, so genuine collisions are
// vanishingly unlikely across spaces of different origin).
func KeyForAddress(addr uint64) uint64 {
	return addr
}

// Register records value under key if key is not already present.
// Re-registration with a different value is a no-op (first-writer-wins)
// and is logged; re-registration with the same value is a silent no-op.
// Register is idempotent.
func (t *Table) Register(key uint64, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.strings[key]
	if !ok {
		t.strings[key] = value
		return
	}
	if existing != value {
		t.logger.Printf("strtab: ignoring re-registration of key %#x: have %q, got %q", key, existing, value)
	}
}

// Lookup returns the string registered under key, and whether it was found.
func (t *Table) Lookup(key uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.strings[key]
	return s, ok
}

// LookupOrUnknown returns the registered string, or the UNKNOWN sentinel's
// value if key was never registered.
func (t *Table) LookupOrUnknown(key uint64) string {
	if s, ok := t.Lookup(key); ok {
		return s
	}
	s, _ := t.Lookup(KeyUnknown)
	return s
}

// Len reports the number of distinct keys currently registered, including
// the two sentinels.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.strings)
}
