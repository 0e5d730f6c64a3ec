// Package alloc implements the AllocatorShim: intercepting the runtime's
// malloc/calloc/realloc/free calls to track live allocations by the
// managed stack that made them.
//
// Grounded on the teacher's ProfilerMemory (mem.go): the same
// per-allocator-function instrumentation shape (one small Before/After
// pair per intercepted symbol), generalized from wazero's
// before-size/after-address host-function hooks to spec.md §4.11's
// four-callback allocator shim and its address->stack bookkeeping.
package alloc

import (
	"sync"

	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/stacktable"
)

// Unwinder produces the managed frame sequence for the thread currently
// making an allocation call. Implementations used on this path must not
// need a SafeReader trampoline: spec.md §4.11 states the calling thread
// already owns the structures being read, so the "unsafe", in-process
// variant of the FrameUnwinder is used here instead of the one the
// Sampler drives from another thread.
type Unwinder interface {
	Unwind(frameAddr uintptr) []frame.Frame
}

// record is what the shim remembers about one live allocation.
type record struct {
	stackKey uint64
	size     int64
}

// Shim tracks live allocations by the stack that made them, so a memory
// profile attributes resident bytes to call sites rather than just
// counting allocation events.
type Shim struct {
	mu       sync.Mutex
	unwinder Unwinder
	stacks   *stacktable.Table

	records  map[uintptr]record
	counters map[uint64]int64 // stack key -> cumulative live bytes
}

// New constructs a Shim. unwinder resolves the calling thread's current
// managed frame pointer into a frame sequence without the SafeReader
// indirection the Sampler otherwise requires.
func New(unwinder Unwinder, stacks *stacktable.Table) *Shim {
	return &Shim{
		unwinder: unwinder,
		stacks:   stacks,
		records:  make(map[uintptr]record),
		counters: make(map[uint64]int64),
	}
}

// Alloc records a successful allocation at address addr of size bytes,
// attributing it to the managed stack rooted at frameAddr, per spec.md
// §4.11's "unwind the current managed stack ... intern the stack,
// record the mapping address -> (stack_key, size), increment per-stack
// counters." Alloc is a no-op if addr is zero (the allocation failed and
// the caller should not have called through).
func (s *Shim) Alloc(addr uintptr, size int64, frameAddr uintptr) {
	if addr == 0 {
		return
	}

	frames := s.unwinder.Unwind(frameAddr)
	stack := s.stacks.Intern(frames)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[addr] = record{stackKey: stack.Key, size: size}
	s.counters[stack.Key] += size
}

// Free releases the allocation at addr, decrementing the owning stack's
// cumulative size and removing the record. Freeing an address with no
// known record (e.g. one allocated before the shim was installed) is a
// no-op.
func (s *Shim) Free(addr uintptr) {
	if addr == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[addr]
	if !ok {
		return
	}
	delete(s.records, addr)
	s.counters[r.stackKey] -= r.size
}

// Realloc models a realloc as a free of oldAddr followed by an alloc of
// newAddr, per spec.md §4.11. oldAddr may equal newAddr (the allocator
// grew the block in place); Free then Alloc still correctly replaces the
// stored size.
func (s *Shim) Realloc(oldAddr, newAddr uintptr, newSize int64, frameAddr uintptr) {
	s.Free(oldAddr)
	s.Alloc(newAddr, newSize, frameAddr)
}

// LiveBytes reports the current cumulative live byte count attributed to
// stackKey.
func (s *Shim) LiveBytes(stackKey uint64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[stackKey]
}

// Snapshot returns a copy of every stack key with non-zero attributed
// live bytes, for building a memory profile.
func (s *Shim) Snapshot() map[uint64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]int64, len(s.counters))
	for k, v := range s.counters {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Len reports the number of currently live allocation records.
func (s *Shim) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
