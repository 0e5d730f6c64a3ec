// Package frame defines the immutable Frame and Location value types shared
// by the unwinders, the frame cache, and the stack table.
package frame

// Location identifies a span of source text. Zero in any field means
// "unknown".
type Location struct {
	LineStart   uint32
	LineEnd     uint32
	ColumnStart uint32
	ColumnEnd   uint32
}

// Frame is immutable once constructed. FilenameKey and NameKey reference a
// strtab.Table. IsShim marks an internal trampoline frame the host runtime
// inserts, which user-visible renderings hide but which the interleaver
// still needs for alignment. CacheKey is the frame's identity within a
// FrameCache, stable for the life of the process once assigned.
type Frame struct {
	FilenameKey uint64
	NameKey     uint64
	Location    Location
	IsShim      bool
	CacheKey    uint64
}

// Invalid is the sentinel frame appended whenever a read fault or
// construction failure interrupts an unwind.
var Invalid = Frame{CacheKey: InvalidCacheKey}

// InvalidCacheKey is reserved: no real frame is ever assigned this key.
const InvalidCacheKey uint64 = 0

// Equal reports whether two frames are the same observed location. Used to
// validate stack-table insertions against hash collisions.
func (f Frame) Equal(o Frame) bool {
	return f.FilenameKey == o.FilenameKey &&
		f.NameKey == o.NameKey &&
		f.Location == o.Location &&
		f.IsShim == o.IsShim &&
		f.CacheKey == o.CacheKey
}

// MakeManagedKey builds a FrameCache key for a managed frame from its code
// object identity and bytecode instruction index, per spec: (code_identity
// << 16) | instruction_index.
func MakeManagedKey(codeIdentity uint64, instructionIndex uint16) uint64 {
	return (codeIdentity << 16) | uint64(instructionIndex)
}

// MakeNativeKey builds a FrameCache key for a native frame from its program
// counter.
func MakeNativeKey(pc uint64) uint64 {
	return pc
}

// MakeSyntheticKey builds a FrameCache key for a synthesized frame (e.g. a
// C-function-call inference result, or a task-boundary label) from its
// name key.
func MakeSyntheticKey(nameKey uint64) uint64 {
	return nameKey
}
