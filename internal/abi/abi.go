// Package abi holds the version-selected field-offset tables the managed
// unwinder needs to walk runtime-internal structures directly out of
// another thread's memory.
//
// spec.md §9 ("Runtime ABI variance") requires these offsets live in a
// table selected once at init, not as conditional code scattered through
// the unwinder. This mirrors the teacher's approach in python.go, where
// CPython struct padding is hard-coded as untyped constants measured by
// hand; here the same numbers are organized into a struct per runtime
// release so a new release is one more table entry, not a sprinkling of
// version checks.
package abi

import "fmt"

// Version identifies a release of the managed runtime whose internal
// layout the Offsets table below describes.
type Version struct {
	Major, Minor, Micro int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}

// Offsets is the full set of struct-field byte offsets the unwinder needs.
// Every field corresponds to one padXxx constant the teacher measured by
// hand for a single runtime release; here one Offsets value holds the
// whole set for one release.
type Offsets struct {
	// Thread state / interpreter frame chain.
	ThreadStateCurrentFrame uint32 // offset of the current-frame pointer within the thread state
	FramePrevious           uint32 // offset of the "previous frame" link
	FrameCode               uint32 // offset of the code-object pointer
	FramePrevInstr          uint32 // offset of the "previous instruction" cursor
	FrameOwner              uint32 // offset of the owner tag (0 if this runtime predates the tag)
	FrameOwnerGenerator     uint32 // owner-tag value meaning "owned by a suspended generator/coroutine"

	// Code object.
	CodeFilename     uint32
	CodeName         uint32
	CodeFirstLine    uint32
	CodeLineTable    uint32
	CodeAdaptive     uint32 // offset where adaptive/specialized bytecode begins
	CodeLineArray    uint32 // non-zero on runtimes that ship a separate line array instead of a line table
	CodeUnitSize     uint32 // size in bytes of one bytecode unit

	// String (interned text) object.
	StringStateOffset  uint32
	StringLengthOffset uint32
	StringHeaderSize   uint32 // byte offset from the object header to the first character

	// Bytes-like object backing a line table.
	BytesLengthOffset uint32
	BytesDataOffset   uint32

	// Task / coroutine graph, used by internal/task.
	TaskCoroutineChain uint32
	TaskWaiter         uint32
	CoroutineFrame     uint32
	CoroutineAwaited   uint32
	CoroutineIsRunning uint32

	// Bytecode unit opcodes internal/unwind's C-function-call inference
	// (spec.md §4.5.1) scans for while walking backward through the
	// instruction stream. Numeric opcode assignments are runtime-version
	// specific, same as every other field in this struct.
	OpcodeCacheSlot  byte
	OpcodePushNull   byte
	OpcodeLoadFast   byte
	OpcodeLoadAttr   byte
	OpcodeLoadGlobal byte
	OpcodeCall       byte

	// Name table (code object's tuple of attribute/global names), resolved
	// by internal/unwind to turn a LOAD_ATTR/LOAD_GLOBAL oparg into a real
	// string during C-function-call inference.
	CodeNames        uint32 // offset of the names tuple pointer within a code object
	TupleSizeOffset  uint32 // offset of the item count within a tuple object
	TupleItemsOffset uint32 // offset of the first item pointer within a tuple object

	// C-callable method descriptor, the second spec.md §4.5.1 mechanism:
	// a frame whose executable is a known C-callable object rather than a
	// code object.
	FrameExecutable      uint32 // offset of the frame's executable pointer
	ObjectTypeOffset     uint32 // offset of ob_type within any object header
	TypeNameOffset       uint32 // offset of tp_name (a C string) within a type object
	CFuncMethodDefOffset uint32 // offset of m_ml within a builtin_function_or_method object
	CFuncModuleOffset    uint32 // offset of m_module within a builtin_function_or_method object
	CFuncSelfOffset      uint32 // offset of m_self within a builtin_function_or_method object
	MethodDefNameOffset  uint32 // offset of ml_name (a C string) within a PyMethodDef
}

// HasOwnerTag reports whether this runtime release distinguishes
// internal-trampoline frames via an owner tag (spec.md §4.5 point 4).
// Releases that predate the tag report it via a zero FrameOwner offset,
// since offset zero is always occupied by the frame's own header.
func (o Offsets) HasOwnerTag() bool {
	return o.FrameOwner != 0
}

// Table maps a runtime Version to the Offsets describing its internal
// layout. Lookup falls back to the highest registered micro version with
// the same major.minor (older or newer than the one asked for), since
// patch releases rarely change struct layout.
type Table struct {
	entries map[Version]Offsets
}

// NewTable builds a Table from hand-measured entries. Callers typically
// use the package-level DefaultTable rather than constructing their own.
func NewTable(entries map[Version]Offsets) *Table {
	t := &Table{entries: make(map[Version]Offsets, len(entries))}
	for v, o := range entries {
		t.entries[v] = o
	}
	return t
}

// Lookup returns the Offsets for the given version and whether an exact
// or compatible (same major.minor, any micro) entry was found.
func (t *Table) Lookup(v Version) (Offsets, bool) {
	if o, ok := t.entries[v]; ok {
		return o, true
	}
	best := Offsets{}
	found := false
	bestMicro := -1
	for cand, o := range t.entries {
		if cand.Major == v.Major && cand.Minor == v.Minor && cand.Micro > bestMicro {
			best, found, bestMicro = o, true, cand.Micro
		}
	}
	return best, found
}

// DefaultTable holds the offsets measured against the runtime releases
// this build was validated against. The numbers below are placeholders
// matching the teacher's measured constants for its one supported
// release; a real deployment populates one entry per supported runtime
// version via a build-time measurement tool, following the teacher's own
// disclosed TODO ("look into using CGO ... to generate them instead").
var DefaultTable = NewTable(map[Version]Offsets{
	{Major: 3, Minor: 11, Micro: 0}: {
		ThreadStateCurrentFrame: 40,
		FramePrevious:           24,
		FrameCode:               16,
		FramePrevInstr:          28,
		FrameOwner:              37,
		FrameOwnerGenerator:     1,

		CodeFilename:  80,
		CodeName:      84,
		CodeFirstLine: 48,
		CodeLineTable: 92,
		CodeAdaptive:  116,
		CodeLineArray: 104,
		CodeUnitSize:  2,

		StringStateOffset:  16,
		StringLengthOffset: 8,
		StringHeaderSize:   24,

		BytesLengthOffset: 8,
		BytesDataOffset:   16,

		OpcodeCacheSlot:  0,
		OpcodePushNull:   2,
		OpcodeLoadFast:   85,
		OpcodeLoadAttr:   106,
		OpcodeLoadGlobal: 116,
		OpcodeCall:       171,

		CodeNames:        72,
		TupleSizeOffset:  16,
		TupleItemsOffset: 24,

		FrameExecutable:      16,
		ObjectTypeOffset:     8,
		TypeNameOffset:       24,
		CFuncMethodDefOffset: 16,
		CFuncModuleOffset:    32,
		CFuncSelfOffset:      24,
		MethodDefNameOffset:  0,
	},
})
