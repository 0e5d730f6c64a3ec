// Package native implements the NativeUnwinder: walking the native call
// stack of the thread currently executing, and symbolizing each program
// counter into a scope name via a sorted symbol table and C++ demangling.
//
// Grounded on the teacher's pclntab.go, which parses a Go binary's
// function symbol table into an address-sorted lookup structure; here the
// lookup structure is the same shape (sorted-by-address table, binary
// search for the enclosing symbol) but built from the host process's own
// symbol table rather than parsed out of a WebAssembly Data section,
// since the unwinder now walks a real native stack rather than a wazero
// guest's. Demangling uses github.com/ianlancetaylor/demangle, one of the
// domain dependencies named in the wider example pack for exactly this
// purpose.
package native

import (
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/strtab"
)

// Cursor walks a native call stack one frame at a time, leaf first.
// Platform-specific implementations (frame-pointer chasing, DWARF CFI,
// or a signal-delivered context) satisfy this by wrapping whatever
// stack-unwinding primitive the platform provides; spec.md §4.6 treats
// the choice as a platform concern this package is agnostic to.
type Cursor interface {
	// Next advances to the next frame and returns its program counter.
	// ok is false once the walk is exhausted.
	Next() (pc uint64, ok bool)
}

// Symbol is one entry in a sorted-by-address symbol table.
type Symbol struct {
	LowPC uint64
	Name  string // possibly mangled
	File  string
}

// SymbolTable resolves a program counter to the enclosing Symbol via
// binary search, mirroring the teacher's pclntab-derived function table.
type SymbolTable struct {
	symbols []Symbol // sorted ascending by LowPC
}

// NewSymbolTable builds a SymbolTable from an unsorted slice of symbols,
// sorting a private copy.
func NewSymbolTable(symbols []Symbol) *SymbolTable {
	t := &SymbolTable{symbols: append([]Symbol(nil), symbols...)}
	sort.Slice(t.symbols, func(i, j int) bool { return t.symbols[i].LowPC < t.symbols[j].LowPC })
	return t
}

// Lookup returns the Symbol whose address range contains pc, and whether
// one was found.
func (t *SymbolTable) Lookup(pc uint64) (Symbol, bool) {
	if len(t.symbols) == 0 || pc < t.symbols[0].LowPC {
		return Symbol{}, false
	}
	i := sort.Search(len(t.symbols), func(i int) bool { return t.symbols[i].LowPC > pc })
	if i == 0 {
		return Symbol{}, false
	}
	return t.symbols[i-1], true
}

// Symbolizer turns a program counter into a resolved frame.Frame,
// registering its names in the shared StringTable and demangling C++
// scope names. Entries that cannot be symbolized render as
// "native@<hex-pc>" with an empty file, per spec.md §4.6.
type Symbolizer struct {
	table   *SymbolTable
	strings *strtab.Table
}

// NewSymbolizer constructs a Symbolizer backed by table, registering
// resolved names into strings.
func NewSymbolizer(table *SymbolTable, strings *strtab.Table) *Symbolizer {
	return &Symbolizer{table: table, strings: strings}
}

// Resolve resolves one native program counter into a frame.Frame. The
// cache key is the PC itself, per spec.md §4.4.
func (s *Symbolizer) Resolve(pc uint64) frame.Frame {
	key := frame.MakeNativeKey(pc)

	sym, ok := s.table.Lookup(pc)
	if !ok {
		name := unresolvedName(pc)
		nameKey := strtab.KeyForContent(name)
		s.strings.Register(nameKey, name)
		return frame.Frame{NameKey: nameKey, CacheKey: key}
	}

	name := demangleName(sym.Name)
	nameKey := strtab.KeyForContent(name)
	s.strings.Register(nameKey, name)

	var filenameKey uint64
	if sym.File != "" {
		filenameKey = strtab.KeyForContent(sym.File)
		s.strings.Register(filenameKey, sym.File)
	}

	return frame.Frame{FilenameKey: filenameKey, NameKey: nameKey, CacheKey: key}
}

func demangleName(mangled string) string {
	demangled, err := demangle.ToString(mangled)
	if err != nil {
		return mangled
	}
	return demangled
}

func unresolvedName(pc uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 0, len("native@0x")+16)
	buf = append(buf, "native@0x"...)
	started := false
	for shift := 60; shift >= 0; shift -= 4 {
		nibble := byte(pc>>uint(shift)) & 0xF
		if nibble != 0 || started || shift == 0 {
			buf = append(buf, hexDigits[nibble])
			started = true
		}
	}
	return string(buf)
}

// Unwind walks cur to completion, capped at maxFrames, symbolizing each
// program counter in turn and dropping the trailing two frames when
// dropTrailing is set (the signal trampoline and handler frames present
// in a signal-delivered capture, per spec.md §4.6).
func Unwind(cur Cursor, sym *Symbolizer, maxFrames int, dropTrailing bool) []frame.Frame {
	var out []frame.Frame
	for len(out) < maxFrames {
		pc, ok := cur.Next()
		if !ok {
			break
		}
		out = append(out, sym.Resolve(pc))
	}
	if dropTrailing && len(out) >= 2 {
		out = out[:len(out)-2]
	} else if dropTrailing {
		out = out[:0]
	}
	return out
}
