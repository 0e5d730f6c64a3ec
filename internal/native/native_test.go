package native

import (
	"testing"

	"github.com/stealthrocket/rtprof/internal/strtab"
)

type sliceCursor struct {
	pcs []uint64
	i   int
}

func (c *sliceCursor) Next() (uint64, bool) {
	if c.i >= len(c.pcs) {
		return 0, false
	}
	pc := c.pcs[c.i]
	c.i++
	return pc, true
}

func TestSymbolTableLookupFindsEnclosingSymbol(t *testing.T) {
	tbl := NewSymbolTable([]Symbol{
		{LowPC: 0x1000, Name: "foo"},
		{LowPC: 0x2000, Name: "bar"},
	})

	sym, ok := tbl.Lookup(0x1500)
	if !ok || sym.Name != "foo" {
		t.Fatalf("expected foo, got %+v ok=%v", sym, ok)
	}

	sym, ok = tbl.Lookup(0x2500)
	if !ok || sym.Name != "bar" {
		t.Fatalf("expected bar, got %+v ok=%v", sym, ok)
	}
}

func TestSymbolTableLookupBelowFirstSymbolFails(t *testing.T) {
	tbl := NewSymbolTable([]Symbol{{LowPC: 0x1000, Name: "foo"}})

	if _, ok := tbl.Lookup(0x500); ok {
		t.Fatal("expected no match below the first symbol")
	}
}

func TestResolveDemanglesKnownSymbol(t *testing.T) {
	tbl := NewSymbolTable([]Symbol{{LowPC: 0x1000, Name: "_Znwm"}})
	strings := strtab.New(nil)
	sym := NewSymbolizer(tbl, strings)

	f := sym.Resolve(0x1000)
	name, _ := strings.Lookup(f.NameKey)
	if name != "operator new(unsigned long)" {
		t.Fatalf("expected demangled name, got %q", name)
	}
}

func TestResolveUnknownPCFallsBackToHexLabel(t *testing.T) {
	tbl := NewSymbolTable(nil)
	strings := strtab.New(nil)
	sym := NewSymbolizer(tbl, strings)

	f := sym.Resolve(0xDEAD)
	name, _ := strings.Lookup(f.NameKey)
	if name != "native@0xdead" {
		t.Fatalf("expected native@0xdead, got %q", name)
	}
}

func TestUnwindDropsTrailingSignalFrames(t *testing.T) {
	tbl := NewSymbolTable([]Symbol{{LowPC: 0x1000, Name: "a"}})
	strings := strtab.New(nil)
	sym := NewSymbolizer(tbl, strings)

	cur := &sliceCursor{pcs: []uint64{0x1000, 0x1001, 0x1002, 0x1003}}
	frames := Unwind(cur, sym, 10, true)

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames after dropping trailing 2, got %d", len(frames))
	}
}

func TestUnwindRespectsMaxFrames(t *testing.T) {
	tbl := NewSymbolTable([]Symbol{{LowPC: 0x1000, Name: "a"}})
	strings := strtab.New(nil)
	sym := NewSymbolizer(tbl, strings)

	cur := &sliceCursor{pcs: []uint64{0x1000, 0x1001, 0x1002, 0x1003, 0x1004}}
	frames := Unwind(cur, sym, 3, false)

	if len(frames) != 3 {
		t.Fatalf("expected depth bound of 3, got %d", len(frames))
	}
}
