package abi

import "testing"

func TestLookupExactVersion(t *testing.T) {
	tbl := NewTable(map[Version]Offsets{
		{Major: 3, Minor: 11, Micro: 0}: {FrameCode: 16},
		{Major: 3, Minor: 12, Micro: 0}: {FrameCode: 20},
	})

	o, ok := tbl.Lookup(Version{Major: 3, Minor: 11, Micro: 0})
	if !ok || o.FrameCode != 16 {
		t.Fatalf("expected exact match with FrameCode=16, got %+v ok=%v", o, ok)
	}
}

func TestLookupFallsBackToNearestMicro(t *testing.T) {
	tbl := NewTable(map[Version]Offsets{
		{Major: 3, Minor: 11, Micro: 0}: {FrameCode: 16},
		{Major: 3, Minor: 11, Micro: 4}: {FrameCode: 18},
	})

	o, ok := tbl.Lookup(Version{Major: 3, Minor: 11, Micro: 9})
	if !ok || o.FrameCode != 18 {
		t.Fatalf("expected fallback to micro=4 entry (FrameCode=18), got %+v ok=%v", o, ok)
	}
}

func TestLookupMissingMinorFails(t *testing.T) {
	tbl := NewTable(map[Version]Offsets{
		{Major: 3, Minor: 11, Micro: 0}: {FrameCode: 16},
	})

	_, ok := tbl.Lookup(Version{Major: 3, Minor: 12, Micro: 0})
	if ok {
		t.Fatal("expected no match for an unregistered minor version")
	}
}

func TestHasOwnerTag(t *testing.T) {
	withTag := Offsets{FrameOwner: 37}
	withoutTag := Offsets{FrameOwner: 0}

	if !withTag.HasOwnerTag() {
		t.Fatal("expected HasOwnerTag true when FrameOwner is non-zero")
	}
	if withoutTag.HasOwnerTag() {
		t.Fatal("expected HasOwnerTag false when FrameOwner is zero")
	}
}

func TestVersionString(t *testing.T) {
	v := Version{Major: 3, Minor: 11, Micro: 4}
	if got, want := v.String(), "3.11.4"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
