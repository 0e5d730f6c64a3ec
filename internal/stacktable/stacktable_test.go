package stacktable

import (
	"testing"

	"github.com/stealthrocket/rtprof/internal/frame"
)

func TestInternReturnsSameStackForEqualSequences(t *testing.T) {
	tbl := New()
	seq := []frame.Frame{{CacheKey: 1}, {CacheKey: 2}, {CacheKey: 3}}

	a := tbl.Intern(seq)
	b := tbl.Intern(append([]frame.Frame(nil), seq...))

	if a != b {
		t.Fatalf("expected identical stacks to intern to the same pointer")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 interned stack, got %d", tbl.Len())
	}
}

func TestInternDistinguishesDifferentSequences(t *testing.T) {
	tbl := New()
	a := tbl.Intern([]frame.Frame{{CacheKey: 1}, {CacheKey: 2}})
	b := tbl.Intern([]frame.Frame{{CacheKey: 2}, {CacheKey: 1}})

	if a == b {
		t.Fatal("expected distinct frame orderings to intern separately")
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 interned stacks, got %d", tbl.Len())
	}
}

func TestInternDetectsHashCollision(t *testing.T) {
	tbl := New()

	// seqA's natural key is used as the bucket a distinct, manually
	// inserted sequence is placed under below.
	seqA := []frame.Frame{{CacheKey: 0x1}, {CacheKey: 0x2}}
	collidingKey := ComputeKey(seqA)

	// Force an artificial collision by inserting a manually-colliding
	// bucket entry, then confirm Intern still distinguishes it from a
	// later distinct sequence that happens to land on the same key.
	tbl.buckets[collidingKey] = append(tbl.buckets[collidingKey], &Stack{
		Frames: []frame.Frame{{CacheKey: 0xFF}},
		Key:    collidingKey,
	})

	s := tbl.Intern(seqA)
	if !stackEqual(s.Frames, seqA) {
		t.Fatalf("Intern returned wrong stack for colliding key: %+v", s.Frames)
	}
	if tbl.Collisions() != 1 {
		t.Fatalf("expected 1 recorded collision, got %d", tbl.Collisions())
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected both the forced entry and the new one to coexist, got %d", tbl.Len())
	}
	if s.Key == collidingKey {
		t.Fatalf("expected the colliding stack to get a Key distinct from the bucket hash %#x, got the same value", collidingKey)
	}
}

func TestInternSecondaryKeysDoNotCollideWithEachOther(t *testing.T) {
	tbl := New()
	collidingKey := ComputeKey([]frame.Frame{{CacheKey: 0x1}, {CacheKey: 0x2}})

	tbl.buckets[collidingKey] = append(tbl.buckets[collidingKey], &Stack{
		Frames: []frame.Frame{{CacheKey: 0xFF}},
		Key:    collidingKey,
	})
	tbl.buckets[collidingKey] = append(tbl.buckets[collidingKey], &Stack{
		Frames: []frame.Frame{{CacheKey: 0xFE}},
		Key:    secondaryKey(collidingKey, 1),
	})

	s := tbl.Intern([]frame.Frame{{CacheKey: 0x1}, {CacheKey: 0x2}})

	if s.Key == collidingKey || s.Key == secondaryKey(collidingKey, 1) {
		t.Fatalf("expected a third colliding stack's Key to avoid both prior slots, got %#x", s.Key)
	}
}

func TestClearDropsAllEntriesButKeepsExistingPointersValid(t *testing.T) {
	tbl := New()
	s := tbl.Intern([]frame.Frame{{CacheKey: 42}})

	tbl.Clear()

	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after Clear, got %d", tbl.Len())
	}
	if s.Frames[0].CacheKey != 42 {
		t.Fatal("existing *Stack should remain valid after Clear")
	}

	s2 := tbl.Intern([]frame.Frame{{CacheKey: 42}})
	if s2 == s {
		t.Fatal("expected a fresh interning after Clear, not the pre-Clear pointer")
	}
}
