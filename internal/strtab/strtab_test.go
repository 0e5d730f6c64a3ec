package strtab

import "testing"

func TestRoundTripByContentKey(t *testing.T) {
	tab := New(nil)
	s := "foo.bar.baz"
	key := KeyForContent(s)
	tab.Register(key, s)

	got, ok := tab.Lookup(key)
	if !ok || got != s {
		t.Fatalf("Lookup(%#x) = %q, %v; want %q, true", key, got, ok, s)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	tab := New(nil)
	key := KeyForContent("stable")
	tab.Register(key, "stable")
	tab.Register(key, "stable")
	tab.Register(key, "stable")

	got, _ := tab.Lookup(key)
	if got != "stable" {
		t.Fatalf("idempotent registration corrupted value: got %q", got)
	}
}

func TestRegisterFirstWriterWins(t *testing.T) {
	tab := New(nil)
	key := uint64(42)
	tab.Register(key, "first")
	tab.Register(key, "second")

	got, _ := tab.Lookup(key)
	if got != "first" {
		t.Fatalf("expected first-writer-wins, got %q", got)
	}
}

func TestSentinelsPreregistered(t *testing.T) {
	tab := New(nil)
	if _, ok := tab.Lookup(KeyInvalid); !ok {
		t.Fatal("KeyInvalid should be pre-registered")
	}
	if _, ok := tab.Lookup(KeyUnknown); !ok {
		t.Fatal("KeyUnknown should be pre-registered")
	}
}

func TestLookupOrUnknown(t *testing.T) {
	tab := New(nil)
	unknown, _ := tab.Lookup(KeyUnknown)
	if got := tab.LookupOrUnknown(0xdeadbeef); got != unknown {
		t.Fatalf("LookupOrUnknown for missing key = %q, want %q", got, unknown)
	}
}
