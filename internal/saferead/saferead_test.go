package saferead

import "testing"

func TestLowPageAddressesAreRefused(t *testing.T) {
	r, err := New(WithStrategy(StrategyTrampoline))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	dst := make([]byte, 8)
	for addr := uintptr(0); addr < pageSize; addr += 512 {
		if err := r.Copy(dst, addr); err != ErrFault {
			t.Fatalf("Copy(%#x): got %v, want ErrFault", addr, err)
		}
	}
}

func TestZeroLengthReadAlwaysSucceeds(t *testing.T) {
	r, err := New(WithStrategy(StrategyTrampoline))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Copy(nil, 0); err != nil {
		t.Fatalf("zero-length Copy: %v", err)
	}
}

func TestCopyFromValidLocalMemory(t *testing.T) {
	r, err := New(WithStrategy(StrategyTrampoline))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	src := []byte("hello, world")
	dst := make([]byte, len(src))

	var addr uintptr
	addr = addressOf(src)
	if err := r.Copy(dst, addr); err != nil {
		t.Fatalf("Copy from valid memory: %v", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("Copy produced %q, want %q", dst, src)
	}
}

func TestAliasedDestinationIsDisallowed(t *testing.T) {
	r, err := New(WithStrategy(StrategyTrampoline))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	dst := make([]byte, 8)
	if err := r.Copy(dst, addressOf(dst)); err != ErrInvalidArgs {
		t.Fatalf("aliased Copy: got %v, want ErrInvalidArgs", err)
	}
}

func TestMirrorStrategyFaultContainment(t *testing.T) {
	r, err := New(WithStrategy(StrategyMirror))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	dst := make([]byte, 16)
	if err := r.Copy(dst, 8); err != ErrFault {
		t.Fatalf("mirror Copy(8): got %v, want ErrFault", err)
	}
}
