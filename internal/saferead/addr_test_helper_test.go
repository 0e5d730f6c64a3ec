package saferead

import "unsafe"

// addressOf returns the address of b's backing array, for tests that need
// to exercise Copy against memory the test process genuinely owns.
func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
