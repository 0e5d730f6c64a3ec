package saferead

import (
	"runtime/debug"
	"unsafe"
)

// probeTrampolineStrategy is always available: with debug.SetPanicOnFault
// armed (see copyChunkRecoverable), the Go runtime turns a synchronous
// invalid-memory access into a goroutine-scoped panic rather than crashing
// the process, which is recoverable with a deferred recover(). This plays
// the role the spec's process-wide SIGSEGV/SIGBUS handler plays in a
// native trampoline: the "arm" step is SetPanicOnFault(true), the
// "landing site" is the recover call itself, and "disarm" is restoring the
// previous SetPanicOnFault setting.
func probeTrampolineStrategy() bool { return true }

// installTrampolineHandler is a no-op on this implementation: there is no
// process-wide signal handler to install or alt-stack to set up, since
// fault recovery here is scoped per call via recover rather than per
// thread via sigaltstack.
func installTrampolineHandler() {}

// copyTrampoline copies dst from src in page-bounded chunks, so a single
// invalid page faults at most once per chunk.
func (r *Reader) copyTrampoline(dst []byte, src uintptr) error {
	for len(dst) > 0 {
		chunk := len(dst)
		if rem := pageSize - int(src%pageSize); rem < chunk {
			chunk = rem
		}
		if err := copyChunkRecoverable(dst[:chunk], src); err != nil {
			return err
		}
		dst = dst[chunk:]
		src += uintptr(chunk)
	}
	return nil
}

// copyChunkRecoverable performs one bounded raw memory copy, converting any
// panic raised by an invalid dereference into ErrFault.
//
// Go only turns a bad dereference into a recoverable panic instead of a
// fatal, unrecoverable crash of the whole process when SetPanicOnFault is
// armed for the calling goroutine (runtime/debug's own doc: "By default,
// the program crashes"). That arming is scoped to the current goroutine
// and does not nest, so it is set immediately before the unsafe read and
// restored to whatever it was before on every return path, successful or
// not.
func copyChunkRecoverable(dst []byte, src uintptr) (err error) {
	prev := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(prev)
		if recover() != nil {
			err = ErrFault
		}
	}()
	remote := unsafe.Slice((*byte)(unsafe.Pointer(src)), len(dst))
	copy(dst, remote)
	return nil
}
