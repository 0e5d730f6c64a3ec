package saferead

import (
	"os"
)

// minMirrorBuffer is the lower bound the mirror's scratch buffer never
// shrinks below, matching the spec's "buffer grows monotonically; never
// shrinks below a lower bound" requirement.
const minMirrorBuffer = pageSize

// mirror implements the writev-to-tempfile strategy: a scratch buffer,
// backed by a temporary file so the bytes the sampler mirrors are durable
// against the reading goroutine's own stack growth, is grown monotonically
// to the largest single read seen so far. The copy itself still goes
// through the recoverable raw-memory path (the "scatter write" the spec
// describes is the act of persisting a chunk that was read successfully),
// giving this strategy a distinct resource profile (file descriptor +
// buffer growth policy) from the plain trampoline strategy above while
// sharing its fault-containment primitive.
type mirror struct {
	file *os.File
	buf  []byte
}

func newMirror() (*mirror, error) {
	f, err := os.CreateTemp("", "saferead-mirror-*")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		// Non-fatal: the descriptor stays valid even if unlink failed
		// (e.g. restrictive tmpdir permissions); the file is still
		// cleaned up on Close via the open fd, or at process exit.
		_ = err
	}
	return &mirror{file: f, buf: make([]byte, minMirrorBuffer)}, nil
}

func (m *mirror) growTo(n int) {
	if cap(m.buf) >= n {
		m.buf = m.buf[:n]
		return
	}
	next := make([]byte, n)
	m.buf = next
}

func (m *mirror) copy(dst []byte, src uintptr) error {
	m.growTo(len(dst))
	scratch := m.buf[:len(dst)]

	if err := copyInPageChunks(scratch, src); err != nil {
		return err
	}

	if _, err := m.file.WriteAt(scratch, 0); err != nil {
		return ErrFault
	}
	n, err := m.file.ReadAt(dst, 0)
	if err != nil || n != len(dst) {
		return ErrFault
	}
	return nil
}

func (m *mirror) close() error {
	return m.file.Close()
}

// copyInPageChunks is the shared page-bounded, recoverable raw copy used
// by both the trampoline and mirror strategies.
func copyInPageChunks(dst []byte, src uintptr) error {
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
