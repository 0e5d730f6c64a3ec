package binproto

import (
	"bufio"
	"io"
	"sync"
)

// EventType enumerates the closed set of events the stream can carry.
type EventType byte

const (
	EventReserved EventType = iota
	EventMetadata
	EventStackHeader
	EventFrameFull
	EventFrameInvalid
	EventFrameRef
	EventFrameKernel
	EventGC
	EventIdle
	EventMetricTime
	EventMetricMemory
	EventStringFull
	EventStringRef
)

// streamMagic is the fixed header written once at the start of the stream.
var streamMagic = [3]byte{'M', 'O', 'J'}

// StreamVersion is the current encoding version, written as a varint right
// after the magic bytes.
const StreamVersion = 1

// Writer serializes events to an underlying io.Writer as a self-delimiting
// binary stream. All writes are serialized by a single mutex so that no
// partial event is ever interleaved, matching the single-writer-lock
// discipline the sampler and allocator shim both rely on.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	buf []byte
	err error
}

// NewWriter wraps w and writes the stream header immediately.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := &Writer{w: bufio.NewWriter(w)}
	if _, err := bw.w.Write(streamMagic[:]); err != nil {
		return nil, err
	}
	bw.buf = EncodeUvarint(bw.buf[:0], StreamVersion)
	if _, err := bw.w.Write(bw.buf); err != nil {
		return nil, err
	}
	return bw, nil
}

// WriteEvent writes one event: its type tag followed by the varint-encoded
// fields supplied by the caller. fields are written in order, each as a
// single varint; callers needing raw byte payloads (string contents, frame
// name bytes) use WriteEventWithPayload instead.
func (w *Writer) WriteEvent(typ EventType, fields ...int64) error {
	return w.WriteEventWithPayload(typ, fields, nil)
}

// WriteEventWithPayload writes an event type tag, a sequence of varint
// fields, and a trailing length-prefixed byte payload (used for string and
// frame name data). payload may be nil.
func (w *Writer) WriteEventWithPayload(typ EventType, fields []int64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}

	buf := w.buf[:0]
	buf = append(buf, byte(typ))
	for _, f := range fields {
		buf = EncodeVarint(buf, f)
	}
	if payload != nil {
		buf = EncodeUvarint(buf, uint64(len(payload)))
	}
	if _, err := w.w.Write(buf); err != nil {
		w.err = err
		return err
	}
	if payload != nil {
		if _, err := w.w.Write(payload); err != nil {
			w.err = err
			return err
		}
	}
	w.buf = buf[:0]
	return nil
}

// Flush flushes buffered output to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Close flushes the stream. It does not close the underlying io.Writer.
func (w *Writer) Close() error {
	return w.Flush()
}
