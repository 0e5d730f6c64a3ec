// Package render implements the WhereRenderer: printing a live thread
// snapshot either as a further binary event stream or as a
// human-readable dump, on the single on-demand "where" request.
//
// Grounded on saferead's Strategy tagged variant (per spec.md §9's "The
// Renderer has two flavors (binary, pretty) — model the same way"): a
// single Render entry point switches on a Format value rather than
// dispatching through an interface hierarchy of renderer types.
package render

import (
	"bufio"
	"fmt"
	"io"

	"github.com/stealthrocket/rtprof/internal/binproto"
	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/strtab"
)

// Format selects the snapshot's output encoding.
type Format int

const (
	// FormatPretty renders a human-readable dump, one stanza per thread.
	FormatPretty Format = iota
	// FormatBinary renders the snapshot using the same self-delimiting
	// event stream the Sampler emits (stack header and frame events,
	// with no metric payload since a "where" snapshot carries no time or
	// memory delta).
	FormatBinary
)

// ThreadSnapshot is one thread's captured state at the moment the
// "where" request was served.
type ThreadSnapshot struct {
	ThreadIdentity uint64
	DisplayName    string
	Frames         []frame.Frame
}

// Render writes threads to w in the requested format. strings resolves
// the FilenameKey/NameKey references held by each frame.
func Render(w io.Writer, format Format, threads []ThreadSnapshot, strings *strtab.Table) error {
	switch format {
	case FormatPretty:
		return renderPretty(w, threads, strings)
	case FormatBinary:
		return renderBinary(w, threads, strings)
	default:
		return fmt.Errorf("render: unknown format %d", format)
	}
}

// renderPretty writes one stanza per thread, leaf frame first, hiding
// shim frames per spec.md §3's "rendered-hidden" note on is_shim.
func renderPretty(w io.Writer, threads []ThreadSnapshot, strings *strtab.Table) error {
	bw := bufio.NewWriter(w)
	for _, t := range threads {
		fmt.Fprintf(bw, "Thread %q (id=%d):\n", t.DisplayName, t.ThreadIdentity)
		any := false
		for _, f := range t.Frames {
			if f.IsShim {
				continue
			}
			any = true
			name := strings.LookupOrUnknown(f.NameKey)
			file := strings.LookupOrUnknown(f.FilenameKey)
			if f.Location.LineStart != 0 {
				fmt.Fprintf(bw, "  %s (%s:%d)\n", name, file, f.Location.LineStart)
			} else {
				fmt.Fprintf(bw, "  %s (%s)\n", name, file)
			}
		}
		if !any {
			fmt.Fprintf(bw, "  <no frames>\n")
		}
	}
	return bw.Flush()
}

// renderBinary writes the snapshot using binproto's event encoding so
// the same offline tooling that reads a recorded profile can read a
// "where" dump.
func renderBinary(w io.Writer, threads []ThreadSnapshot, strings *strtab.Table) error {
	bw, err := binproto.NewWriter(w)
	if err != nil {
		return err
	}

	for _, t := range threads {
		if err := bw.WriteEvent(binproto.EventStackHeader, int64(t.ThreadIdentity)); err != nil {
			return err
		}
		for _, f := range t.Frames {
			name := strings.LookupOrUnknown(f.NameKey)
			if err := bw.WriteEventWithPayload(binproto.EventFrameFull,
				[]int64{int64(f.CacheKey), int64(f.FilenameKey), int64(f.Location.LineStart), int64(f.Location.LineEnd)},
				[]byte(name)); err != nil {
				return err
			}
		}
	}
	return bw.Close()
}
