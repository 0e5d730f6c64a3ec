// Package interleave implements the Interleaver: merging a native call
// chain and a managed call chain into one chronological stack, lined up
// at the host runtime's bytecode evaluation-loop boundaries.
//
// There is no single teacher file this grounds directly — wzprof profiles
// a WebAssembly guest and never interleaves a native host stack with
// guest bytecode frames. The merge/drain shape below follows the
// teacher's general style of small, single-purpose passes over slices
// (see e.g. offCPULocations in profiler.go), adapted to the bidirectional
// queue-popping algorithm spec.md §4.7 specifies.
package interleave

import "github.com/stealthrocket/rtprof/internal/frame"

// EvalLoopSymbol is the host runtime's bytecode evaluation-loop function
// name, the boundary at which native and managed stacks interleave.
const EvalLoopSymbol = "EvalFrameDefault"

// NativeFrame pairs a resolved native frame with whether its scope is the
// evaluation loop boundary, decided by the caller (who has access to the
// StringTable needed to resolve NameKey into a comparable scope string).
type NativeFrame struct {
	Frame      frame.Frame
	IsEvalLoop bool
}

// Merge interleaves a managed call chain and a native call chain into a
// single stack, per spec.md §4.7. Both managed and native are consumed
// front-to-back; hasEntryFrames selects whether this runtime release
// marks managed-stack entry points via Frame.IsShim (newer runtimes,
// where a sub-chain ends at the second such marker) or not (older
// runtimes, where exactly one managed frame is popped per boundary).
//
// Consecutive evaluation-loop native frames are coalesced into a single
// boundary crossing: some runtimes emit the evaluation loop's symbol
// twice in a row around one managed re-entry (e.g. a tail-called
// trampoline), and treating each occurrence as an independent boundary
// would double-pop managed frames or spuriously re-emit the native frame
// a second time.
func Merge(managed []frame.Frame, native []NativeFrame, hasEntryFrames bool) []frame.Frame {
	out := make([]frame.Frame, 0, len(managed)+len(native))
	rest := append([]frame.Frame(nil), managed...)

	lastWasEvalLoop := false
	for _, n := range native {
		if !n.IsEvalLoop {
			lastWasEvalLoop = false
			out = append(out, n.Frame)
			continue
		}
		if lastWasEvalLoop {
			continue
		}
		lastWasEvalLoop = true

		if len(rest) == 0 {
			out = append(out, n.Frame)
			continue
		}
		out = append(out, popSubChain(&rest, hasEntryFrames)...)
	}

	if len(rest) > 0 {
		// Anomaly per spec.md §4.7: managed frames remained after the
		// native stack was exhausted. Drain them rather than drop them.
		out = append(out, rest...)
	}
	return out
}

// popSubChain removes and returns one managed sub-chain from the front of
// *rest. On entry-frame-marking runtimes the sub-chain extends through
// the second Frame.IsShim entry encountered (the first marks the boundary
// of the segment just entered; the second starts the next one). On
// runtimes without entry markers exactly one frame is popped.
func popSubChain(rest *[]frame.Frame, hasEntryFrames bool) []frame.Frame {
	var sub []frame.Frame
	shimsSeen := 0
	for len(*rest) > 0 {
		f := (*rest)[0]
		*rest = (*rest)[1:]
		sub = append(sub, f)

		if !hasEntryFrames {
			break
		}
		if f.IsShim {
			shimsSeen++
			if shimsSeen >= 2 {
				break
			}
		}
	}
	return sub
}
