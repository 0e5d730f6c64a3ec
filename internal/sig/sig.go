// Package sig installs the two asynchronous handlers spec.md §4.13
// describes: a profile-signal handler that triggers a native+managed
// stack capture, and a quit-signal handler that wakes the "where
// listener" thread.
//
// Real async-signal-safety (no allocation, no locks beyond the one
// sigprof mutex, thread-directed delivery) is a property of the host
// OS's signal delivery and the C calling convention; Go's runtime
// intercepts OS signals onto its own internal dispatch goroutine before
// any user handler runs, so a literal port of a SIGPROF-handler-writes-
// thread-local-buffers design doesn't apply unmodified. This package
// keeps the design's shape — a profile signal and a quit signal, a
// single mutex coordinating delivery with completion, restore-on-stop —
// and follows saferead's build-tag split (kernel_linux.go vs
// kernel_other.go) for the platform-specific notification primitive.
package sig

import (
	"os"
	"sync"
)

// Handlers owns the two signal notification channels and the mutex the
// Sampler uses to synchronize with the profile-signal dispatch, per
// spec.md §5 ("The sigprof handler coordinates with the Sampler via one
// process-wide mutex").
type Handlers struct {
	sigprofMu sync.Mutex

	profileCh chan os.Signal
	quitCh    chan os.Signal

	quitMu   sync.Mutex
	quitCond *sync.Cond
	woken    bool

	installed    bool
	stopDispatch chan struct{}
}

// New constructs Handlers in the uninstalled state.
func New() *Handlers {
	h := &Handlers{
		profileCh: make(chan os.Signal, 1),
		quitCh:    make(chan os.Signal, 1),
	}
	h.quitCond = sync.NewCond(&h.quitMu)
	return h
}

// Install registers both handlers with the OS, per spec.md §4.13
// ("installed at start"). Install is idempotent.
func (h *Handlers) Install() {
	if h.installed {
		return
	}
	installPlatform(h.profileCh, h.quitCh)
	h.stopDispatch = make(chan struct{})
	go h.dispatch(h.stopDispatch)
	h.installed = true
}

// dispatch forwards quit-channel notifications to notifyQuit until
// stopped; it is the Go-level stand-in for the original handler running
// directly on the signal stack.
func (h *Handlers) dispatch(stop chan struct{}) {
	for {
		select {
		case <-h.quitCh:
			h.notifyQuit()
		case <-stop:
			return
		}
	}
}

// Restore removes both handlers, restoring default disposition, per
// spec.md §4.13 ("restored to default at stop").
func (h *Handlers) Restore() {
	if !h.installed {
		return
	}
	restorePlatform(h.profileCh, h.quitCh)
	close(h.stopDispatch)
	h.installed = false
}

// DeliverProfileSignal blocks until a profile-signal delivery has been
// observed and processed. The Sampler calls this from sample() to
// "deliver a SIGPROF-equivalent to the thread" and synchronize on
// completion (spec.md §4.10): it locks sigprofMu, runs capture on the
// calling goroutine, and unlocks sigprofMu when capture returns. No OS
// signal is sent.
func (h *Handlers) DeliverProfileSignal(capture func()) {
	h.sigprofMu.Lock()
	defer h.sigprofMu.Unlock()
	capture()
}

// WaitForQuitSignal blocks the calling goroutine (the "where listener")
// until a quit signal arrives, mirroring the condition-variable wait
// spec.md §5 describes. It returns immediately if a quit signal already
// arrived since the last call.
func (h *Handlers) WaitForQuitSignal() {
	h.quitMu.Lock()
	defer h.quitMu.Unlock()
	for !h.woken {
		h.quitCond.Wait()
	}
	h.woken = false
}

// notifyQuit translates a delivered quit signal into a condition-variable
// wakeup. Profile-signal delivery has no analogous wakeup here: it is
// driven synchronously by DeliverProfileSignal instead, since the Sampler
// already knows when it wants a capture rather than waiting to be told.
func (h *Handlers) notifyQuit() {
	h.quitMu.Lock()
	h.woken = true
	h.quitMu.Unlock()
	h.quitCond.Broadcast()
}
