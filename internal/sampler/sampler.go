// Package sampler implements the Sampler: the thread that periodically
// walks every tracked thread's stack, interns what it finds, and emits
// the resulting events.
//
// Grounded on the teacher's CPUProfiler (cpu.go): the same
// mutex-guarded start/stop pair, the same "time func() time.Time" clock
// injection for testability, generalized from wazero's single in-process
// call stack to the many-OS-thread, many-mode model spec.md §4.10
// describes.
package sampler

import (
	"errors"
	"sync"
	"time"

	"github.com/stealthrocket/rtprof/internal/binproto"
	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/framecache"
	"github.com/stealthrocket/rtprof/internal/interleave"
	"github.com/stealthrocket/rtprof/internal/native"
	"github.com/stealthrocket/rtprof/internal/registry"
	"github.com/stealthrocket/rtprof/internal/sig"
	"github.com/stealthrocket/rtprof/internal/stacktable"
	"github.com/stealthrocket/rtprof/internal/strtab"
	"github.com/stealthrocket/rtprof/internal/task"
)

// Mode selects what the Sampler measures and how it drives itself, per
// spec.md §4.10.
type Mode int

const (
	ModeWall Mode = iota
	ModeCPU
	ModeMemory
	ModeWhere
)

// ErrAlreadyRunning is returned by Start when the Sampler is already
// ticking.
var ErrAlreadyRunning = errors.New("sampler: already running")

// ManagedUnwinder resolves a thread's current managed frame pointer into
// a full frame sequence. *unwind.Unwinder satisfies this; tests supply a
// fake.
type ManagedUnwinder interface {
	Unwind(frameAddr uintptr) []frame.Frame
}

// Runtime is the host collaborator the Sampler asks for everything that
// depends on the runtime's internals: where a thread's interpreter frame
// currently is, whether it's running, its native stack cursor, and its
// event loop's live tasks. This mirrors task.Source's decoupling: the
// Sampler never reaches into runtime structures directly, so it stays
// testable against an in-memory fake.
type Runtime interface {
	CurrentFrame(threadIdentity uint64) (uintptr, error)
	IsRunning(threadIdentity uint64) bool
	CPUTime(handle registry.CPUClockHandle) (uint64, error)
	NativeCursor(threadIdentity uint64) (native.Cursor, bool)
	EventLoopTasks(loop registry.EventLoopHandle) []uint64
}

// Config controls the Sampler's driving mode and feature toggles.
type Config struct {
	Mode                    Mode
	Interval                time.Duration
	MaxFrames               int
	NativeUnwindingEnabled  bool
	TaskTrackingEnabled     bool
	IgnoreNonRunningThreads bool
	ProcessID               int
	InterpreterID           uint64

	// HasEntryFrames selects which interleave.Merge popping strategy this
	// runtime release needs; see abi.Offsets.HasOwnerTag, which the
	// caller typically derives this from.
	HasEntryFrames bool
}

// Sampler ties every other component together into the periodic driver
// spec.md §4.10 describes.
type Sampler struct {
	cfg Config

	registry   *registry.Registry
	runtime    Runtime
	unwinder   ManagedUnwinder
	symbolizer *native.Symbolizer
	tasks      *task.Unwinder
	frameCache *framecache.Cache
	stacks     *stacktable.Table
	strings    *strtab.Table
	writer     *binproto.Writer
	handlers   *sig.Handlers

	now func() time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastTick time.Time
}

// New constructs a Sampler. symbolizer and tasks may be nil when native
// unwinding and async-task tracking are disabled, respectively.
func New(cfg Config, reg *registry.Registry, rt Runtime, unwinder ManagedUnwinder,
	symbolizer *native.Symbolizer, tasks *task.Unwinder, frameCache *framecache.Cache,
	stacks *stacktable.Table, strings *strtab.Table, writer *binproto.Writer, handlers *sig.Handlers,
	now func() time.Time) *Sampler {
	if now == nil {
		now = time.Now
	}
	return &Sampler{
		cfg:        cfg,
		registry:   reg,
		runtime:    rt,
		unwinder:   unwinder,
		symbolizer: symbolizer,
		tasks:      tasks,
		frameCache: frameCache,
		stacks:     stacks,
		strings:    strings,
		writer:     writer,
		handlers:   handlers,
		now:        now,
	}
}

// Start installs signal handlers (if native unwinding is enabled) and
// begins ticking at cfg.Interval on a background goroutine, per spec.md
// §4.10's "On start, initialise FrameCache, install signals, set
// running = true, record last_time." Start returns ErrAlreadyRunning if
// already ticking. Where mode is not driven by Start: Root.Start handles
// it itself without creating a Sampler.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.cfg.NativeUnwindingEnabled {
		s.handlers.Install()
	}
	s.running = true
	s.lastTick = s.now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop()
	return nil
}

// Stop requests cooperative shutdown and blocks until the tick loop has
// observed it and exited, joining it as spec.md §6 describes for the
// control surface's stop().
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done

	if s.cfg.NativeUnwindingEnabled {
		s.handlers.Restore()
	}
	_ = s.writer.Close()
}

// loop is the tick-interval driver: compute now, sample every registered
// thread, then busy-wait (via a timer, not a spin) until the next tick
// boundary, per spec.md §4.10 and §5's "cooperative busy-wait in short
// intervals to keep latency tight."
func (s *Sampler) loop() {
	defer close(s.doneCh)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one sampling pass over every currently tracked thread.
// Ordering guarantee per spec.md §5: within one tick threads are sampled
// sequentially; across ticks, time deltas are taken against the previous
// tick's timestamp, never a per-thread last-sample time.
func (s *Sampler) tick() {
	now := s.now()
	s.mu.Lock()
	delta := now.Sub(s.lastTick)
	s.lastTick = now
	s.mu.Unlock()

	for _, t := range s.registry.Snapshot() {
		s.sample(t, delta)
	}
}

// sample captures one thread's stack (and, in memory mode, would be fed
// by the allocator shim instead) and emits the resulting events, per
// spec.md §4.10's sample(thread, delta) description.
func (s *Sampler) sample(t registry.ThreadInfo, delta time.Duration) {
	if s.cfg.Mode == ModeCPU {
		cpuTime, err := s.runtime.CPUTime(t.CPUClockHandle)
		if err != nil {
			return
		}
		if s.cfg.IgnoreNonRunningThreads && !s.runtime.IsRunning(t.ThreadIdentity) {
			return
		}
		delta = time.Duration(cpuTime - t.LastCPUTime)
		s.registry.SetLastCPUTime(t.ThreadIdentity, cpuTime)
	}

	frames, ok := s.captureStack(t)
	if !ok {
		return
	}

	if s.cfg.TaskTrackingEnabled && t.HasEventLoop() {
		for _, taskAddr := range s.runtime.EventLoopTasks(t.EventLoopHandle) {
			taskFrames, err := s.tasks.Resolve(taskAddr)
			if err != nil {
				continue
			}
			s.emitStack(t, taskFrames, delta)
		}
		return
	}

	s.emitStack(t, frames, delta)
}

// captureStack resolves one thread's managed (and, if enabled, native)
// frames. When native unwinding is enabled, the capture is synchronized
// through the sigprof lock exactly as spec.md §4.10 describes: "acquire
// the sigprof lock and deliver a SIGPROF-equivalent ... the handler
// unwinds native + managed stacks ... then releases the lock."
func (s *Sampler) captureStack(t registry.ThreadInfo) ([]frame.Frame, bool) {
	frameAddr, err := s.runtime.CurrentFrame(t.ThreadIdentity)
	if err != nil {
		return nil, false
	}

	if !s.cfg.NativeUnwindingEnabled {
		return s.unwinder.Unwind(frameAddr), true
	}

	cur, hasNative := s.runtime.NativeCursor(t.ThreadIdentity)

	var managed []frame.Frame
	s.handlers.DeliverProfileSignal(func() {
		managed = s.unwinder.Unwind(frameAddr)
	})

	if !hasNative {
		return managed, true
	}

	rawNative := native.Unwind(cur, s.symbolizer, s.cfg.MaxFrames, true)
	tagged := make([]interleave.NativeFrame, len(rawNative))
	for i, f := range rawNative {
		name, _ := s.strings.Lookup(f.NameKey)
		tagged[i] = interleave.NativeFrame{Frame: f, IsEvalLoop: name == interleave.EvalLoopSymbol}
	}
	return interleave.Merge(managed, tagged, s.cfg.HasEntryFrames), true
}

// emitStack interns the captured sequence, writes the STACK header,
// frame events (full on first sight, ref thereafter), and the metric
// payload matching the sampler's mode.
func (s *Sampler) emitStack(t registry.ThreadInfo, frames []frame.Frame, delta time.Duration) {
	for _, f := range frames {
		if _, hit := s.frameCache.Lookup(f.CacheKey); !hit {
			s.frameCache.Store(f.CacheKey, f)
			s.writeFrameFull(f)
		} else {
			s.writeFrameRef(f.CacheKey)
		}
	}

	stack := s.stacks.Intern(frames)

	s.writer.WriteEvent(binproto.EventStackHeader,
		int64(s.cfg.ProcessID), int64(s.cfg.InterpreterID), int64(t.ThreadIdentity), int64(stack.Key))

	switch s.cfg.Mode {
	case ModeCPU, ModeWall:
		s.writer.WriteEvent(binproto.EventMetricTime, int64(stack.Key), int64(delta))
	case ModeMemory:
		s.writer.WriteEvent(binproto.EventMetricMemory, int64(stack.Key), int64(delta))
	}
}

func (s *Sampler) writeFrameFull(f frame.Frame) {
	name := s.strings.LookupOrUnknown(f.NameKey)
	s.writer.WriteEventWithPayload(binproto.EventFrameFull,
		[]int64{int64(f.CacheKey), int64(f.FilenameKey), int64(f.Location.LineStart), int64(f.Location.LineEnd)},
		[]byte(name))
}

func (s *Sampler) writeFrameRef(key uint64) {
	s.writer.WriteEvent(binproto.EventFrameRef, int64(key))
}
