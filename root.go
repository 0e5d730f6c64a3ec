//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rtprof ties every subsystem into the single owning root
// structure spec.md §9 calls for ("implementations should expose them
// as a single owning root structure created at init and destroyed at
// shutdown"), and exposes the control surface described in spec.md §6.
package rtprof

import (
	"fmt"
	"os"
	"sync"

	"github.com/stealthrocket/rtprof/internal/abi"
	"github.com/stealthrocket/rtprof/internal/binproto"
	"github.com/stealthrocket/rtprof/internal/framecache"
	"github.com/stealthrocket/rtprof/internal/native"
	"github.com/stealthrocket/rtprof/internal/registry"
	"github.com/stealthrocket/rtprof/internal/render"
	"github.com/stealthrocket/rtprof/internal/saferead"
	"github.com/stealthrocket/rtprof/internal/sampler"
	"github.com/stealthrocket/rtprof/internal/sig"
	"github.com/stealthrocket/rtprof/internal/stacktable"
	"github.com/stealthrocket/rtprof/internal/strtab"
	"github.com/stealthrocket/rtprof/internal/task"
	"github.com/stealthrocket/rtprof/internal/unwind"
)

// HostRuntime is what the embedding program supplies: everything that
// depends on introspecting the actual runtime under profile. Root
// combines this with its own bookkeeping (the ThreadRegistry, the task
// containers supplied via InitAsync) to satisfy sampler.Runtime.
type HostRuntime interface {
	CurrentFrame(threadIdentity uint64) (uintptr, error)
	IsRunning(threadIdentity uint64) bool
	CPUTime(handle registry.CPUClockHandle) (uint64, error)
	NativeCursor(threadIdentity uint64) (native.Cursor, bool)
}

// TaskEnumerator lists a loop's current and scheduled tasks, supplied to
// InitAsync per spec.md §6's init_async(current, scheduled, eager).
type TaskEnumerator interface {
	CurrentTasks(loop registry.EventLoopHandle) []uint64
	ScheduledTasks(loop registry.EventLoopHandle) []uint64
}

// EagerTaskSource optionally supplies a loop's eager task set -- tasks
// started synchronously and not yet handed to the scheduler, following
// echion's current_eager_tasks (see DESIGN.md).
type EagerTaskSource interface {
	EagerTasks(loop registry.EventLoopHandle) []uint64
}

// Root owns every process-wide subsystem: the string/frame/stack
// tables, the thread registry, the configured unwinders, and the
// Sampler built from them. Construct with New, configure with Init, then
// drive with Start/StartAsync and Stop.
type Root struct {
	cfg     Config
	runtime HostRuntime

	reader     *saferead.Reader
	strings    *strtab.Table
	frameCache *framecache.Cache
	stacks     *stacktable.Table
	registry   *registry.Registry
	unwinder   *unwind.Unwinder
	symbolizer *native.Symbolizer
	writer     *binproto.Writer
	handlers   *sig.Handlers

	mu         sync.Mutex
	taskSource task.Source
	tasks      *task.Unwinder
	enumerator TaskEnumerator
	eager      EagerTaskSource
	taskLinks  map[uint64]uint64 // child -> parent

	sampler *sampler.Sampler
	stopped chan struct{}
}

// New constructs an uninitialized Root; call Init before Start.
func New() *Root {
	return &Root{taskLinks: make(map[uint64]uint64)}
}

// Init performs the one-time (or post-fork re-initialization) setup
// spec.md §6 describes: establishing the SafeReader strategy, the
// interning tables, and the managed FrameUnwinder configured from
// offsets selected for runtimeVersion. Init is the one call that can
// fail fatally per spec.md §7: if no SafeReader strategy can be
// established, it returns ErrSafeReaderInit and nothing else is
// started.
func (r *Root) Init(cfg Config, rt HostRuntime, abiTable *abi.Table, runtimeVersion abi.Version) error {
	reader, err := saferead.New(saferead.WithStrategy(cfg.VMReadMode.strategy()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSafeReaderInit, err)
	}

	offsets, ok := abiTable.Lookup(runtimeVersion)
	if !ok {
		return fmt.Errorf("%w: no ABI offsets for runtime version %s", ErrConfig, runtimeVersion)
	}

	capacity := cfg.MaxFrames
	if cfg.Native {
		capacity *= 2
	}

	r.cfg = cfg
	r.runtime = rt
	r.reader = reader
	r.strings = strtab.New(nil)
	r.frameCache = framecache.New(capacity)
	r.stacks = stacktable.New()
	r.registry = registry.New()
	r.unwinder = unwind.New(reader.Copy, offsets, r.strings, r.frameCache, cfg.MaxFrames)
	r.handlers = sig.New()

	if cfg.Native {
		r.symbolizer = native.NewSymbolizer(native.NewSymbolTable(nil), r.strings)
	}

	writer, err := r.openOutput()
	if err != nil {
		return err
	}
	r.writer = writer

	return nil
}

// SetNativeSymbols installs the native symbol table used to resolve
// native program counters; callers typically build this once from the
// host process's own symbol data at Init time.
func (r *Root) SetNativeSymbols(table *native.SymbolTable) {
	r.symbolizer = native.NewSymbolizer(table, r.strings)
}

func (r *Root) openOutput() (*binproto.Writer, error) {
	if r.cfg.Where {
		// where mode writes directly to the configured pipe in runWhere;
		// no streaming writer is needed at Init time.
		return binproto.NewWriter(os.Stdout)
	}
	path := r.cfg.OutputPath
	if path == "" {
		return nil, fmt.Errorf("%w: no output path configured (set OutputPath or RTPROF_OUTPUT)", ErrConfig)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rtprof: opening output: %w", err)
	}
	return binproto.NewWriter(f)
}

// InitAsync supplies the runtime's task containers, enabling per-task
// stack reconstruction for threads with a tracked event loop, per
// spec.md §6's init_async(current, scheduled, eager). eager may be nil.
func (r *Root) InitAsync(source task.Source, enumerator TaskEnumerator, eager EagerTaskSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskSource = source
	r.enumerator = enumerator
	r.eager = eager
	r.tasks = task.New(source, r.strings, r.unwinder)
}

// LinkTasks records that child awaits/was spawned by parent, per
// spec.md §6's link_tasks(parent, child). The link is informational
// bookkeeping consulted by tooling that reconstructs a task tree; it
// does not itself affect stack unwinding.
func (r *Root) LinkTasks(parent, child uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskLinks[child] = parent
}

// ParentOf returns the task that LinkTasks most recently recorded as
// child's parent, if any.
func (r *Root) ParentOf(child uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.taskLinks[child]
	return parent, ok
}

// TrackThread registers a thread with the ThreadRegistry, per spec.md
// §6's track_thread(id, name, native_id).
func (r *Root) TrackThread(threadIdentity, nativeThreadID uint64, name string) {
	r.registry.Track(threadIdentity, nativeThreadID, name)
}

// UntrackThread deregisters a thread, per spec.md §6's untrack_thread.
func (r *Root) UntrackThread(threadIdentity uint64) {
	r.registry.Untrack(threadIdentity)
}

// TrackEventLoop associates an event loop with an already-tracked
// thread, per spec.md §6's track_event_loop.
func (r *Root) TrackEventLoop(threadIdentity uint64, loop registry.EventLoopHandle) {
	r.registry.TrackEventLoop(threadIdentity, loop)
}

// ReportGC records a garbage-collection start/stop boundary as its own
// event kind, following echion's MOJO_GC event (see DESIGN.md).
func (r *Root) ReportGC(start bool) error {
	v := int64(0)
	if start {
		v = 1
	}
	return r.writer.WriteEvent(binproto.EventGC, v)
}

// ReportIdle records an idle period of the given duration in
// nanoseconds, following echion's MOJO_IDLE event.
func (r *Root) ReportIdle(durationNanos int64) error {
	return r.writer.WriteEvent(binproto.EventIdle, durationNanos)
}

// eventLoopTasks merges the current, scheduled, and (if supplied) eager
// task sets for loop, deduplicating addresses that appear in more than
// one container.
func (r *Root) eventLoopTasks(loop registry.EventLoopHandle) []uint64 {
	r.mu.Lock()
	enumerator, eager := r.enumerator, r.eager
	r.mu.Unlock()

	if enumerator == nil {
		return nil
	}

	seen := make(map[uint64]struct{})
	var out []uint64
	add := func(tasks []uint64) {
		for _, t := range tasks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	add(enumerator.CurrentTasks(loop))
	add(enumerator.ScheduledTasks(loop))
	if eager != nil {
		add(eager.EagerTasks(loop))
	}
	return out
}

// runtimeAdapter satisfies sampler.Runtime by combining the
// host-supplied HostRuntime with Root's own task-container bookkeeping.
type runtimeAdapter struct {
	HostRuntime
	root *Root
}

func (a *runtimeAdapter) EventLoopTasks(loop registry.EventLoopHandle) []uint64 {
	return a.root.eventLoopTasks(loop)
}

func (r *Root) buildSampler() *sampler.Sampler {
	mode := sampler.ModeWall
	switch {
	case r.cfg.Memory:
		mode = sampler.ModeMemory
	case r.cfg.CPU:
		mode = sampler.ModeCPU
	}

	return sampler.New(sampler.Config{
		Mode:                    mode,
		Interval:                r.cfg.Interval,
		MaxFrames:               r.cfg.MaxFrames,
		NativeUnwindingEnabled:  r.cfg.Native,
		TaskTrackingEnabled:     r.tasks != nil,
		IgnoreNonRunningThreads: r.cfg.IgnoreNonRunningThreads,
	}, r.registry, &runtimeAdapter{HostRuntime: r.runtime, root: r}, r.unwinder,
		r.symbolizer, r.tasks, r.frameCache, r.stacks, r.strings, r.writer, r.handlers, nil)
}

// StartAsync begins sampling on a background goroutine and returns
// immediately, per spec.md §6's start_async(). It is a no-op error in
// where mode; call Start instead, since a one-shot snapshot has no
// background loop to run.
func (r *Root) StartAsync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Where {
		return fmt.Errorf("%w: where mode has no background sampler; call Start", ErrConfig)
	}
	if r.sampler != nil {
		return ErrAlreadyStarted
	}
	r.sampler = r.buildSampler()
	r.stopped = make(chan struct{})
	return r.sampler.Start()
}

// Start begins sampling and, outside where mode, blocks until Stop is
// called from another goroutine -- the "synchronous" counterpart to
// StartAsync spec.md §6 names. In where mode it performs the one-shot
// snapshot render and returns once that single render has completed,
// exactly matching spec.md §4.10's "renders the live snapshot once ...
// then shuts down."
func (r *Root) Start() error {
	if r.cfg.Where {
		return r.runWhere()
	}
	if err := r.StartAsync(); err != nil {
		return err
	}
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	<-stopped
	return nil
}

// Stop cooperatively shuts the Sampler down and joins its thread, per
// spec.md §6's stop(). Stop returns ErrNotStarted if nothing is running.
func (r *Root) Stop() error {
	r.mu.Lock()
	s := r.sampler
	stopped := r.stopped
	r.sampler = nil
	r.mu.Unlock()

	if s == nil {
		return ErrNotStarted
	}
	s.Stop()
	close(stopped)
	return nil
}

// runWhere captures one live snapshot of every tracked thread's current
// managed stack and renders it to PipeName, per spec.md §4.10's
// description of where mode: a single render, then shutdown. Native
// frames are omitted even if native unwinding is configured, since a
// where request is meant to answer "what is this thread doing right
// now" without pausing it to interleave native unwinding per spec.md
// §4.11's concurrency notes.
func (r *Root) runWhere() error {
	threads := r.registry.Snapshot()
	snapshots := make([]render.ThreadSnapshot, 0, len(threads))
	for _, t := range threads {
		frameAddr, err := r.runtime.CurrentFrame(t.ThreadIdentity)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, render.ThreadSnapshot{
			ThreadIdentity: t.ThreadIdentity,
			DisplayName:    t.DisplayName,
			Frames:         r.unwinder.Unwind(frameAddr),
		})
	}

	f, err := os.Create(r.cfg.PipeName)
	if err != nil {
		return fmt.Errorf("rtprof: opening where pipe: %w", err)
	}
	defer f.Close()

	return render.Render(f, render.FormatPretty, snapshots, r.strings)
}
