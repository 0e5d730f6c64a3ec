// Package registry implements ThreadRegistry: the map from a runtime
// thread's identity to its sampling metadata.
//
// Grounded on the teacher's ProfilerListener in profiler.go, which guards
// its sample list and location cache with a dedicated mutex
// (samplesMu sync.RWMutex) separate from the hooks it installs; here the
// same shape is generalized to spec.md §5's concurrency rule: mutations
// come only from the runtime's track/untrack callbacks on their own
// threads, reads only from the Sampler.
package registry

import "sync"

// CPUClockHandle is an opaque, platform-specific handle the Sampler uses
// to read a thread's consumed CPU time in `cpu` mode. What backs it
// (a POSIX clockid_t, a Windows thread handle, ...) is outside this
// package's concern.
type CPUClockHandle uint64

// EventLoopHandle identifies the event loop a thread is driving, if any,
// used by the TaskUnwinder to enumerate that loop's current tasks.
type EventLoopHandle uint64

// ThreadInfo is the per-thread sampling metadata the registry holds.
type ThreadInfo struct {
	ThreadIdentity  uint64
	NativeThreadID  uint64
	DisplayName     string
	CPUClockHandle  CPUClockHandle
	EventLoopHandle EventLoopHandle
	LastCPUTime     uint64
}

// HasEventLoop reports whether loop has been associated with this thread
// via TrackEventLoop.
func (t ThreadInfo) HasEventLoop() bool {
	return t.EventLoopHandle != 0
}

// Registry maps thread identity to ThreadInfo. Safe for concurrent use by
// one writer (the runtime's track/untrack notifications) and one reader
// (the Sampler), per spec.md §5, though the mutex makes any access
// pattern safe.
type Registry struct {
	mu      sync.RWMutex
	threads map[uint64]*ThreadInfo
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{threads: make(map[uint64]*ThreadInfo)}
}

// Track registers a new thread, created on the runtime's thread-start
// notification. Re-tracking an already-tracked identity overwrites its
// metadata.
func (r *Registry) Track(threadIdentity, nativeThreadID uint64, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[threadIdentity] = &ThreadInfo{
		ThreadIdentity: threadIdentity,
		NativeThreadID: nativeThreadID,
		DisplayName:    displayName,
	}
}

// Untrack removes a thread, called on thread-stop notification or during
// process-exit teardown.
func (r *Registry) Untrack(threadIdentity uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, threadIdentity)
}

// TrackEventLoop associates an event loop handle with an already-tracked
// thread. It is a no-op if the thread is not tracked (the runtime may
// race a loop association against a thread-stop notification).
func (r *Registry) TrackEventLoop(threadIdentity uint64, loop EventLoopHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadIdentity]; ok {
		t.EventLoopHandle = loop
	}
}

// SetCPUClockHandle records the platform clock handle used to read a
// thread's consumed CPU time.
func (r *Registry) SetCPUClockHandle(threadIdentity uint64, handle CPUClockHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadIdentity]; ok {
		t.CPUClockHandle = handle
	}
}

// SetLastCPUTime records the most recent CPU-time reading for delta
// computation in `cpu` mode.
func (r *Registry) SetLastCPUTime(threadIdentity, cpuTime uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadIdentity]; ok {
		t.LastCPUTime = cpuTime
	}
}

// Lookup returns a copy of the ThreadInfo for threadIdentity, and whether
// it is currently tracked.
func (r *Registry) Lookup(threadIdentity uint64) (ThreadInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[threadIdentity]
	if !ok {
		return ThreadInfo{}, false
	}
	return *t, true
}

// Snapshot returns a copy of every currently tracked ThreadInfo, in no
// particular order. The Sampler calls this once per tick rather than
// holding the registry lock across the whole sampling pass.
func (r *Registry) Snapshot() []ThreadInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ThreadInfo, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, *t)
	}
	return out
}

// Len reports the number of currently tracked threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}
