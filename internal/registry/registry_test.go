package registry

import "testing"

func TestTrackAndLookup(t *testing.T) {
	r := New()
	r.Track(1, 1001, "worker-0")

	info, ok := r.Lookup(1)
	if !ok {
		t.Fatal("expected thread 1 to be tracked")
	}
	if info.DisplayName != "worker-0" || info.NativeThreadID != 1001 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestUntrackRemovesThread(t *testing.T) {
	r := New()
	r.Track(1, 1001, "worker-0")
	r.Untrack(1)

	if _, ok := r.Lookup(1); ok {
		t.Fatal("expected thread 1 to be untracked")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestTrackEventLoopIsNoOpForUnknownThread(t *testing.T) {
	r := New()
	r.TrackEventLoop(99, EventLoopHandle(42)) // thread 99 was never tracked

	if r.Len() != 0 {
		t.Fatalf("expected no thread to be created, got %d", r.Len())
	}
}

func TestTrackEventLoopAssociatesHandle(t *testing.T) {
	r := New()
	r.Track(1, 1001, "worker-0")
	r.TrackEventLoop(1, EventLoopHandle(42))

	info, _ := r.Lookup(1)
	if !info.HasEventLoop() || info.EventLoopHandle != 42 {
		t.Fatalf("expected event loop handle 42, got %+v", info)
	}
}

func TestSnapshotReturnsAllTrackedThreads(t *testing.T) {
	r := New()
	r.Track(1, 1001, "a")
	r.Track(2, 1002, "b")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
}

func TestSetLastCPUTimeUpdatesExistingThread(t *testing.T) {
	r := New()
	r.Track(1, 1001, "a")
	r.SetLastCPUTime(1, 5000)

	info, _ := r.Lookup(1)
	if info.LastCPUTime != 5000 {
		t.Fatalf("expected LastCPUTime 5000, got %d", info.LastCPUTime)
	}
}
