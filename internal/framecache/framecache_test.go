package framecache

import (
	"errors"
	"testing"

	"github.com/stealthrocket/rtprof/internal/frame"
)

func TestBoundedCapacity(t *testing.T) {
	c := New(4)
	for i := uint64(0); i < 10; i++ {
		c.Store(i, frame.Frame{CacheKey: i})
		if c.Len() > 4 {
			t.Fatalf("cache exceeded capacity: %d", c.Len())
		}
		if !c.Consistent() {
			t.Fatalf("index/LRU list diverged after storing key %d", i)
		}
	}
	if c.Len() != 4 {
		t.Fatalf("expected final length 4, got %d", c.Len())
	}
}

func TestLookupPromotesToMostRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Store(1, frame.Frame{CacheKey: 1})
	c.Store(2, frame.Frame{CacheKey: 2})

	// Touch 1 so 2 becomes the eviction candidate.
	c.Lookup(1)
	c.Store(3, frame.Frame{CacheKey: 3})

	if _, ok := c.Lookup(2); ok {
		t.Fatal("expected key 2 to have been evicted")
	}
	if _, ok := c.Lookup(1); !ok {
		t.Fatal("expected key 1 to survive (recently used)")
	}
}

func TestGetOrCreateBuildsOnMiss(t *testing.T) {
	c := New(4)
	calls := 0
	build := func() (frame.Frame, error) {
		calls++
		return frame.Frame{CacheKey: 99, NameKey: 7}, nil
	}

	f1 := c.GetOrCreate(99, build)
	f2 := c.GetOrCreate(99, build)

	if calls != 1 {
		t.Fatalf("expected build to run once, ran %d times", calls)
	}
	if f1 != f2 {
		t.Fatalf("GetOrCreate returned inconsistent frames: %+v vs %+v", f1, f2)
	}
}

func TestGetOrCreateFailureYieldsInvalidFrame(t *testing.T) {
	c := New(4)
	f := c.GetOrCreate(5, func() (frame.Frame, error) {
		return frame.Frame{}, errors.New("construction failed")
	})
	if f.CacheKey != frame.InvalidCacheKey {
		t.Fatalf("expected invalid sentinel frame, got %+v", f)
	}
}
