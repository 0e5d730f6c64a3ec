package interleave

import (
	"reflect"
	"testing"

	"github.com/stealthrocket/rtprof/internal/frame"
)

func named(key uint64) frame.Frame {
	return frame.Frame{NameKey: key, CacheKey: key}
}

func shim(key uint64) frame.Frame {
	f := named(key)
	f.IsShim = true
	return f
}

func TestMergeExampleScenario(t *testing.T) {
	g, f := named(1), shim(2)
	main, eval, fooNative := named(10), named(11), named(12)

	managed := []frame.Frame{g, f}
	native := []NativeFrame{
		{Frame: main, IsEvalLoop: false},
		{Frame: eval, IsEvalLoop: true},
		{Frame: eval, IsEvalLoop: true},
		{Frame: fooNative, IsEvalLoop: false},
	}

	got := Merge(managed, native, true)
	want := []frame.Frame{main, g, f, fooNative}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %+v, want %+v", got, want)
	}
}

func TestMergeConservation(t *testing.T) {
	g, f := named(1), shim(2)
	main, eval, fooNative := named(10), named(11), named(12)

	managed := []frame.Frame{g, f}
	native := []NativeFrame{
		{Frame: main, IsEvalLoop: false},
		{Frame: eval, IsEvalLoop: true},
		{Frame: eval, IsEvalLoop: true},
		{Frame: fooNative, IsEvalLoop: false},
	}

	got := Merge(managed, native, true)

	var gotManaged, gotNative []frame.Frame
	nativeOnly := map[uint64]bool{main.NameKey: true, fooNative.NameKey: true}
	for _, fr := range got {
		if nativeOnly[fr.NameKey] {
			gotNative = append(gotNative, fr)
		} else {
			gotManaged = append(gotManaged, fr)
		}
	}

	if !reflect.DeepEqual(gotManaged, managed) {
		t.Fatalf("managed subsequence = %+v, want %+v", gotManaged, managed)
	}
	wantNative := []frame.Frame{main, fooNative} // eval (the consumed boundary) excluded
	if !reflect.DeepEqual(gotNative, wantNative) {
		t.Fatalf("native subsequence = %+v, want %+v", gotNative, wantNative)
	}
}

func TestMergeEmitsNativeFrameWhenManagedAlreadyEmpty(t *testing.T) {
	eval, other := named(11), named(13)

	native := []NativeFrame{
		{Frame: eval, IsEvalLoop: true},
		{Frame: other, IsEvalLoop: false},
	}

	got := Merge(nil, native, true)
	want := []frame.Frame{eval, other}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %+v, want %+v", got, want)
	}
}

func TestMergeOlderRuntimePopsExactlyOneFrame(t *testing.T) {
	g, f := named(1), named(2) // no IsShim marker at all on this runtime
	eval := named(11)

	managed := []frame.Frame{g, f}
	native := []NativeFrame{{Frame: eval, IsEvalLoop: true}}

	got := Merge(managed, native, false)
	want := []frame.Frame{g, f} // f is drained afterward as the anomaly case

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %+v, want %+v", got, want)
	}
}

func TestMergeDrainsLeftoverManagedFrames(t *testing.T) {
	g, f := named(1), named(2)
	managed := []frame.Frame{g, f}

	got := Merge(managed, nil, true)
	want := []frame.Frame{g, f}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %+v, want %+v (anomaly drain)", got, want)
	}
}
