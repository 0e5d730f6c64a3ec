package pprofexport

import (
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/stacktable"
	"github.com/stealthrocket/rtprof/internal/strtab"
)

func TestExportBuildsOneSamplePerStack(t *testing.T) {
	strs := strtab.New(nil)
	nameKey := strtab.KeyForContent("foo")
	fileKey := strtab.KeyForContent("app.py")
	strs.Register(nameKey, "foo")
	strs.Register(fileKey, "app.py")

	stacks := stacktable.New()
	stack := stacks.Intern([]frame.Frame{
		{NameKey: nameKey, FilenameKey: fileKey, CacheKey: 1, Location: frame.Location{LineStart: 5}},
	})

	samples := []Sample{{Stack: stack, Values: []int64{100, 1}}}
	sampleTypes := []*profile.ValueType{{Type: "cpu", Unit: "nanosecond"}, {Type: "sample", Unit: "count"}}

	prof := Export(sampleTypes, samples, strs, time.Unix(0, 0), time.Second)

	if len(prof.Sample) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(prof.Sample))
	}
	if len(prof.Sample[0].Location) != 1 {
		t.Fatalf("expected 1 location, got %d", len(prof.Sample[0].Location))
	}
	if prof.Sample[0].Location[0].Line[0].Function.Name != "foo" {
		t.Fatalf("expected function name 'foo', got %q", prof.Sample[0].Location[0].Line[0].Function.Name)
	}
}

func TestExportReusesLocationsAcrossSamples(t *testing.T) {
	strs := strtab.New(nil)
	nameKey := strtab.KeyForContent("foo")
	strs.Register(nameKey, "foo")

	stacks := stacktable.New()
	frames := []frame.Frame{{NameKey: nameKey, CacheKey: 1}}
	stackA := stacks.Intern(frames)
	stackB := stacks.Intern(frames) // same sequence: interned once

	samples := []Sample{
		{Stack: stackA, Values: []int64{1}},
		{Stack: stackB, Values: []int64{1}},
	}

	prof := Export([]*profile.ValueType{{Type: "sample", Unit: "count"}}, samples, strs, time.Unix(0, 0), 0)

	if len(prof.Location) != 1 {
		t.Fatalf("expected locations to be shared across identical stacks, got %d", len(prof.Location))
	}
}

func TestExportHidesShimFrames(t *testing.T) {
	strs := strtab.New(nil)
	nameKey := strtab.KeyForContent("foo")
	shimKey := strtab.KeyForContent("shim")
	strs.Register(nameKey, "foo")
	strs.Register(shimKey, "shim")

	stacks := stacktable.New()
	stack := stacks.Intern([]frame.Frame{
		{NameKey: nameKey, CacheKey: 1},
		{NameKey: shimKey, CacheKey: 2, IsShim: true},
	})

	samples := []Sample{{Stack: stack, Values: []int64{1}}}
	prof := Export([]*profile.ValueType{{Type: "sample", Unit: "count"}}, samples, strs, time.Unix(0, 0), 0)

	if len(prof.Sample[0].Location) != 1 {
		t.Fatalf("expected shim frame to be excluded, got %d locations", len(prof.Sample[0].Location))
	}
}
