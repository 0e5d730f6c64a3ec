// Package pprofexport converts interned stacks into a
// github.com/google/pprof/profile.Profile, the same third-party
// representation the teacher builds its CPU/memory profiles into.
//
// Grounded on the teacher's buildProfile (wzprof.go): the same
// location/function caching by identity to avoid duplicate
// profile.Location/profile.Function entries, generalized from wzprof's
// stackTrace/cpuTimeFrame sample types to the stacktable.Stack sequences
// this profiler interns.
package pprofexport

import (
	"time"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/rtprof/internal/frame"
	"github.com/stealthrocket/rtprof/internal/stacktable"
	"github.com/stealthrocket/rtprof/internal/strtab"
)

// Sample is one aggregated observation: an interned stack plus the
// values matching the profile's configured sample types (e.g.
// [cpu_nanoseconds, count] or [alloc_bytes]).
type Sample struct {
	Stack  *stacktable.Stack
	Values []int64
}

// Export builds a pprof Profile covering [start, start+duration) from
// samples, resolving frame names and filenames via strings.
func Export(sampleTypes []*profile.ValueType, samples []Sample, strings *strtab.Table, start time.Time, duration time.Duration) *profile.Profile {
	prof := &profile.Profile{
		SampleType:    sampleTypes,
		Sample:        make([]*profile.Sample, 0, len(samples)),
		TimeNanos:     start.UnixNano(),
		DurationNanos: int64(duration),
	}

	locationID := uint64(1)
	functionID := uint64(1)
	locationCache := make(map[uint64]*profile.Location)
	functionCache := make(map[uint64]*profile.Function)

	for _, sample := range samples {
		locations := make([]*profile.Location, 0, len(sample.Stack.Frames))
		// Frames are stored leaf-first; pprof expects the same order
		// (Sample.Location[0] is the leaf).
		for _, f := range sample.Stack.Frames {
			if f.IsShim {
				continue
			}
			loc := locationFor(prof, f, strings, locationCache, functionCache, &locationID, &functionID)
			locations = append(locations, loc)
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value:    append([]int64(nil), sample.Values...),
		})
	}

	return prof
}

func locationFor(prof *profile.Profile, f frame.Frame, strings *strtab.Table,
	locationCache map[uint64]*profile.Location, functionCache map[uint64]*profile.Function,
	locationID, functionID *uint64) *profile.Location {
	if loc, ok := locationCache[f.CacheKey]; ok {
		return loc
	}

	fn, ok := functionCache[f.NameKey]
	if !ok {
		name := strings.LookupOrUnknown(f.NameKey)
		fn = &profile.Function{
			ID:       *functionID,
			Name:     name,
			Filename: strings.LookupOrUnknown(f.FilenameKey),
		}
		*functionID++
		functionCache[f.NameKey] = fn
		prof.Function = append(prof.Function, fn)
	}

	loc := &profile.Location{
		ID: *locationID,
		Line: []profile.Line{{
			Function: fn,
			Line:     int64(f.Location.LineStart),
		}},
	}
	*locationID++
	locationCache[f.CacheKey] = loc
	prof.Location = append(prof.Location, loc)
	return loc
}
