// Package stacktable interns whole frame sequences by a rolling-xor hash of
// their member frame cache-keys.
//
// spec.md §9 flags the source implementation's stack-table collision
// handling as an open design question: colliding distinct stacks are
// either silently merged, or (worse) left undefined. SPEC_FULL.md §7
// resolves this: the table counts collisions and validates every insert by
// comparing the full frame sequence, falling back to a secondary slot
// instead of merging two distinct stacks under one key. A secondary slot
// also gets a perturbed Key distinct from the bucket's hash, so the
// disambiguation survives past this package: every downstream consumer
// (allocation counters, the STACK wire event) aggregates purely by Key,
// and two colliding-but-distinct stacks sharing that field would merge
// right back together the moment they left this table.
package stacktable

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/stealthrocket/rtprof/internal/frame"
)

// Stack is an interned, leaf-first ordered frame sequence.
type Stack struct {
	Frames []frame.Frame
	Key    uint64
}

// ComputeKey hashes a frame sequence with a rotate-xor accumulator over the
// member cache-keys, per spec.md §3/§4.9.
func ComputeKey(frames []frame.Frame) uint64 {
	var h uint64
	for _, f := range frames {
		h = rotl64(h, 1) ^ f.CacheKey
	}
	return h
}

func rotl64(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// Table interns Stack values by frame-sequence identity.
type Table struct {
	mu         sync.Mutex
	buckets    map[uint64][]*Stack
	collisions uint64
}

// New constructs an empty Table.
func New() *Table {
	return &Table{buckets: make(map[uint64][]*Stack)}
}

// Intern returns the Stack for frames, reusing an existing entry if one
// with an identical frame sequence is already interned. frames is copied;
// the caller's slice may be reused afterwards.
//
// A frame sequence that hashes to an already-occupied bucket but does not
// match any stack stored there is a genuine collision: it is kept in its
// own secondary slot rather than merged into the first writer, and is
// assigned a Key perturbed away from the bucket's hash (keyPerturbMultiplier
// below) so it remains distinguishable once it leaves this table.
func (t *Table) Intern(frames []frame.Frame) *Stack {
	key := ComputeKey(frames)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[key]
	for _, s := range bucket {
		if stackEqual(s.Frames, frames) {
			return s
		}
	}

	wireKey := key
	if probe := len(bucket); probe > 0 {
		atomic.AddUint64(&t.collisions, 1)
		wireKey = secondaryKey(key, probe)
	}

	s := &Stack{Frames: slices.Clone(frames), Key: wireKey}
	t.buckets[key] = append(bucket, s)
	return s
}

// keyPerturbMultiplier is an odd constant (the 64-bit golden-ratio prime
// used throughout Fibonacci hashing) chosen to scatter colliding keys
// across the Key space rather than clustering them near the original hash.
const keyPerturbMultiplier = 0x9E3779B97F4A7C15

// secondaryKey derives the externally-visible Key for the probe'th stack
// to collide into a bucket (probe >= 1; the first writer keeps the bucket's
// raw hash). Open addressing by probe position, same technique as a
// standard open-addressed hash table's probe sequence, rather than a
// counter appended to the hash: it stays a pure function of (key, probe),
// so it needs no extra state beyond what Intern already computes.
func secondaryKey(key uint64, probe int) uint64 {
	return key ^ (uint64(probe) * keyPerturbMultiplier)
}

func stackEqual(a, b []frame.Frame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Collisions reports the number of distinct frame sequences that hashed to
// an already-occupied key and had to be stored alongside it rather than
// merged.
func (t *Table) Collisions() uint64 {
	return atomic.LoadUint64(&t.collisions)
}

// Len reports the number of distinct stacks currently interned.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bucket := range t.buckets {
		n += len(bucket)
	}
	return n
}

// Clear empties the table, ending a reporting epoch. Existing *Stack
// pointers handed out to callers remain valid (they are not reused), but
// Intern will no longer find them.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[uint64][]*Stack)
}
