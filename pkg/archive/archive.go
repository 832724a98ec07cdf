// Package archive maintains the non-dominated set of solutions discovered by
// a search: objective vectors paired with a witness placement, inserted in
// discovery order with strict dominance pruning.
package archive

import (
	"github.com/mitchellh/hashstructure"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// InsertResult classifies the outcome of an insertion.
type InsertResult int

const (
	// Inserted: the entry joined the archive, possibly pruning others.
	Inserted InsertResult = iota
	// Dominated: an existing entry dominates or equals the candidate.
	Dominated
	// Duplicate: an entry with equal vector and identical witness exists.
	Duplicate
)

// Entry pairs an objective vector with its witness placement.
type Entry struct {
	Vector    vmcwm.ObjectiveVector
	Placement vmcwm.Placement

	hash uint64
}

// Archive is an insertion-ordered antichain under Pareto dominance.
type Archive struct {
	entries []Entry
}

// New returns an empty archive.
func New() *Archive {
	return &Archive{}
}

// Len returns the number of entries.
func (a *Archive) Len() int { return len(a.entries) }

// Entries returns the entries in insertion order. The slice is shared; do
// not mutate.
func (a *Archive) Entries() []Entry { return a.entries }

// Contains reports whether some entry has exactly the given vector.
func (a *Archive) Contains(v vmcwm.ObjectiveVector) bool {
	for _, e := range a.entries {
		if e.Vector.Equal(v) {
			return true
		}
	}
	return false
}

func witnessHash(p vmcwm.Placement) uint64 {
	h, err := hashstructure.Hash(p, nil)
	if err != nil {
		// hashing a plain int slice cannot fail; fall back to length
		return uint64(len(p))
	}
	return h
}

// Insert adds (v, w) unless dominated. Entries dominated by v are pruned in
// place, preserving insertion order of survivors.
func (a *Archive) Insert(v vmcwm.ObjectiveVector, w vmcwm.Placement) InsertResult {
	h := witnessHash(w)
	for _, e := range a.entries {
		if e.Vector.Equal(v) {
			if e.hash == h {
				return Duplicate
			}
			return Dominated
		}
		if e.Vector.Dominates(v) {
			return Dominated
		}
	}
	kept := a.entries[:0]
	for _, e := range a.entries {
		if !v.Dominates(e.Vector) {
			kept = append(kept, e)
		}
	}
	a.entries = append(kept, Entry{Vector: v, Placement: w.Clone(), hash: h})
	return Inserted
}
