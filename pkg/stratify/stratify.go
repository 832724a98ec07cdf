// Package stratify partitions a weighted objective into ordered buckets that
// the MCS engine solves highest-weight-first. Two modes are supported: the
// literal-to-distinct-weight ratio walk and a fixed partition count split on
// near-equal cumulative weight. Divided objectives are handled either merged
// into one stream or split into two streams alternated with probability
// proportional to the remaining weight.
package stratify

import (
	"math/rand"
	"sort"

	"github.com/go-air/gini/z"

	"github.com/hometownjlu/VMAlloc/pkg/objective"
)

// DefaultLitWeightRatio is the default literals to distinct weights ratio.
const DefaultLitWeightRatio = 15.0

// Partition is one bucket of objective terms.
type Partition struct {
	Lits    []z.Lit
	Weights []int64
}

// Empty reports whether the partition has no terms.
func (p Partition) Empty() bool { return len(p.Lits) == 0 }

// Weight returns the summed weight of the partition.
func (p Partition) Weight() int64 {
	var total int64
	for _, w := range p.Weights {
		total += w
	}
	return total
}

// Fold merges b into a, used when a partition was not proved optimal within
// its conflict budget and is folded into its successor.
func Fold(a, b Partition) Partition {
	return Partition{
		Lits:    append(append([]z.Lit(nil), a.Lits...), b.Lits...),
		Weights: append(append([]int64(nil), a.Weights...), b.Weights...),
	}
}

type term struct {
	lit    z.Lit
	weight int64
}

func sortedTerms(r *objective.Reduced) []term {
	ts := make([]term, len(r.Lits))
	for i := range r.Lits {
		ts[i] = term{lit: r.Lits[i], weight: r.Weights[i]}
	}
	// descending weight; stable on input order for reproducibility
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].weight > ts[j].weight })
	return ts
}

// LWR partitions the objective by the literal-to-distinct-weight ratio: terms
// are walked in descending weight order and a partition closes once the ratio
// of its size to its distinct weight count reaches the target, never inside a
// run of equal weights.
func LWR(r *objective.Reduced, ratio float64) []Partition {
	if ratio < 1 {
		ratio = 1
	}
	ts := sortedTerms(r)
	var parts []Partition
	var cur Partition
	distinct := 0
	var lastW int64
	for _, t := range ts {
		if distinct == 0 || t.weight != lastW {
			// close the partition at a weight-class boundary
			if distinct > 0 && float64(len(cur.Lits))/float64(distinct) >= ratio {
				parts = append(parts, cur)
				cur = Partition{}
				distinct = 0
			}
			distinct++
			lastW = t.weight
		}
		cur.Lits = append(cur.Lits, t.lit)
		cur.Weights = append(cur.Weights, t.weight)
	}
	if !cur.Empty() {
		parts = append(parts, cur)
	}
	return parts
}

// Fixed splits the weight-sorted terms into exactly n partitions of
// near-equal cumulative weight. Fewer partitions are returned when the
// objective has fewer terms than n.
func Fixed(r *objective.Reduced, n int) []Partition {
	if n < 1 {
		n = 1
	}
	ts := sortedTerms(r)
	if len(ts) == 0 {
		return nil
	}
	if n > len(ts) {
		n = len(ts)
	}
	var total int64
	for _, t := range ts {
		total += t.weight
	}
	target := total / int64(n)
	var parts []Partition
	var cur Partition
	var acc int64
	for _, t := range ts {
		cur.Lits = append(cur.Lits, t.lit)
		cur.Weights = append(cur.Weights, t.weight)
		acc += t.weight
		if acc >= target && len(parts) < n-1 {
			parts = append(parts, cur)
			cur = Partition{}
			acc = 0
		}
	}
	if !cur.Empty() {
		parts = append(parts, cur)
	}
	return parts
}

// Config selects the partitioning mode: PartitionCount overrides the ratio
// when positive.
type Config struct {
	LitWeightRatio float64
	PartitionCount int
}

// Split applies the configured mode to one objective.
func (c Config) Split(r *objective.Reduced) []Partition {
	if c.PartitionCount > 0 {
		return Fixed(r, c.PartitionCount)
	}
	ratio := c.LitWeightRatio
	if ratio == 0 {
		ratio = DefaultLitWeightRatio
	}
	return LWR(r, ratio)
}

// Stream yields partitions in solving order.
type Stream interface {
	// Next returns the next partition, or ok=false when exhausted.
	Next() (Partition, bool)
	// Fold pushes a non-proved partition back to be merged with the next
	// one from the same source.
	Fold(p Partition)
}

// sliceStream walks a fixed partition list.
type sliceStream struct {
	parts  []Partition
	folded *Partition
}

// NewStream returns a stream over the partitions of a single objective,
// highest weight first.
func NewStream(parts []Partition) Stream {
	return &sliceStream{parts: parts}
}

func (s *sliceStream) Next() (Partition, bool) {
	if len(s.parts) == 0 {
		if s.folded != nil {
			p := *s.folded
			s.folded = nil
			return p, true
		}
		return Partition{}, false
	}
	p := s.parts[0]
	s.parts = s.parts[1:]
	if s.folded != nil {
		p = Fold(*s.folded, p)
		s.folded = nil
	}
	return p, true
}

func (s *sliceStream) Fold(p Partition) {
	s.folded = &p
}

// splitStream alternates between two independent streams, picking the source
// with probability proportional to its remaining weight. Used for the split
// strategy on divided objectives.
type splitStream struct {
	num, den    *sliceStream
	numW, denW  int64
	rng         *rand.Rand
	lastFromNum bool
}

// NewSplitStream builds a probability-split stream over numerator and
// denominator partitions.
func NewSplitStream(num, den []Partition, rng *rand.Rand) Stream {
	s := &splitStream{
		num: &sliceStream{parts: num},
		den: &sliceStream{parts: den},
		rng: rng,
	}
	for _, p := range num {
		s.numW += p.Weight()
	}
	for _, p := range den {
		s.denW += p.Weight()
	}
	return s
}

func (s *splitStream) Next() (Partition, bool) {
	total := s.numW + s.denW
	if total <= 0 {
		if p, ok := s.num.Next(); ok {
			s.lastFromNum = true
			return p, true
		}
		if p, ok := s.den.Next(); ok {
			s.lastFromNum = false
			return p, true
		}
		return Partition{}, false
	}
	fromNum := s.rng.Int63n(total) < s.numW
	src := s.num
	if !fromNum {
		src = s.den
	}
	p, ok := src.Next()
	if !ok {
		// source drained; fall back to the other stream
		if fromNum {
			src, fromNum = s.den, false
		} else {
			src, fromNum = s.num, true
		}
		p, ok = src.Next()
		if !ok {
			return Partition{}, false
		}
	}
	s.lastFromNum = fromNum
	if fromNum {
		s.numW -= p.Weight()
		if s.numW < 0 {
			s.numW = 0
		}
	} else {
		s.denW -= p.Weight()
		if s.denW < 0 {
			s.denW = 0
		}
	}
	return p, true
}

func (s *splitStream) Fold(p Partition) {
	if s.lastFromNum {
		s.num.Fold(p)
		s.numW += p.Weight()
	} else {
		s.den.Fold(p)
		s.denW += p.Weight()
	}
}

// multiStream chains streams in order, used to solve one objective after
// another.
type multiStream struct {
	streams []Stream
}

// NewMultiStream concatenates streams, draining each before the next.
func NewMultiStream(ss ...Stream) Stream {
	return &multiStream{streams: ss}
}

func (s *multiStream) Next() (Partition, bool) {
	for len(s.streams) > 0 {
		if p, ok := s.streams[0].Next(); ok {
			return p, true
		}
		s.streams = s.streams[1:]
	}
	return Partition{}, false
}

func (s *multiStream) Fold(p Partition) {
	if len(s.streams) > 0 {
		s.streams[0].Fold(p)
	}
}
