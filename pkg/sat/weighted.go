package sat

import (
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
)

// MaxSorterInputs bounds the number of literals fed to a single sorting
// network. Weighted sums are compiled by repeating each literal weight/gcd
// times; a constraint whose scaled total exceeds this limit is rejected
// instead of silently exploding the encoding.
var MaxSorterInputs = 1 << 21

// ErrSorterTooLarge reports a weighted constraint whose sorting network would
// exceed MaxSorterInputs.
var ErrSorterTooLarge = errors.New("weighted constraint exceeds sorter input limit")

// WeightedSum is a unary counter over a weighted literal sum, compiled as a
// sorting network over weight-repeated literals. Bound literals obtained from
// it may be asserted or assumed; the network is emitted to the solver lazily
// with whatever references them.
type WeightedSum struct {
	card  *logic.CardSort
	scale int64
	total int64
	t, f  z.Lit
}

// WeightedSum builds a counter for the sum of ws[i] over true ms[i]. Weights
// must be positive; model negative terms by complementing the literal and
// adjusting the bound at the call site.
func (s *Solver) WeightedSum(ms []z.Lit, ws []int64) (*WeightedSum, error) {
	if len(ms) != len(ws) {
		return nil, errors.Errorf("weighted sum over %d literals with %d weights", len(ms), len(ws))
	}
	scale := int64(0)
	total := int64(0)
	for _, w := range ws {
		if w <= 0 {
			return nil, errors.Errorf("non-positive weight %d in weighted sum", w)
		}
		scale = gcd64(scale, w)
		total += w
	}
	if scale == 0 {
		scale = 1
	}
	if total/scale > int64(MaxSorterInputs) {
		return nil, errors.Wrapf(ErrSorterTooLarge, "%d scaled inputs", total/scale)
	}
	ins := make([]z.Lit, 0, total/scale)
	for i, m := range ms {
		for n := ws[i] / scale; n > 0; n-- {
			ins = append(ins, m)
		}
	}
	w := &WeightedSum{scale: scale, total: total, t: s.c.T, f: s.c.F}
	if len(ins) > 0 {
		w.card = s.c.CardSort(ins)
	}
	return w, nil
}

// Total returns the sum of all weights.
func (w *WeightedSum) Total() int64 { return w.total }

// LeqLit returns a literal true iff the weighted sum is at most bound.
func (w *WeightedSum) LeqLit(bound int64) z.Lit {
	if w.card == nil || bound >= w.total {
		return w.t
	}
	if bound < 0 {
		return w.f
	}
	// weights are multiples of scale, so sum <= bound iff count <= floor
	return w.card.Leq(int(bound / w.scale))
}

// GeqLit returns a literal true iff the weighted sum is at least bound.
func (w *WeightedSum) GeqLit(bound int64) z.Lit {
	if bound <= 0 {
		return w.t
	}
	if w.card == nil || bound > w.total {
		return w.f
	}
	return w.card.Geq(int((bound + w.scale - 1) / w.scale))
}

// AssertLeqWeighted adds the hard constraint sum(ws[i]*ms[i]) <= bound.
func (s *Solver) AssertLeqWeighted(ms []z.Lit, ws []int64, bound int64) error {
	w, err := s.WeightedSum(ms, ws)
	if err != nil {
		return err
	}
	s.Assert(w.LeqLit(bound))
	return nil
}

// AtMost adds the hard constraint that no more than k of ms are true.
func (s *Solver) AtMost(ms []z.Lit, k int) {
	if k >= len(ms) {
		return
	}
	if k < 0 {
		s.Assert(s.c.F)
		return
	}
	s.Assert(s.c.CardSort(ms).Leq(k))
}

// AtLeast adds the hard constraint that at least k of ms are true.
func (s *Solver) AtLeast(ms []z.Lit, k int) {
	if k <= 0 {
		return
	}
	if k > len(ms) {
		s.Assert(s.c.F)
		return
	}
	s.Assert(s.c.CardSort(ms).Geq(k))
}

func gcd64(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
