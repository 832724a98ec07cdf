package sat

import (
	"context"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// Solver is an incremental SAT solver. Formulas are built as gates in a logic
// circuit and translated to CNF for the CDCL core on demand. A gini core does
// not accept clause growth once it has solved: whenever new gates or unit
// clauses arrive after a call, the core is discarded and a fresh one is fed
// the whole circuit and unit set. Hard constraints therefore accumulate
// monotonically across cores while assumptions are cleared per call.
type Solver struct {
	g *gini.Gini
	c *logic.C

	mark    []int8
	roots   []z.Lit // every literal ever referenced, in first-use order
	hard    []z.Lit // all asserted literals
	pending []z.Lit // roots the current core has not seen
	units   []z.Lit // asserted literals the current core has not seen
	assume  []z.Lit // assumptions for the next call
	seen    map[z.Lit]bool
	solved  bool
}

// New creates an empty solver.
func New() *Solver {
	return &Solver{
		g:    gini.New(),
		c:    logic.NewC(),
		seen: make(map[z.Lit]bool),
	}
}

// Lit returns a fresh variable as a positive literal.
func (s *Solver) Lit() z.Lit { return s.c.Lit() }

// True returns the constant true literal.
func (s *Solver) True() z.Lit { return s.c.T }

// False returns the constant false literal.
func (s *Solver) False() z.Lit { return s.c.F }

// Ors returns a literal equivalent to the disjunction of ms.
func (s *Solver) Ors(ms ...z.Lit) z.Lit { return s.c.Ors(ms...) }

// Ands returns a literal equivalent to the conjunction of ms.
func (s *Solver) Ands(ms ...z.Lit) z.Lit { return s.c.Ands(ms...) }

// Implies returns a literal equivalent to a -> b.
func (s *Solver) Implies(a, b z.Lit) z.Lit { return s.c.Implies(a, b) }

// XorChain returns a literal equivalent to the parity of ms: true iff an odd
// number of ms are true.
func (s *Solver) XorChain(ms []z.Lit) z.Lit {
	acc := s.c.F
	for _, m := range ms {
		acc = s.c.Xor(acc, m)
	}
	return acc
}

// reference records literals whose circuit CNF the core must carry.
func (s *Solver) reference(ms ...z.Lit) {
	for _, m := range ms {
		if s.seen[m] {
			continue
		}
		s.seen[m] = true
		s.roots = append(s.roots, m)
		s.pending = append(s.pending, m)
	}
}

// Assert makes m a hard constraint.
func (s *Solver) Assert(m z.Lit) {
	s.reference(m)
	s.hard = append(s.hard, m)
	s.units = append(s.units, m)
}

// AddClause asserts the disjunction of ms. An empty clause makes the solver
// permanently unsatisfiable.
func (s *Solver) AddClause(ms ...z.Lit) {
	if len(ms) == 0 {
		s.Assert(s.c.F)
		return
	}
	s.Assert(s.c.Ors(ms...))
}

// Assume adds assumptions for the next Solve call only.
func (s *Solver) Assume(ms ...z.Lit) {
	s.reference(ms...)
	s.assume = append(s.assume, ms...)
}

// flush brings the core up to date with the circuit. A core that has already
// solved is replaced rather than grown.
func (s *Solver) flush() {
	if len(s.pending) == 0 && len(s.units) == 0 {
		return
	}
	if s.solved {
		s.rebuildCore()
		return
	}
	s.mark, _ = s.c.CnfSince(s.g, s.mark, s.pending...)
	s.pending = s.pending[:0]
	for _, m := range s.units {
		s.g.Add(m)
		s.g.Add(z.LitNull)
	}
	s.units = s.units[:0]
}

// rebuildCore replays the whole circuit and every asserted unit into a fresh
// CDCL core.
func (s *Solver) rebuildCore() {
	s.g = gini.New()
	s.mark, _ = s.c.CnfSince(s.g, nil, s.roots...)
	for _, m := range s.hard {
		s.g.Add(m)
		s.g.Add(z.LitNull)
	}
	s.pending = s.pending[:0]
	s.units = s.units[:0]
	s.solved = false
}

// Solve runs the CDCL core under the pending assumptions. It returns
// Satisfiable or Unsatisfiable with a nil error, or Unknown with
// ErrBudgetExceeded or ErrDeadline. Assumptions are consumed either way.
func (s *Solver) Solve(ctx context.Context, budget Budget) (int, error) {
	s.flush()
	s.solved = true
	s.g.Assume(s.assume...)
	s.assume = s.assume[:0]

	var budgetC <-chan time.Time
	if budget.Limited() {
		t := time.NewTimer(budget.Duration())
		defer t.Stop()
		budgetC = t.C
	}

	gs := s.g.GoSolve()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			gs.Stop()
			return Unknown, ErrDeadline
		case <-budgetC:
			gs.Stop()
			return Unknown, ErrBudgetExceeded
		case <-tick.C:
			if result, done := gs.Test(); done {
				if result == Unknown {
					return Unknown, ErrBudgetExceeded
				}
				return result, nil
			}
		}
	}
}

// Value reports the truth of m in the last satisfying model.
func (s *Solver) Value(m z.Lit) bool { return s.g.Value(m) }

// Why returns the failed assumptions of the last unsatisfiable call.
func (s *Solver) Why() []z.Lit { return s.g.Why(nil) }
