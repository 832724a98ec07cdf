// Package mcs extracts correction subsets over the soft literals of one
// objective partition, under a per-partition conflict budget. The core-guided
// CLD procedure enumerates minimal correction subsets to exhaustion and
// returns one of minimum weight; the cheaper literal-based LBX procedure
// returns a single inclusion-minimal subset.
//
// Soft literals are the negations of objective literals: satisfying a soft
// literal keeps its weight out of the objective. A correction subset is the
// set of soft literals that must be falsified, and its weight sum is the cost
// contributed by the partition.
package mcs

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/stratify"
)

// Result reports one partition extraction. When Status is sat.Satisfiable the
// solver holds a model satisfying every literal in Satisfied and falsifying
// every literal in Falsified.
type Result struct {
	Status    int
	Proved    bool
	Cost      int64
	Satisfied []z.Lit
	Falsified []z.Lit
}

// Engine drives correction subset extraction on a shared solver. Locked
// literals are assumed on every call; the driver appends partition optima to
// them as stratification progresses.
type Engine struct {
	S      *sat.Solver
	Budget sat.Budget
	Locked []z.Lit

	deadline time.Time
}

// startBudget arms the per-partition budget clock.
func (e *Engine) startBudget() {
	if e.Budget.Limited() {
		e.deadline = time.Now().Add(e.Budget.Duration())
	}
}

// solve runs one solver call under the partition budget. Budget exhaustion is
// reported as sat.ErrBudgetExceeded; expiry of the caller's context stays
// sat.ErrDeadline.
func (e *Engine) solve(ctx context.Context, assume []z.Lit) (int, error) {
	e.S.Assume(e.Locked...)
	e.S.Assume(assume...)
	if e.Budget.Limited() {
		bctx, cancel := context.WithDeadline(ctx, e.deadline)
		defer cancel()
		res, err := e.S.Solve(bctx, sat.Budget{})
		if errors.Is(err, sat.ErrDeadline) && ctx.Err() == nil {
			err = sat.ErrBudgetExceeded
		}
		return res, err
	}
	return e.S.Solve(ctx, sat.Budget{})
}

// softLits returns the soft literal set of a partition: negated objective
// literals, weight-aligned with part.Weights.
func softLits(part stratify.Partition) []z.Lit {
	soft := make([]z.Lit, len(part.Lits))
	for i, m := range part.Lits {
		soft[i] = m.Not()
	}
	return soft
}

func weightOf(part stratify.Partition, soft []z.Lit, member map[z.Lit]bool) int64 {
	var total int64
	for i, m := range soft {
		if member[m] {
			total += part.Weights[i]
		}
	}
	return total
}

// CLD extracts a minimum-weight correction subset with the core-guided
// procedure. Minimal correction subsets are enumerated to exhaustion: each
// one found is excluded by assuming the disjunction of its falsified soft
// literals on every later call, and the cheapest subset wins. Blocks are
// assumed rather than asserted, so the shared constraint system stays clean
// for the other partitions. On return the solver holds a model witnessing the
// winning subset.
func (e *Engine) CLD(ctx context.Context, part stratify.Partition) (Result, error) {
	e.startBudget()
	soft := softLits(part)

	var blocks []z.Lit
	var best Result
	found := false
	for {
		res, err := e.oneMCS(ctx, part, soft, blocks)
		if err != nil {
			if found {
				best.Proved = false
				return best, err
			}
			return res, err
		}
		if res.Status == sat.Unsatisfiable {
			if !found {
				return res, nil
			}
			break
		}
		if !found || res.Cost < best.Cost {
			best = res
		}
		found = true
		if len(res.Falsified) == 0 {
			break
		}
		blocks = append(blocks, e.S.Ors(res.Falsified...))
	}

	// rematerialize the model witnessing the cheapest subset
	assume := append([]z.Lit(nil), best.Satisfied...)
	for _, m := range best.Falsified {
		assume = append(assume, m.Not())
	}
	if res, err := e.solve(ctx, assume); err != nil || res != sat.Satisfiable {
		best.Proved = false
		return best, err
	}
	return best, nil
}

// oneMCS extracts one minimal correction subset under the assumed blocks:
// first try to satisfy every soft literal; otherwise repeatedly solve under
// the disjunction of the residual soft set, moving satisfied literals to the
// keep set, until the residual is proved to be a minimal correction subset.
func (e *Engine) oneMCS(ctx context.Context, part stratify.Partition, soft, blocks []z.Lit) (Result, error) {
	res, err := e.solve(ctx, append(append([]z.Lit(nil), blocks...), soft...))
	if err != nil {
		return e.unproved(part, soft, nil), err
	}
	if res == sat.Satisfiable {
		return Result{Status: sat.Satisfiable, Proved: true, Satisfied: append([]z.Lit(nil), soft...)}, nil
	}

	kept := make([]z.Lit, 0, len(soft))
	keptSet := make(map[z.Lit]bool)
	residual := append([]z.Lit(nil), soft...)
	for {
		assume := append(append([]z.Lit(nil), blocks...), kept...)
		assume = append(assume, e.S.Ors(residual...))
		res, err := e.solve(ctx, assume)
		if err != nil {
			return e.unproved(part, soft, keptSet), err
		}
		switch res {
		case sat.Satisfiable:
			next := residual[:0]
			for _, m := range residual {
				if e.S.Value(m) {
					kept = append(kept, m)
					keptSet[m] = true
				} else {
					next = append(next, m)
				}
			}
			residual = next
			if len(residual) == 0 {
				return Result{Status: sat.Satisfiable, Proved: true, Satisfied: kept}, nil
			}
		case sat.Unsatisfiable:
			if len(kept) == 0 {
				// even one soft literal is unreachable; check whether the
				// blocks leave any model at all
				res, err := e.solve(ctx, blocks)
				if err != nil {
					return e.unproved(part, soft, keptSet), err
				}
				if res == sat.Unsatisfiable {
					return Result{Status: sat.Unsatisfiable}, nil
				}
			} else {
				// rematerialize the model satisfying kept with residual false
				assume := append(append([]z.Lit(nil), blocks...), kept...)
				if res, err := e.solve(ctx, assume); err != nil || res != sat.Satisfiable {
					return e.unproved(part, soft, keptSet), err
				}
			}
			fal := map[z.Lit]bool{}
			for _, m := range residual {
				fal[m] = true
			}
			return Result{
				Status:    sat.Satisfiable,
				Proved:    true,
				Cost:      weightOf(part, soft, fal),
				Satisfied: kept,
				Falsified: append([]z.Lit(nil), residual...),
			}, nil
		}
	}
}

// LBX extracts a correction subset literal by literal: tentatively assume
// each soft literal on top of those already kept; a literal that makes the
// formula unsatisfiable joins the correction set. The subset is
// inclusion-minimal but not necessarily minimum, at far fewer solver calls
// than CLD. A non-nil rng shuffles the traversal order.
func (e *Engine) LBX(ctx context.Context, part stratify.Partition, rng *rand.Rand) (Result, error) {
	e.startBudget()
	soft := softLits(part)
	order := make([]int, len(soft))
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	res, err := e.solve(ctx, nil)
	if err != nil {
		return e.unproved(part, soft, nil), err
	}
	if res == sat.Unsatisfiable {
		return Result{Status: sat.Unsatisfiable}, nil
	}

	kept := make([]z.Lit, 0, len(soft))
	keptSet := make(map[z.Lit]bool)
	var correction []z.Lit
	corrSet := map[z.Lit]bool{}
	for _, i := range order {
		m := soft[i]
		assume := append(append([]z.Lit(nil), kept...), m)
		res, err := e.solve(ctx, assume)
		if err != nil {
			return e.unproved(part, soft, keptSet), err
		}
		if res == sat.Satisfiable {
			kept = append(kept, m)
			keptSet[m] = true
		} else {
			correction = append(correction, m)
			corrSet[m] = true
		}
	}
	// rematerialize the final model
	if res, err := e.solve(ctx, kept); err != nil || res != sat.Satisfiable {
		return e.unproved(part, soft, keptSet), err
	}
	return Result{
		Status:    sat.Satisfiable,
		Proved:    true,
		Cost:      weightOf(part, soft, corrSet),
		Satisfied: kept,
		Falsified: correction,
	}, nil
}

// unproved builds the best-effort result after a budget or deadline cut: the
// cost of everything not yet kept is the upper bound for the partition.
func (e *Engine) unproved(part stratify.Partition, soft []z.Lit, kept map[z.Lit]bool) Result {
	notKept := map[z.Lit]bool{}
	var satisfied []z.Lit
	for _, m := range soft {
		if kept != nil && kept[m] {
			satisfied = append(satisfied, m)
		} else {
			notKept[m] = true
		}
	}
	return Result{
		Status:    sat.Unknown,
		Proved:    false,
		Cost:      weightOf(part, soft, notKept),
		Satisfied: satisfied,
	}
}
