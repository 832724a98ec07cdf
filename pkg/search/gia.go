package search

import (
	"context"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// runGIA enumerates the Pareto front with the guided improvement algorithm:
// find a feasible model, then repeatedly tighten one objective at a time while
// holding the others at their current values, until no single-objective
// improvement remains. The fixpoint is Pareto-optimal; its cone is blocked and
// the loop repeats until the formula is exhausted.
func (d *Driver) runGIA(ctx context.Context) error {
	for {
		if d.cfg.HashFunctions {
			d.model.S.Assume(d.hashAssumptions()...)
		}
		res, err := d.model.S.Solve(ctx, sat.Budget{})
		if err != nil {
			return errStop
		}
		if res == sat.Unsatisfiable {
			if !d.cfg.HashFunctions {
				return nil
			}
			// the hash cell may just be empty; retry without hashes
			res, err = d.model.S.Solve(ctx, sat.Budget{})
			if err != nil {
				return errStop
			}
			if res == sat.Unsatisfiable {
				return nil
			}
		}

		cur := d.values()
		best := d.model.Decode()
		improved := true
		for improved {
			improved = false
			for i := range d.objs {
				if cur[i] <= 0 {
					continue
				}
				ok, err := d.tighten(ctx, cur, i)
				if err != nil {
					d.insertPlacement(best)
					return errStop
				}
				if ok {
					cur = d.values()
					best = d.model.Decode()
					improved = true
				}
			}
		}

		d.insertPlacement(best)
		if err := d.blockCone(cur); err != nil {
			return err
		}
	}
}

// tighten asks for a model improving objective i strictly while keeping every
// other objective at most its current value. Budget exhaustion counts as no
// improvement.
func (d *Driver) tighten(ctx context.Context, cur []int64, i int) (bool, error) {
	assume := make([]z.Lit, 0, len(cur))
	for j, v := range cur {
		bound := v
		if j == i {
			bound = v - 1
		}
		b, err := d.model.BoundLeq(d.objs[j], bound)
		if err != nil {
			return false, err
		}
		assume = append(assume, b)
	}
	d.model.S.Assume(assume...)
	res, err := d.model.S.Solve(ctx, sat.Budget{MaxConflicts: d.partBudget()})
	if err != nil {
		if errors.Is(err, sat.ErrBudgetExceeded) {
			return false, nil
		}
		return false, err
	}
	return res == sat.Satisfiable, nil
}

func (d *Driver) insertPlacement(p vmcwm.Placement) {
	d.arch.Insert(d.inst.Evaluate(p), p)
}
