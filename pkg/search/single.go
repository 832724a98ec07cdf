package search

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/mcs"
	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/stratify"
)

// runLinearSearch minimizes energy with a descending bound search: each model
// found yields an upper bound, assumed minus one for the next call, until the
// bound is proved unimprovable or a budget runs out.
func (d *Driver) runLinearSearch(ctx context.Context) error {
	energy := d.objs[0]

	res, err := d.model.S.Solve(ctx, sat.Budget{})
	if err != nil || res == sat.Unsatisfiable {
		return errStopOr(err)
	}
	d.record()

	v := d.model.ValueOf(energy)
	for v > 0 {
		b, err := d.model.BoundLeq(energy, v-1)
		if err != nil {
			return err
		}
		d.model.S.Assume(b)
		res, err := d.model.S.Solve(ctx, sat.Budget{MaxConflicts: d.partBudget()})
		if err != nil || res == sat.Unsatisfiable {
			return errStopOr(err)
		}
		d.record()
		v = d.model.ValueOf(energy)
	}
	return nil
}

// runPBO optimizes the objectives lexicographically: each objective is driven
// to its best known value by descending bound search, then fixed there before
// the next one starts. Budget cuts fix the unproven best instead.
func (d *Driver) runPBO(ctx context.Context) error {
	res, err := d.model.S.Solve(ctx, sat.Budget{})
	if err != nil || res == sat.Unsatisfiable {
		return errStopOr(err)
	}
	d.record()

	for _, r := range d.objs {
		v := d.model.ValueOf(r)
		for v > 0 {
			b, err := d.model.BoundLeq(r, v-1)
			if err != nil {
				return err
			}
			d.model.S.Assume(b)
			res, err := d.model.S.Solve(ctx, sat.Budget{MaxConflicts: d.partBudget()})
			if err != nil {
				if errors.Is(err, sat.ErrBudgetExceeded) {
					break
				}
				return errStop
			}
			if res == sat.Unsatisfiable {
				break
			}
			d.record()
			v = d.model.ValueOf(r)
		}
		b, err := d.model.BoundLeq(r, v)
		if err != nil {
			return err
		}
		d.model.S.Assert(b)
	}
	return nil
}

// runMCS minimizes energy with one stratified correction subset pass.
func (d *Driver) runMCS(ctx context.Context) error {
	status, err := d.mcsEnergyPass(ctx, d.cfg.HashFunctions)
	if err != nil {
		return errStop
	}
	if status == sat.Unsatisfiable && d.cfg.HashFunctions {
		// the hash cell may just be empty; retry unhashed
		status, err = d.mcsEnergyPass(ctx, false)
		if err != nil {
			return errStop
		}
	}
	if status == sat.Satisfiable {
		d.record()
	}
	return nil
}

func (d *Driver) mcsEnergyPass(ctx context.Context, hashed bool) (int, error) {
	engine := &mcs.Engine{
		S:      d.model.S,
		Budget: sat.Budget{MaxConflicts: d.partBudget()},
	}
	if hashed {
		engine.Locked = d.hashAssumptions()
	}

	energy := d.objs[0]
	var parts []stratify.Partition
	if d.cfg.Stratify == StratifyOff {
		parts = []stratify.Partition{{Lits: energy.Lits, Weights: energy.Weights}}
	} else {
		parts = stratify.Config{
			LitWeightRatio: d.cfg.LitWeightRatio,
			PartitionCount: d.cfg.PartitionCount,
		}.Split(energy)
	}
	return d.mcsPass(ctx, engine, stratify.NewStream(parts), true)
}

// errStopOr folds a finished or interrupted search into errStop, keeping real
// failures distinct.
func errStopOr(err error) error {
	if err == nil {
		return nil
	}
	return errStop
}
