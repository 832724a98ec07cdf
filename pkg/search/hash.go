package search

import (
	"context"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/sat"
)

// hashModelsPerCell caps how many models are drawn from one XOR cell before
// fresh hash functions are sampled.
const hashModelsPerCell = 8

// hashAssumptions samples random XOR parity constraints over the placement
// variable pool and returns their gate literals for assumption. Each
// constraint includes every pool variable with probability one half and fixes
// a random parity, cutting the model space roughly in half.
func (d *Driver) hashAssumptions() []z.Lit {
	pool := d.model.HashVars()
	if len(pool) == 0 {
		return nil
	}
	bits := 0
	for 1<<uint(bits+1) <= len(pool) {
		bits++
	}
	bits /= 2
	if bits < 1 {
		bits = 1
	}

	lits := make([]z.Lit, 0, bits)
	for i := 0; i < bits; i++ {
		var subset []z.Lit
		for _, m := range pool {
			if d.rngHash.Intn(2) == 1 {
				subset = append(subset, m)
			}
		}
		if len(subset) == 0 {
			continue
		}
		gate := d.model.S.XorChain(subset)
		if d.rngHash.Intn(2) == 0 {
			gate = gate.Not()
		}
		lits = append(lits, gate)
	}
	return lits
}

// runHashEnum samples feasible models cell by cell: fresh XOR constraints
// select a random slice of the model space, the slice is enumerated by
// excluding each found placement, and a plain feasibility check between
// slices detects when the space is spent.
func (d *Driver) runHashEnum(ctx context.Context) error {
	for {
		res, err := d.model.S.Solve(ctx, sat.Budget{})
		if err != nil {
			return errStop
		}
		if res == sat.Unsatisfiable {
			return nil
		}

		hashes := d.hashAssumptions()
		for n := 0; n < hashModelsPerCell; n++ {
			d.model.S.Assume(hashes...)
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

			p, _ := d.record()
			lits := d.model.PlacementLits(p)
			block := make([]z.Lit, len(lits))
			for i, m := range lits {
				block[i] = m.Not()
			}
			// exclude the exact placement from all further enumeration
			d.model.S.AddClause(block...)
		}
	}
}
