package encoding

import (
	"math/big"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// Objective names, also the OPB dump labels.
const (
	ObjEnergy     = "energy"
	ObjWastageNum = "wastage"
	ObjWastageDen = "wastage-den"
	ObjMigration  = "migration"
)

// buildObjectives creates the wastage slack counters and the three linear
// objective functions.
//
// Per machine p the signed imbalance D_p = sum_v (mem_v*C_p - cpu_v*M_p) *
// x[v,p] equals (leftMem - leftCPU) normalized by capacities and scaled by
// C_p*M_p. A binary counter T_p of fresh slack bits is constrained by
// T_p >= D_p and T_p >= -D_p, so T_p/(C_p*M_p) bounds the absolute
// normalized imbalance from below and carries the wastage numerator.
func (m *Model) buildObjectives() error {
	inst := m.Inst
	vms := inst.VMs()
	pms := inst.PMs()

	energy := objective.New(ObjEnergy)
	num := objective.New(ObjWastageNum)
	den := objective.New(ObjWastageDen)

	m.slack = make([][]z.Lit, len(pms))
	for pi, pm := range pms {
		if pm.CPU == 0 || pm.Memory == 0 {
			continue
		}
		energy.Add(m.Y[pi], pm.IdleEnergy())
		span := new(big.Rat).Sub(pm.MaxEnergy(), pm.IdleEnergy())

		cm, err := bigProduct(pm.CPU, pm.Memory)
		if err != nil {
			return err
		}

		var diffLits []z.Lit
		var diffs []int64
		var maxPos, maxNeg int64
		for vi, vm := range vms {
			if !m.admissible(vi, pi) {
				continue
			}
			energy.Add(m.X[vi][pi], new(big.Rat).Mul(big.NewRat(vm.CPU, pm.CPU), span))
			den.Add(m.X[vi][pi], new(big.Rat).Add(big.NewRat(vm.CPU, pm.CPU), big.NewRat(vm.Memory, pm.Memory)))

			mc, err := bigProduct(vm.Memory, pm.CPU)
			if err != nil {
				return err
			}
			cmem, err := bigProduct(vm.CPU, pm.Memory)
			if err != nil {
				return err
			}
			d := mc - cmem
			if d == 0 {
				continue
			}
			diffLits = append(diffLits, m.X[vi][pi])
			diffs = append(diffs, d)
			if d > 0 {
				maxPos += d
			} else {
				maxNeg -= d
			}
		}
		if len(diffLits) == 0 {
			continue
		}

		limit := maxPos
		if maxNeg > limit {
			limit = maxNeg
		}
		var bits []z.Lit
		var weights []int64
		for w := int64(1); w <= limit; w <<= 1 {
			bit := m.S.Lit()
			bits = append(bits, bit)
			weights = append(weights, w)
			num.Add(bit, new(big.Rat).SetFrac(big.NewInt(w), big.NewInt(cm)))
		}
		m.slack[pi] = bits

		// T - D >= 0 and T + D >= 0, normalized to positive weights
		if err := m.assertCounterGeq(bits, weights, diffLits, diffs, true, maxPos); err != nil {
			return err
		}
		if err := m.assertCounterGeq(bits, weights, diffLits, diffs, false, maxNeg); err != nil {
			return err
		}
	}

	mgr := &objective.Manager{Energy: energy, WastageNum: num, WastageDen: den}
	if m.Opts.IgnoreDenominators {
		mgr.IgnoreDenominators()
	}
	if inst.HasMappings() {
		mig := objective.New(ObjMigration)
		for vi, vm := range vms {
			cur := inst.CurrentPM(vi)
			if cur == vmcwm.Unassigned {
				continue
			}
			mig.Add(m.X[vi][cur].Not(), big.NewRat(vm.Memory, 1))
		}
		mgr.Migration = mig
	}
	m.Objectives = mgr
	return nil
}

// assertCounterGeq asserts T - D >= 0 (minus=true) or T + D >= 0
// (minus=false) with all weights positive: negative terms a*x are rewritten
// as |a|*!x with the bound shifted by |a|.
func (m *Model) assertCounterGeq(bits []z.Lit, bitW []int64, diffLits []z.Lit, diffs []int64, minus bool, bound int64) error {
	lits := append([]z.Lit(nil), bits...)
	ws := append([]int64(nil), bitW...)
	for i, d := range diffs {
		if minus {
			d = -d
		}
		if d > 0 {
			lits = append(lits, diffLits[i])
			ws = append(ws, d)
		} else if d < 0 {
			lits = append(lits, diffLits[i].Not())
			ws = append(ws, -d)
		}
	}
	sum, err := m.S.WeightedSum(lits, ws)
	if err != nil {
		return errors.Wrapf(ErrOverflow, "imbalance counter: %v", err)
	}
	m.S.Assert(sum.GeqLit(bound))
	return nil
}

// SumFor returns the cached unary counter for a reduced objective, building
// it on first use.
func (m *Model) SumFor(r *objective.Reduced) (*sat.WeightedSum, error) {
	if s, ok := m.sums[r.Name]; ok {
		return s, nil
	}
	s, err := m.S.WeightedSum(r.Lits, r.Weights)
	if err != nil {
		return nil, errors.Wrapf(ErrOverflow, "objective %s: %v", r.Name, err)
	}
	m.sums[r.Name] = s
	return s, nil
}

// BoundLeq returns a literal true iff the reduced objective is at most v.
func (m *Model) BoundLeq(r *objective.Reduced, v int64) (z.Lit, error) {
	s, err := m.SumFor(r)
	if err != nil {
		return 0, err
	}
	return s.LeqLit(v), nil
}

// ValueOf evaluates a reduced objective under the solver's current model.
func (m *Model) ValueOf(r *objective.Reduced) int64 {
	return r.Value(m.S.Value)
}
