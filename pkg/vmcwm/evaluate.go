package vmcwm

import (
	"fmt"
	"math/big"
	"strings"
)

// ObjectiveVector is the evaluated cost of a placement. Migration is nil when
// the instance has no current mapping.
type ObjectiveVector struct {
	Energy    *big.Rat
	Wastage   *big.Rat
	Migration *big.Int
}

// Dominates reports whether v is at least as good as o in every objective and
// strictly better in at least one.
func (v ObjectiveVector) Dominates(o ObjectiveVector) bool {
	leq := true
	strict := false
	cmp := func(c int) {
		if c > 0 {
			leq = false
		} else if c < 0 {
			strict = true
		}
	}
	cmp(v.Energy.Cmp(o.Energy))
	cmp(v.Wastage.Cmp(o.Wastage))
	if v.Migration != nil && o.Migration != nil {
		cmp(v.Migration.Cmp(o.Migration))
	}
	return leq && strict
}

// Equal reports componentwise equality.
func (v ObjectiveVector) Equal(o ObjectiveVector) bool {
	if v.Energy.Cmp(o.Energy) != 0 || v.Wastage.Cmp(o.Wastage) != 0 {
		return false
	}
	if (v.Migration == nil) != (o.Migration == nil) {
		return false
	}
	return v.Migration == nil || v.Migration.Cmp(o.Migration) == 0
}

// String renders the vector in the driver's output format: fixed five
// fractional digits for energy and wastage, integer migration cost.
func (v ObjectiveVector) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "e %s \tw %s", ratFixed(v.Energy, 5), ratFixed(v.Wastage, 5))
	if v.Migration != nil {
		fmt.Fprintf(&b, " \tm %s", v.Migration.String())
	}
	return b.String()
}

func ratFixed(r *big.Rat, prec int) string {
	return r.FloatString(prec)
}

// usage accumulates per-machine CPU and memory load for a placement.
type usage struct {
	cpu []int64
	mem []int64
}

func (i *Instance) usageOf(p Placement) usage {
	u := usage{cpu: make([]int64, len(i.pms)), mem: make([]int64, len(i.pms))}
	for vi, pi := range p {
		if pi == Unassigned {
			continue
		}
		vm := i.vms[vi]
		u.cpu[pi] += vm.CPU
		u.mem[pi] += vm.Memory
	}
	return u
}

// Energy returns the summed energy cost of the placement: for each used
// machine, idle + (cpu utilization fraction) * (max - idle).
func (i *Instance) Energy(p Placement) *big.Rat {
	u := i.usageOf(p)
	total := new(big.Rat)
	for pi, pm := range i.pms {
		if u.cpu[pi] == 0 && u.mem[pi] == 0 {
			continue
		}
		total.Add(total, pm.IdleEnergy())
		if pm.CPU > 0 {
			frac := big.NewRat(u.cpu[pi], pm.CPU)
			span := new(big.Rat).Sub(pm.MaxEnergy(), pm.IdleEnergy())
			total.Add(total, frac.Mul(frac, span))
		}
	}
	return total
}

// WastageParts returns the numerator and denominator of the resource wastage
// ratio. For each used machine the numerator accrues the absolute difference
// between normalized leftover CPU and leftover memory; the denominator
// accrues the normalized utilized resources.
func (i *Instance) WastageParts(p Placement) (num, den *big.Rat) {
	u := i.usageOf(p)
	num, den = new(big.Rat), new(big.Rat)
	for pi, pm := range i.pms {
		if u.cpu[pi] == 0 && u.mem[pi] == 0 {
			continue
		}
		if pm.CPU == 0 || pm.Memory == 0 {
			continue
		}
		usedCPU := big.NewRat(u.cpu[pi], pm.CPU)
		usedMem := big.NewRat(u.mem[pi], pm.Memory)
		leftCPU := new(big.Rat).Sub(ratOne, usedCPU)
		leftMem := new(big.Rat).Sub(ratOne, usedMem)
		diff := new(big.Rat).Sub(leftCPU, leftMem)
		num.Add(num, diff.Abs(diff))
		den.Add(den, new(big.Rat).Add(usedCPU, usedMem))
	}
	return num, den
}

var ratOne = big.NewRat(1, 1)

// Wastage returns the resource wastage of the placement. When denominators
// are discarded the raw numerator is returned; otherwise the ratio of summed
// numerators to summed denominators, or zero for an empty placement.
func (i *Instance) Wastage(p Placement) *big.Rat {
	num, den := i.WastageParts(p)
	if i.ignoreDen {
		return num
	}
	if den.Sign() == 0 {
		return new(big.Rat)
	}
	return num.Quo(num, den)
}

// Migration returns the total memory of VMs whose assignment differs from
// their current mapping.
func (i *Instance) Migration(p Placement) *big.Int {
	moved := new(big.Int)
	for vi, pi := range p {
		cur := i.current[vi]
		if cur == Unassigned || pi == cur {
			continue
		}
		moved.Add(moved, big.NewInt(i.vms[vi].Memory))
	}
	return moved
}

// Evaluate computes the full objective vector for a placement using the
// reference formulae.
func (i *Instance) Evaluate(p Placement) ObjectiveVector {
	v := ObjectiveVector{Energy: i.Energy(p), Wastage: i.Wastage(p)}
	if i.HasMappings() {
		v.Migration = i.Migration(p)
	}
	return v
}
