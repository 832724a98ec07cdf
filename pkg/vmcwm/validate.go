package vmcwm

import (
	"math/big"

	"github.com/pkg/errors"
)

// Validate checks a placement against every hard constraint of the instance:
// completeness, capacities, platform restrictions, anti-colocation, and the
// migration budget. It returns nil for a feasible placement and a descriptive
// error for the first violation found.
func (i *Instance) Validate(p Placement) error {
	if len(p) != len(i.vms) {
		return errors.Errorf("placement covers %d of %d virtual machines", len(p), len(i.vms))
	}
	for vi, pi := range p {
		if pi == Unassigned {
			return errors.Errorf("virtual machine %s is unassigned", i.vms[vi].Key())
		}
		if pi < 0 || pi >= len(i.pms) {
			return errors.Errorf("virtual machine %s assigned to unknown machine index %d", i.vms[vi].Key(), pi)
		}
		if !i.vms[vi].AllowedOn(i.pms[pi].ID) {
			return errors.Errorf("virtual machine %s not allowed on machine %d", i.vms[vi].Key(), i.pms[pi].ID)
		}
	}

	u := i.usageOf(p)
	for pi, pm := range i.pms {
		if u.cpu[pi] > pm.CPU {
			return errors.Errorf("machine %d CPU capacity exceeded: %d > %d", pm.ID, u.cpu[pi], pm.CPU)
		}
		if u.mem[pi] > pm.Memory {
			return errors.Errorf("machine %d memory capacity exceeded: %d > %d", pm.ID, u.mem[pi], pm.Memory)
		}
	}

	// anti-colocation: per job, anti-colocatable VMs on distinct machines
	for _, job := range i.jobs {
		seen := make(map[int]*VirtualMachine)
		for _, vm := range job.VMs {
			if !vm.AntiColocatable {
				continue
			}
			vi, _ := i.VMIndex(vm.JobID, vm.Index)
			pi := p[vi]
			if other, clash := seen[pi]; clash {
				return errors.Errorf("anti-colocated virtual machines %s and %s share machine %d",
					other.Key(), vm.Key(), i.pms[pi].ID)
			}
			seen[pi] = vm
		}
	}

	if i.HasMappings() {
		if moved := i.Migration(p); moved.Cmp(i.maxMig) > 0 {
			return errors.Errorf("migration budget exceeded: %s > %s", moved, i.maxMig)
		}
	}
	return nil
}

// FitsOn reports whether vm can be added to machine pi given the partial
// placement p, honoring capacity, platform and anti-colocation constraints.
// Used by the bin-packing heuristics.
func (i *Instance) FitsOn(p Placement, vi, pi int) bool {
	vm := i.vms[vi]
	pm := i.pms[pi]
	if !vm.AllowedOn(pm.ID) {
		return false
	}
	var cpu, mem int64
	for wj, pj := range p {
		if pj != pi || wj == vi {
			continue
		}
		other := i.vms[wj]
		cpu += other.CPU
		mem += other.Memory
		if vm.AntiColocatable && other.AntiColocatable && other.JobID == vm.JobID {
			return false
		}
	}
	return cpu+vm.CPU <= pm.CPU && mem+vm.Memory <= pm.Memory
}

// MigrationHeadroom returns the remaining migration budget for the partial
// placement p.
func (i *Instance) MigrationHeadroom(p Placement) *big.Int {
	left := new(big.Int).Set(i.maxMig)
	return left.Sub(left, i.Migration(p))
}
