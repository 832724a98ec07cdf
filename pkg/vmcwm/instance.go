package vmcwm

import (
	"math/big"

	"github.com/pkg/errors"
)

// Placement assigns every VM (in flattened job order) to an index into the
// instance's physical machine slice. Unassigned slots hold -1.
type Placement []int

// Unassigned marks a VM without a machine in a partial placement.
const Unassigned = -1

// NewPlacement returns a placement with every VM unassigned.
func NewPlacement(n int) Placement {
	p := make(Placement, n)
	for i := range p {
		p[i] = Unassigned
	}
	return p
}

// Clone returns a copy of the placement.
func (p Placement) Clone() Placement {
	q := make(Placement, len(p))
	copy(q, p)
	return q
}

// Complete reports whether every VM is assigned.
func (p Placement) Complete() bool {
	for _, pm := range p {
		if pm == Unassigned {
			return false
		}
	}
	return true
}

// Instance bundles the machines, jobs, current mappings and migration budget
// of one VMCwM problem. Derived lookup tables are built once at construction.
type Instance struct {
	pms      []*PhysicalMachine
	jobs     []*Job
	mappings []Mapping

	migPercentile *big.Rat

	vms      []*VirtualMachine // flattened in job order
	vmIdx    map[[2]int]int    // (jobID, index) -> flattened index
	pmIdx    map[int]int       // machine ID -> slice index
	current  []int             // current PM slice index per VM, Unassigned if none
	totalCPU *big.Int
	totalMem *big.Int
	maxMig   *big.Int

	ignoreDen bool
}

// NewInstance builds an instance. migPercentile is the fraction of total
// memory capacity that migrations may consume, in [0, 1].
func NewInstance(pms []*PhysicalMachine, jobs []*Job, mappings []Mapping, migPercentile *big.Rat) (*Instance, error) {
	inst := &Instance{
		pms:           pms,
		jobs:          jobs,
		mappings:      mappings,
		migPercentile: new(big.Rat).Set(migPercentile),
		vmIdx:         make(map[[2]int]int),
		pmIdx:         make(map[int]int, len(pms)),
		totalCPU:      new(big.Int),
		totalMem:      new(big.Int),
	}
	if migPercentile.Sign() < 0 || migPercentile.Cmp(big.NewRat(1, 1)) > 0 {
		return nil, errors.Errorf("migration percentile %v outside [0, 1]", migPercentile)
	}
	for i, pm := range pms {
		if _, dup := inst.pmIdx[pm.ID]; dup {
			return nil, errors.Errorf("duplicate physical machine id %d", pm.ID)
		}
		inst.pmIdx[pm.ID] = i
		inst.totalCPU.Add(inst.totalCPU, big.NewInt(pm.CPU))
		inst.totalMem.Add(inst.totalMem, big.NewInt(pm.Memory))
	}
	for _, job := range jobs {
		for _, vm := range job.VMs {
			key := [2]int{vm.JobID, vm.Index}
			if _, dup := inst.vmIdx[key]; dup {
				return nil, errors.Errorf("duplicate virtual machine %s", vm.Key())
			}
			inst.vmIdx[key] = len(inst.vms)
			inst.vms = append(inst.vms, vm)
		}
	}
	inst.current = make([]int, len(inst.vms))
	for i := range inst.current {
		inst.current[i] = Unassigned
	}
	for _, m := range mappings {
		vi, ok := inst.vmIdx[[2]int{m.JobID, m.VMIndex}]
		if !ok {
			return nil, errors.Errorf("mapping refers to unknown virtual machine %d-%d", m.JobID, m.VMIndex)
		}
		pi, ok := inst.pmIdx[m.PMID]
		if !ok {
			return nil, errors.Errorf("mapping refers to unknown physical machine %d", m.PMID)
		}
		inst.current[vi] = pi
	}

	// max migration memory = percentile * total memory, rounded down
	budget := new(big.Rat).Mul(inst.migPercentile, new(big.Rat).SetInt(inst.totalMem))
	inst.maxMig = new(big.Int).Quo(budget.Num(), budget.Denom())
	return inst, nil
}

// PMs returns the physical machines in input order.
func (i *Instance) PMs() []*PhysicalMachine { return i.pms }

// Jobs returns the jobs in input order.
func (i *Instance) Jobs() []*Job { return i.jobs }

// VMs returns all virtual machines flattened in job order. The slice index is
// the placement index.
func (i *Instance) VMs() []*VirtualMachine { return i.vms }

// Mappings returns the current allocation, possibly empty.
func (i *Instance) Mappings() []Mapping { return i.mappings }

// HasMappings reports whether a current allocation exists, which is what
// makes migration cost a live objective.
func (i *Instance) HasMappings() bool { return len(i.mappings) > 0 }

// MigrationPercentile returns the configured migration budget fraction.
func (i *Instance) MigrationPercentile() *big.Rat { return new(big.Rat).Set(i.migPercentile) }

// TotalCPU returns the summed CPU capacity over all machines.
func (i *Instance) TotalCPU() *big.Int { return new(big.Int).Set(i.totalCPU) }

// TotalMemory returns the summed memory capacity over all machines.
func (i *Instance) TotalMemory() *big.Int { return new(big.Int).Set(i.totalMem) }

// MaxMigrationMemory returns the migration budget in memory units.
func (i *Instance) MaxMigrationMemory() *big.Int { return new(big.Int).Set(i.maxMig) }

// CurrentPM returns the slice index of the machine currently hosting VM vi,
// or Unassigned.
func (i *Instance) CurrentPM(vi int) int { return i.current[vi] }

// VMIndex returns the flattened index of the VM identified by (jobID, index).
func (i *Instance) VMIndex(jobID, index int) (int, bool) {
	vi, ok := i.vmIdx[[2]int{jobID, index}]
	return vi, ok
}

// PMIndex returns the slice index of the machine with the given ID.
func (i *Instance) PMIndex(id int) (int, bool) {
	pi, ok := i.pmIdx[id]
	return pi, ok
}

// DiscardDenominators makes Wastage report the numerator only. It mirrors the
// evaluation-side relaxation of the objective.
func (i *Instance) DiscardDenominators() { i.ignoreDen = true }

// DenominatorsDiscarded reports whether Wastage ignores denominators.
func (i *Instance) DenominatorsDiscarded() bool { return i.ignoreDen }

// PlacementFromMappings converts a full mapping list to a placement.
func (i *Instance) PlacementFromMappings(maps []Mapping) (Placement, error) {
	p := NewPlacement(len(i.vms))
	for _, m := range maps {
		vi, ok := i.vmIdx[[2]int{m.JobID, m.VMIndex}]
		if !ok {
			return nil, errors.Errorf("unknown virtual machine %d-%d", m.JobID, m.VMIndex)
		}
		pi, ok := i.pmIdx[m.PMID]
		if !ok {
			return nil, errors.Errorf("unknown physical machine %d", m.PMID)
		}
		p[vi] = pi
	}
	return p, nil
}

// MappingsFromPlacement converts a placement to a mapping list, skipping
// unassigned VMs.
func (i *Instance) MappingsFromPlacement(p Placement) []Mapping {
	maps := make([]Mapping, 0, len(p))
	for vi, pi := range p {
		if pi == Unassigned {
			continue
		}
		vm := i.vms[vi]
		maps = append(maps, Mapping{JobID: vm.JobID, VMIndex: vm.Index, PMID: i.pms[pi].ID})
	}
	return maps
}
