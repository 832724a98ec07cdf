// Package vmcwm holds the data model for the Virtual Machine Consolidation
// with Migration problem: physical machines, jobs of virtual machines, the
// current mapping, and the reference objective functions (energy, resource
// wastage, migration cost) evaluated on exact rationals.
package vmcwm

import (
	"fmt"
	"math/big"
)

// PhysicalMachine describes a server with finite CPU and memory capacity and
// a linear energy cost model. Values are immutable after construction.
type PhysicalMachine struct {
	ID     int
	CPU    int64
	Memory int64

	idle *big.Rat
	max  *big.Rat
}

// NewPhysicalMachine creates a physical machine. The energy cost of a used
// machine grows linearly from idle at zero CPU utilization to max at full
// utilization.
func NewPhysicalMachine(id int, cpu, mem int64, idle, max *big.Rat) *PhysicalMachine {
	return &PhysicalMachine{
		ID:     id,
		CPU:    cpu,
		Memory: mem,
		idle:   new(big.Rat).Set(idle),
		max:    new(big.Rat).Set(max),
	}
}

// IdleEnergy returns the energy cost of the machine when powered on but
// hosting no load.
func (p *PhysicalMachine) IdleEnergy() *big.Rat { return new(big.Rat).Set(p.idle) }

// MaxEnergy returns the energy cost of the machine at full CPU utilization.
func (p *PhysicalMachine) MaxEnergy() *big.Rat { return new(big.Rat).Set(p.max) }

// SameKind reports whether two machines are interchangeable: identical
// capacities and identical cost model. Used for symmetry breaking.
func (p *PhysicalMachine) SameKind(o *PhysicalMachine) bool {
	return p.CPU == o.CPU && p.Memory == o.Memory &&
		p.idle.Cmp(o.idle) == 0 && p.max.Cmp(o.max) == 0
}

// VirtualMachine describes one VM of a job. A VM is identified by the
// (JobID, Index) pair. An empty allowed set means the VM may run anywhere.
type VirtualMachine struct {
	JobID  int
	Index  int
	CPU    int64
	Memory int64

	// AntiColocatable VMs of the same job may not share a physical machine.
	AntiColocatable bool

	allowed map[int]bool
}

// NewVirtualMachine creates a VM. allowed lists the IDs of the physical
// machines the VM may run on; nil or empty means unrestricted.
func NewVirtualMachine(jobID, index int, cpu, mem int64, antiColocatable bool, allowed []int) *VirtualMachine {
	vm := &VirtualMachine{
		JobID:           jobID,
		Index:           index,
		CPU:             cpu,
		Memory:          mem,
		AntiColocatable: antiColocatable,
	}
	if len(allowed) > 0 {
		vm.allowed = make(map[int]bool, len(allowed))
		for _, id := range allowed {
			vm.allowed[id] = true
		}
	}
	return vm
}

// AllowedOn reports whether the VM may be placed on the machine with the
// given ID.
func (v *VirtualMachine) AllowedOn(pmID int) bool {
	return v.allowed == nil || v.allowed[pmID]
}

// Restricted reports whether the VM carries a platform constraint.
func (v *VirtualMachine) Restricted() bool { return v.allowed != nil }

// ClearPlatformConstraint drops the allowed set, making the VM placeable on
// any machine.
func (v *VirtualMachine) ClearPlatformConstraint() { v.allowed = nil }

// Key returns the "<jobID>-<index>" identity used in solution output.
func (v *VirtualMachine) Key() string { return fmt.Sprintf("%d-%d", v.JobID, v.Index) }

// Job is an ordered collection of VMs sharing a job ID.
type Job struct {
	ID  int
	VMs []*VirtualMachine
}

// Mapping records that a VM currently runs on a physical machine.
type Mapping struct {
	JobID   int
	VMIndex int
	PMID    int
}
