// Package encoding translates a VMCwM instance into a pseudo-Boolean
// constraint system over the sat facade: placement variables x[v,p], usage
// indicators y[p], hard constraints for capacities, platform restrictions,
// anti-colocation, the migration budget and optional symmetry breaking, plus
// the three linear objective functions. Variable creation order is fixed by
// the instance, so encodings are reproducible.
package encoding

import (
	"math/big"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

var (
	// ErrInfeasible reports infeasibility detectable at encoding time,
	// such as a VM whose allowed machine set is empty.
	ErrInfeasible = errors.New("instance infeasible")

	// ErrOverflow reports integer weights beyond representation limits.
	ErrOverflow = errors.New("encoding overflow")
)

// Options select the encoder-level switches.
type Options struct {
	SymmetryBreaking     bool
	IgnorePlatform       bool
	IgnoreAntiColocation bool
	IgnoreDenominators   bool
	HashFunctions        bool
}

// Model is an encoded instance: the solver holding the hard constraint
// system, the variable maps, and the objective manager.
type Model struct {
	Inst *vmcwm.Instance
	Opts Options
	S    *sat.Solver

	// X[v][p] is true iff VM v runs on machine p; Y[p] iff machine p hosts
	// at least one VM.
	X [][]z.Lit
	Y []z.Lit

	// slack[p] holds the binary counter bits bounding the absolute resource
	// imbalance of machine p from below; they carry the wastage numerator.
	slack [][]z.Lit

	Objectives *objective.Manager

	sums map[string]*sat.WeightedSum
}

// Encode builds the constraint system for an instance. It fails with
// ErrInfeasible when a VM has no admissible machine and with ErrOverflow when
// a weight cannot be represented.
func Encode(inst *vmcwm.Instance, opts Options) (*Model, error) {
	m := &Model{
		Inst: inst,
		Opts: opts,
		S:    sat.New(),
		sums: make(map[string]*sat.WeightedSum),
	}
	vms := inst.VMs()
	pms := inst.PMs()

	m.X = make([][]z.Lit, len(vms))
	for vi := range vms {
		m.X[vi] = make([]z.Lit, len(pms))
		for pi := range pms {
			m.X[vi][pi] = m.S.Lit()
		}
	}
	m.Y = make([]z.Lit, len(pms))
	for pi := range pms {
		m.Y[pi] = m.S.Lit()
	}

	if err := m.placementConstraints(); err != nil {
		return nil, err
	}
	if err := m.capacityConstraints(); err != nil {
		return nil, err
	}
	if !opts.IgnoreAntiColocation {
		m.antiColocationConstraints()
	}
	if err := m.migrationConstraint(); err != nil {
		return nil, err
	}
	if opts.SymmetryBreaking {
		m.symmetryBreaking()
	}
	if err := m.buildObjectives(); err != nil {
		return nil, err
	}
	return m, nil
}

// admissible reports whether VM vi may run on machine pi under the active
// options. Zero-capacity machines are never admissible.
func (m *Model) admissible(vi, pi int) bool {
	vm := m.Inst.VMs()[vi]
	pm := m.Inst.PMs()[pi]
	if pm.CPU == 0 || pm.Memory == 0 {
		return false
	}
	if vm.CPU > pm.CPU || vm.Memory > pm.Memory {
		return false
	}
	if !m.Opts.IgnorePlatform && !vm.AllowedOn(pm.ID) {
		return false
	}
	return true
}

func (m *Model) placementConstraints() error {
	vms := m.Inst.VMs()
	pms := m.Inst.PMs()
	for vi, vm := range vms {
		options := make([]z.Lit, 0, len(pms))
		for pi := range pms {
			if m.admissible(vi, pi) {
				options = append(options, m.X[vi][pi])
			} else {
				m.S.Assert(m.X[vi][pi].Not())
			}
		}
		if len(options) == 0 {
			return errors.Wrapf(ErrInfeasible, "virtual machine %s has no admissible physical machine", vm.Key())
		}
		m.S.AddClause(options...)
		m.S.AtMost(options, 1)
	}

	// usage indicators: y[p] <-> some x[v][p]
	for pi := range pms {
		hosted := make([]z.Lit, 0, len(vms))
		for vi := range vms {
			if !m.admissible(vi, pi) {
				continue
			}
			hosted = append(hosted, m.X[vi][pi])
			m.S.AddClause(m.X[vi][pi].Not(), m.Y[pi])
		}
		if len(hosted) == 0 {
			// zero-capacity or unreachable machine: always unused
			m.S.Assert(m.Y[pi].Not())
			continue
		}
		m.S.AddClause(append(hosted, m.Y[pi].Not())...)
	}
	return nil
}

func (m *Model) capacityConstraints() error {
	vms := m.Inst.VMs()
	for pi, pm := range m.Inst.PMs() {
		var lits []z.Lit
		var cpuW, memW []int64
		for vi, vm := range vms {
			if !m.admissible(vi, pi) {
				continue
			}
			lits = append(lits, m.X[vi][pi])
			cpuW = append(cpuW, vm.CPU)
			memW = append(memW, vm.Memory)
		}
		if len(lits) == 0 {
			continue
		}
		if err := m.S.AssertLeqWeighted(lits, cpuW, pm.CPU); err != nil {
			return errors.Wrapf(ErrOverflow, "cpu capacity of machine %d: %v", pm.ID, err)
		}
		if err := m.S.AssertLeqWeighted(lits, memW, pm.Memory); err != nil {
			return errors.Wrapf(ErrOverflow, "memory capacity of machine %d: %v", pm.ID, err)
		}
	}
	return nil
}

func (m *Model) antiColocationConstraints() {
	for _, job := range m.Inst.Jobs() {
		var group []int
		for _, vm := range job.VMs {
			if vm.AntiColocatable {
				vi, _ := m.Inst.VMIndex(vm.JobID, vm.Index)
				group = append(group, vi)
			}
		}
		if len(group) < 2 {
			continue
		}
		for pi := range m.Inst.PMs() {
			lits := make([]z.Lit, 0, len(group))
			for _, vi := range group {
				if m.admissible(vi, pi) {
					lits = append(lits, m.X[vi][pi])
				}
			}
			m.S.AtMost(lits, 1)
		}
	}
}

func (m *Model) migrationConstraint() error {
	if !m.Inst.HasMappings() {
		return nil
	}
	budget := m.Inst.MaxMigrationMemory()
	if !budget.IsInt64() {
		return errors.Wrapf(ErrOverflow, "migration budget %s", budget)
	}
	var lits []z.Lit
	var ws []int64
	var total int64
	for vi, vm := range m.Inst.VMs() {
		cur := m.Inst.CurrentPM(vi)
		if cur == vmcwm.Unassigned {
			continue
		}
		// moving away from the current machine costs the VM's memory
		lits = append(lits, m.X[vi][cur].Not())
		ws = append(ws, vm.Memory)
		total += vm.Memory
	}
	if len(lits) == 0 || total <= budget.Int64() {
		return nil
	}
	if err := m.S.AssertLeqWeighted(lits, ws, budget.Int64()); err != nil {
		return errors.Wrapf(ErrOverflow, "migration budget: %v", err)
	}
	return nil
}

// symmetryBreaking orders usage indicators within runs of interchangeable
// machines: a later twin may only be used if its predecessor is. A machine
// hosting a currently mapped VM is not interchangeable with its twin, the
// migration objective and budget tell them apart, so chains never cross such
// machines.
func (m *Model) symmetryBreaking() {
	pms := m.Inst.PMs()
	hosts := make([]bool, len(pms))
	for vi := range m.Inst.VMs() {
		if cur := m.Inst.CurrentPM(vi); cur != vmcwm.Unassigned {
			hosts[cur] = true
		}
	}
	for pi := 1; pi < len(pms); pi++ {
		if hosts[pi] || hosts[pi-1] {
			continue
		}
		if pms[pi].SameKind(pms[pi-1]) {
			m.S.AddClause(m.Y[pi].Not(), m.Y[pi-1])
		}
	}
}

// Decode extracts the placement from the solver's current model.
func (m *Model) Decode() vmcwm.Placement {
	p := vmcwm.NewPlacement(len(m.X))
	for vi := range m.X {
		for pi := range m.X[vi] {
			if m.S.Value(m.X[vi][pi]) {
				p[vi] = pi
				break
			}
		}
	}
	return p
}

// PlacementLits returns the placement literals made true by p, in VM order.
// Unassigned VMs contribute nothing.
func (m *Model) PlacementLits(p vmcwm.Placement) []z.Lit {
	lits := make([]z.Lit, 0, len(p))
	for vi, pi := range p {
		if pi != vmcwm.Unassigned {
			lits = append(lits, m.X[vi][pi])
		}
	}
	return lits
}

// HashVars returns the variable pool XOR hash constraints are sampled over:
// the placement variables of admissible pairs.
func (m *Model) HashVars() []z.Lit {
	var pool []z.Lit
	for vi := range m.X {
		for pi := range m.X[vi] {
			if m.admissible(vi, pi) {
				pool = append(pool, m.X[vi][pi])
			}
		}
	}
	return pool
}

// bigProduct converts a*b to int64, failing on overflow.
func bigProduct(a, b int64) (int64, error) {
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	if !p.IsInt64() {
		return 0, errors.Wrapf(ErrOverflow, "product %d*%d", a, b)
	}
	return p.Int64(), nil
}
