// Package heuristic implements the first-fit-decreasing and
// best-fit-decreasing bin-packing allocators and the heuristic reducer that
// shrinks an instance to the machines a packing solution actually uses.
package heuristic

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// ErrPackingFailed reports that some virtual machine could not be placed.
var ErrPackingFailed = errors.New("bin packing failed")

// Fit selects the bin choice rule.
type Fit int

const (
	// FirstFit places each VM on the first machine it fits on.
	FirstFit Fit = iota
	// BestFit places each VM on the fitting machine with the least
	// remaining capacity.
	BestFit
)

// ParseFit maps the command-line names to fit rules.
func ParseFit(s string) (Fit, error) {
	switch s {
	case "FFD":
		return FirstFit, nil
	case "BFD", "":
		return BestFit, nil
	}
	return 0, errors.Errorf("unknown reduction algorithm %q", s)
}

// Options tune a packing run.
type Options struct {
	Fit Fit
	// Shuffle randomizes the machine traversal order, used by evolutionary
	// callers to seed diverse initial populations.
	Shuffle bool
	Seed    int64
}

// Pack places every VM in decreasing resource order. Machines hosting a VM's
// current assignment are tried first so packings respect the migration budget
// whenever they can. It fails with ErrPackingFailed when some VM fits
// nowhere.
func Pack(inst *vmcwm.Instance, opts Options) (vmcwm.Placement, error) {
	vms := inst.VMs()
	pms := inst.PMs()

	order := make([]int, len(vms))
	for i := range order {
		order[i] = i
	}
	// decreasing by memory, then CPU; stable on input order
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := vms[order[a]], vms[order[b]]
		if va.Memory != vb.Memory {
			return va.Memory > vb.Memory
		}
		return va.CPU > vb.CPU
	})

	machines := make([]int, len(pms))
	for i := range machines {
		machines[i] = i
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(machines), func(i, j int) { machines[i], machines[j] = machines[j], machines[i] })
	}

	p := vmcwm.NewPlacement(len(vms))
	for _, vi := range order {
		pi := pickMachine(inst, p, vi, machines, opts.Fit)
		if pi == vmcwm.Unassigned {
			return nil, errors.Wrapf(ErrPackingFailed, "virtual machine %s fits nowhere", vms[vi].Key())
		}
		p[vi] = pi
	}

	if err := inst.Validate(p); err != nil {
		return nil, errors.Wrap(ErrPackingFailed, err.Error())
	}
	return p, nil
}

func pickMachine(inst *vmcwm.Instance, p vmcwm.Placement, vi int, machines []int, fit Fit) int {
	// keeping a previously mapped VM in place costs no migration budget
	if cur := inst.CurrentPM(vi); cur != vmcwm.Unassigned && inst.FitsOn(p, vi, cur) {
		return cur
	}

	best := vmcwm.Unassigned
	var bestLeft int64
	for _, pi := range machines {
		if !inst.FitsOn(p, vi, pi) {
			continue
		}
		if fit == FirstFit {
			return pi
		}
		left := leftover(inst, p, vi, pi)
		if best == vmcwm.Unassigned || left < bestLeft {
			best, bestLeft = pi, left
		}
	}
	return best
}

// leftover is the machine's remaining CPU plus memory after hosting vi, the
// best-fit tightness measure.
func leftover(inst *vmcwm.Instance, p vmcwm.Placement, vi, pi int) int64 {
	pm := inst.PMs()[pi]
	vms := inst.VMs()
	cpu, mem := pm.CPU, pm.Memory
	for wj, pj := range p {
		if pj == pi {
			cpu -= vms[wj].CPU
			mem -= vms[wj].Memory
		}
	}
	return cpu - vms[vi].CPU + mem - vms[vi].Memory
}

// Reduce packs the instance and rebuilds it with only the machines the
// packing uses plus any machine referenced by a current mapping. The result
// never has more machines than the input.
func Reduce(inst *vmcwm.Instance, opts Options) (*vmcwm.Instance, error) {
	p, err := Pack(inst, opts)
	if err != nil {
		return nil, err
	}

	keep := make(map[int]bool)
	for _, pi := range p {
		keep[pi] = true
	}
	for _, m := range inst.Mappings() {
		pi, ok := inst.PMIndex(m.PMID)
		if !ok {
			return nil, errors.Errorf("mapping references unknown machine %d", m.PMID)
		}
		keep[pi] = true
	}

	pms := inst.PMs()
	kept := make([]*vmcwm.PhysicalMachine, 0, len(keep))
	for pi, pm := range pms {
		if keep[pi] {
			kept = append(kept, pm)
		}
	}
	if len(kept) == len(pms) {
		return inst, nil
	}
	return vmcwm.NewInstance(kept, inst.Jobs(), inst.Mappings(), inst.MigrationPercentile())
}
