// Package stats summarizes an instance as solver comment lines.
package stats

import (
	"fmt"
	"io"
	"math/big"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// Statistics are the aggregate figures of one instance.
type Statistics struct {
	PMs      int
	Jobs     int
	VMs      int
	Mappings int

	TotalCPUCapacity *big.Int
	TotalMemCapacity *big.Int
	TotalCPURequired *big.Int
	TotalMemRequired *big.Int

	AntiColocatable     int
	PlatformConstrained int

	MigrationBudget *big.Int
}

// Collect computes the statistics of an instance.
func Collect(inst *vmcwm.Instance) Statistics {
	s := Statistics{
		PMs:              len(inst.PMs()),
		Jobs:             len(inst.Jobs()),
		VMs:              len(inst.VMs()),
		Mappings:         len(inst.Mappings()),
		TotalCPUCapacity: inst.TotalCPU(),
		TotalMemCapacity: inst.TotalMemory(),
		TotalCPURequired: new(big.Int),
		TotalMemRequired: new(big.Int),
		MigrationBudget:  inst.MaxMigrationMemory(),
	}
	for _, vm := range inst.VMs() {
		s.TotalCPURequired.Add(s.TotalCPURequired, big.NewInt(vm.CPU))
		s.TotalMemRequired.Add(s.TotalMemRequired, big.NewInt(vm.Memory))
		if vm.AntiColocatable {
			s.AntiColocatable++
		}
		if vm.Restricted() {
			s.PlatformConstrained++
		}
	}
	return s
}

// usagePercent formats required/capacity as a percentage.
func usagePercent(required, capacity *big.Int) string {
	if capacity.Sign() == 0 {
		return "n/a"
	}
	r := new(big.Rat).SetFrac(required, capacity)
	r.Mul(r, big.NewRat(100, 1))
	return r.FloatString(2) + "%"
}

// Print writes the statistics as "c" comment lines.
func (s Statistics) Print(w io.Writer) {
	fmt.Fprintf(w, "c Physical machines:    %d\n", s.PMs)
	fmt.Fprintf(w, "c Jobs:                 %d\n", s.Jobs)
	fmt.Fprintf(w, "c Virtual machines:     %d\n", s.VMs)
	fmt.Fprintf(w, "c Mappings:             %d\n", s.Mappings)
	fmt.Fprintf(w, "c CPU capacity:         %s\n", s.TotalCPUCapacity)
	fmt.Fprintf(w, "c CPU requirement:      %s (%s)\n", s.TotalCPURequired,
		usagePercent(s.TotalCPURequired, s.TotalCPUCapacity))
	fmt.Fprintf(w, "c Memory capacity:      %s\n", s.TotalMemCapacity)
	fmt.Fprintf(w, "c Memory requirement:   %s (%s)\n", s.TotalMemRequired,
		usagePercent(s.TotalMemRequired, s.TotalMemCapacity))
	fmt.Fprintf(w, "c Anti-colocatable VMs: %d\n", s.AntiColocatable)
	fmt.Fprintf(w, "c Platform-bound VMs:   %d\n", s.PlatformConstrained)
	if s.Mappings > 0 {
		fmt.Fprintf(w, "c Migration budget:     %s\n", s.MigrationBudget)
	}
}
