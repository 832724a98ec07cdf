package stats

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

func TestCollectAndPrint(t *testing.T) {
	rat := func(a, b int64) *big.Rat { return big.NewRat(a, b) }
	inst, err := vmcwm.NewInstance(
		[]*vmcwm.PhysicalMachine{
			vmcwm.NewPhysicalMachine(0, 4, 8, rat(1, 1), rat(3, 1)),
			vmcwm.NewPhysicalMachine(1, 4, 8, rat(1, 1), rat(3, 1)),
		},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 2, 4, true, []int{0}),
			vmcwm.NewVirtualMachine(0, 1, 2, 4, false, nil),
		}}},
		[]vmcwm.Mapping{{JobID: 0, VMIndex: 0, PMID: 0}},
		rat(1, 2))
	require.NoError(t, err)

	s := Collect(inst)
	assert.Equal(t, 2, s.PMs)
	assert.Equal(t, 1, s.Jobs)
	assert.Equal(t, 2, s.VMs)
	assert.Equal(t, 1, s.Mappings)
	assert.Equal(t, int64(8), s.TotalCPUCapacity.Int64())
	assert.Equal(t, int64(4), s.TotalCPURequired.Int64())
	assert.Equal(t, int64(16), s.TotalMemCapacity.Int64())
	assert.Equal(t, int64(8), s.TotalMemRequired.Int64())
	assert.Equal(t, 1, s.AntiColocatable)
	assert.Equal(t, 1, s.PlatformConstrained)
	assert.Equal(t, int64(8), s.MigrationBudget.Int64())

	var sb strings.Builder
	s.Print(&sb)
	out := sb.String()
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		assert.True(t, strings.HasPrefix(line, "c "), "line %q", line)
	}
	assert.Contains(t, out, "c CPU requirement:      4 (50.00%)")
	assert.Contains(t, out, "c Migration budget:     8")
}
