package heuristic

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

func pm(id int, cpu, mem int64) *vmcwm.PhysicalMachine {
	return vmcwm.NewPhysicalMachine(id, cpu, mem, rat(1, 1), rat(3, 1))
}

func instance(t *testing.T, pms []*vmcwm.PhysicalMachine, jobs []*vmcwm.Job, maps []vmcwm.Mapping) *vmcwm.Instance {
	t.Helper()
	inst, err := vmcwm.NewInstance(pms, jobs, maps, rat(1, 1))
	require.NoError(t, err)
	return inst
}

func job(vms ...*vmcwm.VirtualMachine) []*vmcwm.Job {
	return []*vmcwm.Job{{ID: 0, VMs: vms}}
}

func TestPackValidity(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4), pm(2, 4, 4)},
		job(
			vmcwm.NewVirtualMachine(0, 0, 2, 3, false, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 2, 1, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 3, 3, 1, false, nil),
		), nil)

	for _, fit := range []Fit{FirstFit, BestFit} {
		p, err := Pack(inst, Options{Fit: fit})
		require.NoError(t, err)
		assert.NoError(t, inst.Validate(p))
	}
}

func TestBestFitPrefersTightMachine(t *testing.T) {
	// a 2-unit VM best-fits the 2-unit machine, leaving the big one empty
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 8, 8), pm(1, 2, 2)},
		job(vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil)), nil)

	p, err := Pack(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	assert.Equal(t, vmcwm.Placement{1}, p)

	p, err = Pack(inst, Options{Fit: FirstFit})
	require.NoError(t, err)
	assert.Equal(t, vmcwm.Placement{0}, p)
}

func TestPackKeepsMappedVMsInPlace(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		job(vmcwm.NewVirtualMachine(0, 0, 1, 1, false, nil)),
		[]vmcwm.Mapping{{JobID: 0, VMIndex: 0, PMID: 1}})

	p, err := Pack(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	assert.Equal(t, vmcwm.Placement{1}, p)
}

func TestPackRespectsAntiColocation(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		job(
			vmcwm.NewVirtualMachine(0, 0, 1, 1, true, nil),
			vmcwm.NewVirtualMachine(0, 1, 1, 1, true, nil),
		), nil)

	p, err := Pack(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	assert.NotEqual(t, p[0], p[1])
}

func TestPackFails(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 1, 1)},
		job(vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil)), nil)

	_, err := Pack(inst, Options{Fit: FirstFit})
	assert.ErrorIs(t, err, ErrPackingFailed)
}

func TestPackShuffleDeterministic(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4), pm(2, 4, 4), pm(3, 4, 4)},
		job(
			vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, false, nil),
		), nil)

	a, err := Pack(inst, Options{Fit: FirstFit, Shuffle: true, Seed: 17})
	require.NoError(t, err)
	b, err := Pack(inst, Options{Fit: FirstFit, Shuffle: true, Seed: 17})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NoError(t, inst.Validate(a))
}

func TestReduceShrinks(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 8, 8), pm(1, 8, 8), pm(2, 8, 8), pm(3, 8, 8)},
		job(
			vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, false, nil),
		), nil)

	red, err := Reduce(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	assert.Less(t, len(red.PMs()), len(inst.PMs()))
	assert.Len(t, red.VMs(), len(inst.VMs()))
}

func TestReduceNeverGrows(t *testing.T) {
	// every machine is needed; the reducer returns the instance unchanged
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 2, 2), pm(1, 2, 2)},
		job(
			vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, false, nil),
		), nil)

	red, err := Reduce(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	assert.Same(t, inst, red)
}

func TestReduceKeepsMappedMachines(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 8, 8), pm(1, 8, 8), pm(2, 8, 8)},
		job(vmcwm.NewVirtualMachine(0, 0, 1, 1, false, nil)),
		[]vmcwm.Mapping{{JobID: 0, VMIndex: 0, PMID: 2}})

	red, err := Reduce(inst, Options{Fit: BestFit})
	require.NoError(t, err)
	_, ok := red.PMIndex(2)
	assert.True(t, ok)
}

func TestParseFit(t *testing.T) {
	f, err := ParseFit("FFD")
	require.NoError(t, err)
	assert.Equal(t, FirstFit, f)
	f, err = ParseFit("")
	require.NoError(t, err)
	assert.Equal(t, BestFit, f)
	_, err = ParseFit("WFD")
	assert.Error(t, err)
}
