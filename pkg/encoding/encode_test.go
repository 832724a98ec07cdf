package encoding

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

func pm(id int, cpu, mem int64) *vmcwm.PhysicalMachine {
	return vmcwm.NewPhysicalMachine(id, cpu, mem, rat(1, 1), rat(3, 1))
}

func instance(t *testing.T, pms []*vmcwm.PhysicalMachine, jobs []*vmcwm.Job, maps []vmcwm.Mapping, pct *big.Rat) *vmcwm.Instance {
	t.Helper()
	inst, err := vmcwm.NewInstance(pms, jobs, maps, pct)
	require.NoError(t, err)
	return inst
}

func solveModel(t *testing.T, m *Model) vmcwm.Placement {
	t.Helper()
	res, err := m.S.Solve(context.Background(), sat.Budget{})
	require.NoError(t, err)
	require.Equal(t, sat.Satisfiable, res)
	return m.Decode()
}

func TestEncodeSingleton(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 1, false, nil),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)

	p := solveModel(t, m)
	require.NoError(t, inst.Validate(p))
	assert.Equal(t, vmcwm.Placement{0}, p)

	v := inst.Evaluate(p)
	assert.Equal(t, 0, v.Energy.Cmp(rat(3, 2)))
	assert.Equal(t, 0, v.Wastage.Sign())
}

func TestEncodeCapacityAndAntiColocation(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 2, 2), pm(1, 2, 2)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 2, 2, true, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, true, nil),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)

	p := solveModel(t, m)
	require.NoError(t, inst.Validate(p))
	assert.NotEqual(t, p[0], p[1])
}

func TestEncodePlatformForced(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 1, false, []int{1}),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)
	p := solveModel(t, m)
	assert.Equal(t, vmcwm.Placement{1}, p)
}

func TestEncodeInfeasiblePlatform(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 1, false, []int{99}),
		}}},
		nil, rat(1, 1))

	_, err := Encode(inst, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfeasible)

	// the same instance encodes once platform constraints are ignored
	_, err = Encode(inst, Options{IgnorePlatform: true})
	assert.NoError(t, err)
}

func TestEncodeMigrationPinned(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 2, false, nil),
		}}},
		[]vmcwm.Mapping{{JobID: 0, VMIndex: 0, PMID: 0}},
		rat(0, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)
	p := solveModel(t, m)
	assert.Equal(t, vmcwm.Placement{0}, p)

	// moving away is excluded outright
	m.S.Assume(m.X[0][1])
	res, err := m.S.Solve(context.Background(), sat.Budget{})
	require.NoError(t, err)
	assert.Equal(t, sat.Unsatisfiable, res)
}

func TestEncodeObjectiveBounds(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 2, 2, false, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, false, nil),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)
	energy, err := m.Objectives.Energy.Reduce()
	require.NoError(t, err)

	p := solveModel(t, m)
	require.NoError(t, inst.Validate(p))
	v := m.ValueOf(energy)

	// consolidating both VMs on one machine is the single-machine optimum:
	// idle 1 + (4/4)*2 = 3, strictly below any two-machine model
	three := energy.Rat(v)
	if p[0] == p[1] {
		assert.Equal(t, 0, three.Cmp(rat(3, 1)))
	}

	// tightening below the consolidated optimum leaves only two-machine
	// models or nothing
	b, err := m.BoundLeq(energy, v-1)
	require.NoError(t, err)
	m.S.Assume(b)
	res, err := m.S.Solve(context.Background(), sat.Budget{})
	require.NoError(t, err)
	if res == sat.Satisfiable {
		q := m.Decode()
		require.NoError(t, inst.Validate(q))
		assert.True(t, m.ValueOf(energy) < v)
	}
}

func TestEncodeSymmetryBreaking(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 1, false, nil),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{SymmetryBreaking: true})
	require.NoError(t, err)

	// the twin ordering forbids using machine 1 alone
	m.S.Assume(m.Y[1], m.Y[0].Not())
	res, err := m.S.Solve(context.Background(), sat.Budget{})
	require.NoError(t, err)
	assert.Equal(t, sat.Unsatisfiable, res)
}

func TestSymmetryBreakingRespectsMappings(t *testing.T) {
	// the VM sits on the second of two twins and may not move; ordering the
	// twins anyway would rule out the only feasible placement
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 2, false, nil),
		}}},
		[]vmcwm.Mapping{{JobID: 0, VMIndex: 0, PMID: 1}},
		rat(0, 1))

	m, err := Encode(inst, Options{SymmetryBreaking: true})
	require.NoError(t, err)
	p := solveModel(t, m)
	require.NoError(t, inst.Validate(p))
	assert.Equal(t, vmcwm.Placement{1}, p)
}

func TestDumpOPB(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 2, 2), pm(1, 2, 2)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 2, 2, true, nil),
			vmcwm.NewVirtualMachine(0, 1, 2, 2, true, nil),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, m.DumpOPB(&sb, false))
	out := sb.String()

	assert.True(t, strings.HasPrefix(out, "* #variable="))
	// energy, wastage numerator, wastage denominator
	assert.Equal(t, 3, strings.Count(out, "min:"))
	assert.Contains(t, out, "= 1 ;")

	var dec strings.Builder
	require.NoError(t, m.DumpOPB(&dec, true))
	assert.Equal(t, 3, strings.Count(dec.String(), "min:"))
}

func TestHashVarsAndPlacementLits(t *testing.T) {
	inst := instance(t,
		[]*vmcwm.PhysicalMachine{pm(0, 4, 4), pm(1, 4, 4)},
		[]*vmcwm.Job{{ID: 0, VMs: []*vmcwm.VirtualMachine{
			vmcwm.NewVirtualMachine(0, 0, 1, 1, false, []int{0}),
		}}},
		nil, rat(1, 1))

	m, err := Encode(inst, Options{})
	require.NoError(t, err)
	assert.Len(t, m.HashVars(), 1)
	assert.Len(t, m.PlacementLits(vmcwm.Placement{0}), 1)
	assert.Empty(t, m.PlacementLits(vmcwm.Placement{vmcwm.Unassigned}))
}
