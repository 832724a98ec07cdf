package vmcwm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

func singletonInstance(t *testing.T) *Instance {
	t.Helper()
	pm := NewPhysicalMachine(0, 4, 4, rat(1, 1), rat(3, 1))
	vm := NewVirtualMachine(0, 0, 1, 1, false, nil)
	inst, err := NewInstance(
		[]*PhysicalMachine{pm},
		[]*Job{{ID: 0, VMs: []*VirtualMachine{vm}}},
		nil, rat(1, 1))
	require.NoError(t, err)
	return inst
}

func TestEvaluateSingleton(t *testing.T) {
	inst := singletonInstance(t)
	v := inst.Evaluate(Placement{0})

	// idle 1 plus a quarter of the 2-unit span
	assert.Equal(t, 0, v.Energy.Cmp(rat(3, 2)))
	// leftover cpu and memory fractions coincide
	assert.Equal(t, 0, v.Wastage.Sign())
	assert.Nil(t, v.Migration)
	assert.Equal(t, "e 1.50000 \tw 0.00000", v.String())
}

func TestEvaluateTightPair(t *testing.T) {
	pms := []*PhysicalMachine{
		NewPhysicalMachine(0, 2, 2, rat(1, 1), rat(2, 1)),
		NewPhysicalMachine(1, 2, 2, rat(1, 1), rat(2, 1)),
	}
	job := &Job{ID: 0, VMs: []*VirtualMachine{
		NewVirtualMachine(0, 0, 2, 2, true, nil),
		NewVirtualMachine(0, 1, 2, 2, true, nil),
	}}
	inst, err := NewInstance(pms, []*Job{job}, nil, rat(1, 1))
	require.NoError(t, err)

	p := Placement{0, 1}
	require.NoError(t, inst.Validate(p))
	v := inst.Evaluate(p)
	assert.Equal(t, 0, v.Energy.Cmp(rat(4, 1)))
	assert.Equal(t, 0, v.Wastage.Sign())

	// sharing one machine violates both capacity and anti-colocation
	assert.Error(t, inst.Validate(Placement{0, 0}))
}

func TestEvaluateWastageRatio(t *testing.T) {
	pm := NewPhysicalMachine(0, 4, 4, rat(1, 1), rat(3, 1))
	vm := NewVirtualMachine(0, 0, 2, 1, false, nil)
	inst, err := NewInstance(
		[]*PhysicalMachine{pm},
		[]*Job{{ID: 0, VMs: []*VirtualMachine{vm}}},
		nil, rat(1, 1))
	require.NoError(t, err)

	// left fractions 2/4 cpu vs 3/4 mem: num 1/4, den 2/4 + 1/4
	num, den := inst.WastageParts(Placement{0})
	assert.Equal(t, 0, num.Cmp(rat(1, 4)))
	assert.Equal(t, 0, den.Cmp(rat(3, 4)))
	assert.Equal(t, 0, inst.Wastage(Placement{0}).Cmp(rat(1, 3)))

	inst.DiscardDenominators()
	assert.Equal(t, 0, inst.Wastage(Placement{0}).Cmp(rat(1, 4)))
}

func TestMigrationCostAndBudget(t *testing.T) {
	pms := []*PhysicalMachine{
		NewPhysicalMachine(0, 4, 4, rat(1, 1), rat(3, 1)),
		NewPhysicalMachine(1, 4, 4, rat(1, 1), rat(3, 1)),
	}
	job := &Job{ID: 0, VMs: []*VirtualMachine{
		NewVirtualMachine(0, 0, 1, 2, false, nil),
	}}
	maps := []Mapping{{JobID: 0, VMIndex: 0, PMID: 0}}

	inst, err := NewInstance(pms, []*Job{job}, maps, rat(1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), inst.Migration(Placement{0}).Int64())
	assert.Equal(t, int64(2), inst.Migration(Placement{1}).Int64())
	require.NoError(t, inst.Validate(Placement{1}))

	// zero percentile pins the VM to its current machine
	pinned, err := NewInstance(pms, []*Job{job}, maps, rat(0, 1))
	require.NoError(t, err)
	require.NoError(t, pinned.Validate(Placement{0}))
	assert.Error(t, pinned.Validate(Placement{1}))
}

func TestPlatformConstraint(t *testing.T) {
	pms := []*PhysicalMachine{
		NewPhysicalMachine(7, 4, 4, rat(1, 1), rat(3, 1)),
		NewPhysicalMachine(9, 4, 4, rat(1, 1), rat(3, 1)),
	}
	vm := NewVirtualMachine(0, 0, 1, 1, false, []int{9})
	inst, err := NewInstance(pms,
		[]*Job{{ID: 0, VMs: []*VirtualMachine{vm}}}, nil, rat(1, 1))
	require.NoError(t, err)

	assert.Error(t, inst.Validate(Placement{0}))
	require.NoError(t, inst.Validate(Placement{1}))

	vm.ClearPlatformConstraint()
	require.NoError(t, inst.Validate(Placement{0}))
}

func TestDominates(t *testing.T) {
	mk := func(e, w int64) ObjectiveVector {
		return ObjectiveVector{Energy: rat(e, 1), Wastage: rat(w, 1)}
	}
	assert.True(t, mk(1, 2).Dominates(mk(2, 2)))
	assert.True(t, mk(1, 1).Dominates(mk(2, 2)))
	assert.False(t, mk(1, 3).Dominates(mk(2, 2)))
	assert.False(t, mk(2, 2).Dominates(mk(2, 2)))
	assert.True(t, mk(2, 2).Equal(mk(2, 2)))
}

func TestMappingRoundTrip(t *testing.T) {
	inst := singletonInstance(t)
	p := Placement{0}
	maps := inst.MappingsFromPlacement(p)
	require.Len(t, maps, 1)
	back, err := inst.PlacementFromMappings(maps)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}
