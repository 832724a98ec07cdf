package objective

import (
	"math/big"
	"testing"

	"github.com/go-air/gini/z"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lit(v int) z.Lit { return z.Var(v).Pos() }

func TestReduceClearsDenominators(t *testing.T) {
	f := New("energy")
	f.Add(lit(2), big.NewRat(1, 2))
	f.Add(lit(3), big.NewRat(1, 3))
	f.Add(lit(4), big.NewRat(2, 1))

	r, err := f.Reduce()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 12}, r.Weights)
	assert.Equal(t, int64(6), r.Denominator.Int64())

	// the rational scale is recoverable
	assert.Equal(t, 0, r.Rat(3).Cmp(big.NewRat(1, 2)))
	assert.Equal(t, int64(17), r.Total())
}

func TestReduceRejectsNegative(t *testing.T) {
	f := New("bad")
	f.Add(lit(2), big.NewRat(-1, 2))
	_, err := f.Reduce()
	assert.Error(t, err)
}

func TestReduceOverflow(t *testing.T) {
	f := New("huge")
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	f.Add(lit(2), new(big.Rat).SetInt(huge))
	_, err := f.Reduce()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAddDropsZero(t *testing.T) {
	f := New("sparse")
	f.Add(lit(2), new(big.Rat))
	assert.True(t, f.Empty())
}

func TestReducedValue(t *testing.T) {
	f := New("energy")
	f.Add(lit(2), big.NewRat(1, 1))
	f.Add(lit(3), big.NewRat(5, 1))
	r, err := f.Reduce()
	require.NoError(t, err)

	model := map[z.Lit]bool{lit(3): true}
	assert.Equal(t, int64(5), r.Value(func(m z.Lit) bool { return model[m] }))
}

func TestManagerDivisionHandling(t *testing.T) {
	num := New("wastage")
	num.Add(lit(2), big.NewRat(1, 4))
	den := New("wastage-den")
	den.Add(lit(3), big.NewRat(1, 2))

	m := &Manager{Energy: New("energy"), WastageNum: num, WastageDen: den}

	merged := m.Wastage()
	assert.Len(t, merged.Lits, 2)

	n, d := m.DivisionSplit()
	assert.Same(t, num, n)
	assert.Same(t, den, d)

	m.IgnoreDenominators()
	assert.Same(t, num, m.Wastage())
	n, d = m.DivisionSplit()
	assert.Same(t, num, n)
	assert.Nil(t, d)
}
