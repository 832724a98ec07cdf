package mcs

import (
	"context"
	"math/rand"
	"testing"

	"github.com/go-air/gini/z"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/stratify"
)

// pairExclusion builds a solver where the objective literals a and b cannot
// both be false: at least one carries its weight in any model.
func pairExclusion(t *testing.T, wa, wb int64) (*sat.Solver, stratify.Partition) {
	t.Helper()
	s := sat.New()
	a, b := s.Lit(), s.Lit()
	s.AddClause(a, b)
	return s, stratify.Partition{Lits: []z.Lit{a, b}, Weights: []int64{wa, wb}}
}

func TestCLDAllSatisfiable(t *testing.T) {
	s := sat.New()
	a, b := s.Lit(), s.Lit()
	part := stratify.Partition{Lits: []z.Lit{a, b}, Weights: []int64{3, 5}}

	e := &Engine{S: s}
	res, err := e.CLD(context.Background(), part)
	require.NoError(t, err)
	assert.Equal(t, sat.Satisfiable, res.Status)
	assert.True(t, res.Proved)
	assert.Equal(t, int64(0), res.Cost)
	assert.False(t, s.Value(a))
	assert.False(t, s.Value(b))
}

func TestCLDFindsMinimalCorrection(t *testing.T) {
	s, part := pairExclusion(t, 2, 2)

	e := &Engine{S: s}
	res, err := e.CLD(context.Background(), part)
	require.NoError(t, err)
	require.Equal(t, sat.Satisfiable, res.Status)
	assert.True(t, res.Proved)
	// exactly one soft literal must fall
	assert.Equal(t, int64(2), res.Cost)
	assert.Len(t, res.Falsified, 1)
	assert.Len(t, res.Satisfied, 1)

	// the solver holds the witnessing model: the satisfied soft literal is
	// true, the falsified one is false
	assert.True(t, s.Value(res.Satisfied[0]))
	assert.False(t, s.Value(res.Falsified[0]))
}

func TestCLDFindsMinimumCost(t *testing.T) {
	// two minimal corrections exist, {a} at cost 3 and {b} at cost 5; CLD must
	// enumerate past whichever it finds first and return the cheaper one
	s, part := pairExclusion(t, 3, 5)

	e := &Engine{S: s}
	res, err := e.CLD(context.Background(), part)
	require.NoError(t, err)
	require.Equal(t, sat.Satisfiable, res.Status)
	assert.True(t, res.Proved)
	assert.Equal(t, int64(3), res.Cost)
	require.Len(t, res.Falsified, 1)
	assert.Equal(t, part.Lits[0].Not(), res.Falsified[0])

	// the solver holds the cheap witness: a carries its weight, b does not
	assert.True(t, s.Value(part.Lits[0]))
	assert.False(t, s.Value(part.Lits[1]))
}

func TestCLDHardUnsat(t *testing.T) {
	s := sat.New()
	a := s.Lit()
	s.Assert(a)
	s.Assert(a.Not())
	part := stratify.Partition{Lits: []z.Lit{s.Lit()}, Weights: []int64{1}}

	e := &Engine{S: s}
	res, err := e.CLD(context.Background(), part)
	require.NoError(t, err)
	assert.Equal(t, sat.Unsatisfiable, res.Status)
}

func TestCLDRespectsLocked(t *testing.T) {
	s := sat.New()
	a, b := s.Lit(), s.Lit()
	s.AddClause(a, b)
	part := stratify.Partition{Lits: []z.Lit{b}, Weights: []int64{2}}

	// locking a's negation forces b, so b's weight is unavoidable
	e := &Engine{S: s, Locked: []z.Lit{a.Not()}}
	res, err := e.CLD(context.Background(), part)
	require.NoError(t, err)
	require.Equal(t, sat.Satisfiable, res.Status)
	assert.Equal(t, int64(2), res.Cost)
}

func TestLBXInclusionMinimal(t *testing.T) {
	s, part := pairExclusion(t, 3, 5)

	e := &Engine{S: s}
	res, err := e.LBX(context.Background(), part, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Equal(t, sat.Satisfiable, res.Status)
	assert.True(t, res.Proved)
	// one of the two soft literals is enough to correct
	assert.Len(t, res.Falsified, 1)
	assert.Len(t, res.Satisfied, 1)
}

func TestLBXHardUnsat(t *testing.T) {
	s := sat.New()
	a := s.Lit()
	s.Assert(a)
	s.Assert(a.Not())
	part := stratify.Partition{Lits: []z.Lit{s.Lit()}, Weights: []int64{1}}

	e := &Engine{S: s}
	res, err := e.LBX(context.Background(), part, nil)
	require.NoError(t, err)
	assert.Equal(t, sat.Unsatisfiable, res.Status)
}

func TestDeadlinePropagates(t *testing.T) {
	s, part := pairExclusion(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Engine{S: s}
	_, err := e.CLD(ctx, part)
	assert.ErrorIs(t, err, sat.ErrDeadline)
}
