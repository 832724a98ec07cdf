package stratify

import (
	"math/rand"
	"testing"

	"github.com/go-air/gini/z"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometownjlu/VMAlloc/pkg/objective"
)

func reduced(ws ...int64) *objective.Reduced {
	r := &objective.Reduced{Name: "test"}
	for i, w := range ws {
		r.Lits = append(r.Lits, z.Var(i+2).Pos())
		r.Weights = append(r.Weights, w)
	}
	return r
}

func TestLWRNeverSplitsEqualWeights(t *testing.T) {
	// sixteen equal weights exceed any ratio but share one weight class
	ws := make([]int64, 16)
	for i := range ws {
		ws[i] = 7
	}
	parts := LWR(reduced(ws...), 2)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0].Lits, 16)
}

func TestLWRClosesAtBoundary(t *testing.T) {
	parts := LWR(reduced(8, 8, 8, 8, 4, 2, 1), 2)
	require.True(t, len(parts) >= 2)

	// highest weights come first
	assert.Equal(t, int64(8), parts[0].Weights[0])
	last := parts[len(parts)-1]
	assert.Equal(t, int64(1), last.Weights[len(last.Weights)-1])

	// partitions cover every term exactly once
	total := 0
	for _, p := range parts {
		total += len(p.Lits)
	}
	assert.Equal(t, 7, total)
}

func TestFixedPartitionCount(t *testing.T) {
	parts := Fixed(reduced(5, 4, 3, 2, 1, 1), 3)
	require.Len(t, parts, 3)

	var total int64
	count := 0
	for _, p := range parts {
		total += p.Weight()
		count += len(p.Lits)
	}
	assert.Equal(t, int64(16), total)
	assert.Equal(t, 6, count)
}

func TestFixedFewerTermsThanPartitions(t *testing.T) {
	parts := Fixed(reduced(3, 1), 5)
	assert.Len(t, parts, 2)
}

func TestFold(t *testing.T) {
	a := Partition{Lits: []z.Lit{z.Var(2).Pos()}, Weights: []int64{4}}
	b := Partition{Lits: []z.Lit{z.Var(3).Pos()}, Weights: []int64{2}}
	m := Fold(a, b)
	assert.Equal(t, int64(6), m.Weight())
	assert.Len(t, m.Lits, 2)
}

func TestStreamFoldMergesIntoNext(t *testing.T) {
	parts := LWR(reduced(8, 4, 2), 1)
	require.Len(t, parts, 3)
	s := NewStream(parts)

	first, ok := s.Next()
	require.True(t, ok)
	s.Fold(first)

	second, ok := s.Next()
	require.True(t, ok)
	assert.Len(t, second.Lits, 2)
	assert.Equal(t, int64(12), second.Weight())

	third, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), third.Weight())

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestStreamFoldAtEnd(t *testing.T) {
	s := NewStream(LWR(reduced(3), 1))
	p, ok := s.Next()
	require.True(t, ok)
	s.Fold(p)

	again, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, p.Weight(), again.Weight())
	_, ok = s.Next()
	assert.False(t, ok)
}

func TestSplitStreamDrainsBoth(t *testing.T) {
	num := LWR(reduced(8, 4), 1)
	den := LWR(reduced(2, 1), 1)
	s := NewSplitStream(num, den, rand.New(rand.NewSource(7)))

	var total int64
	n := 0
	for {
		p, ok := s.Next()
		if !ok {
			break
		}
		total += p.Weight()
		n++
	}
	assert.Equal(t, int64(15), total)
	assert.Equal(t, 4, n)
}

func TestSplitStreamDeterministic(t *testing.T) {
	draw := func(seed int64) []int64 {
		s := NewSplitStream(LWR(reduced(8, 4, 2), 1), LWR(reduced(7, 3), 1), rand.New(rand.NewSource(seed)))
		var ws []int64
		for {
			p, ok := s.Next()
			if !ok {
				return ws
			}
			ws = append(ws, p.Weight())
		}
	}
	assert.Equal(t, draw(13), draw(13))
}

func TestMultiStreamOrderAndFold(t *testing.T) {
	a := NewStream(LWR(reduced(8), 1))
	b := NewStream(LWR(reduced(4, 2), 1))
	s := NewMultiStream(a, b)

	p, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(8), p.Weight())

	p, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(4), p.Weight())
	s.Fold(p)

	p, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, int64(6), p.Weight())

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestConfigSplit(t *testing.T) {
	r := reduced(9, 3, 1)
	assert.Len(t, Config{PartitionCount: 2}.Split(r), 2)
	// ratio mode with a huge ratio keeps everything together
	assert.Len(t, Config{LitWeightRatio: 100}.Split(r), 1)
}
