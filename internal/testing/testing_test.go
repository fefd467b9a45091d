package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

func TestScriptedRandom(t *testing.T) {
	rng := NewScriptedRandom(0.1, 0.5)

	assert.Equal(t, 0.1, rng.Float64())
	assert.Equal(t, 0.5, rng.Float64())
	assert.Equal(t, 0.99, rng.Float64(), "falls back once the script is exhausted")
	assert.Equal(t, 3, rng.Draws())
}

func TestScriptedRandomIntn(t *testing.T) {
	rng := NewScriptedRandom(0, 0.5, 0.999999, 1)

	assert.Equal(t, 0, rng.Intn(4))
	assert.Equal(t, 2, rng.Intn(4))
	assert.Equal(t, 3, rng.Intn(4))
	assert.Equal(t, 3, rng.Intn(4), "clamped to n-1")
	assert.Panics(t, func() { rng.Intn(0) })
}

func TestConstant(t *testing.T) {
	rng := Constant(0.25)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.25, rng.Float64())
	}
	assert.Equal(t, 5, rng.Draws())
}

func TestScriptedRandomSatisfiesRandom(t *testing.T) {
	var _ consensus.Random = NewScriptedRandom()
}

func TestHonest(t *testing.T) {
	nodes := Honest(4)
	require.Len(t, nodes, 4)
	for i, n := range nodes {
		assert.Equal(t, consensus.NodeID(i+1), n.ID)
		assert.True(t, n.IsOnline)
		assert.False(t, n.IsByzantine)
		assert.Equal(t, consensus.NodeIdle, n.State)
	}
}

func TestWithByzantine(t *testing.T) {
	nodes := WithByzantine(4, 2, consensus.ByzantineEquivocator)
	assert.True(t, nodes[0].IsByzantine)
	assert.True(t, nodes[1].IsByzantine)
	assert.False(t, nodes[2].IsByzantine)
	assert.Equal(t, consensus.ByzantineEquivocator, nodes[1].ByzantineType)

	assert.Len(t, WithByzantine(2, 5, consensus.ByzantineFaulty), 2)
}

func TestOffline(t *testing.T) {
	nodes := Honest(4)
	down := Offline(nodes, 2, 4)

	assert.True(t, nodes[1].IsOnline, "input is not modified")
	assert.True(t, down[0].IsOnline)
	assert.False(t, down[1].IsOnline)
	assert.True(t, down[2].IsOnline)
	assert.False(t, down[3].IsOnline)
}
