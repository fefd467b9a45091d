package tendermint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	simtesting "github.com/LeJamon/tmsim/internal/testing"
)

func TestEvidencePoolDetectsEquivocation(t *testing.T) {
	pool := NewEvidencePool()

	ev := pool.Record(3, 3, 2, "aaaa")
	assert.False(t, ev.Equivocates)
	assert.Equal(t, []string{"aaaa"}, ev.Hashes)

	ev = pool.Record(3, 3, 2, "aaaa")
	assert.False(t, ev.Equivocates)

	ev = pool.Record(3, 3, 2, "bbbb")
	assert.True(t, ev.Equivocates)
	assert.Equal(t, []string{"aaaa", "bbbb"}, ev.Hashes)

	ev = pool.Record(3, 3, 2, "cccc")
	assert.True(t, ev.Equivocates)
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc"}, ev.Hashes)

	other := pool.Record(3, 4, 2, "dddd")
	assert.False(t, other.Equivocates)

	eqs := pool.Equivocations()
	require.Len(t, eqs, 1)
	assert.Equal(t, EvidenceKey{Height: 3, Round: 3, Proposer: 2}, eqs[0].Key)
}

func TestEvidencePoolClone(t *testing.T) {
	pool := NewEvidencePool()
	pool.Record(1, 1, 1, "x")

	clone := pool.Clone()
	clone.Record(1, 1, 1, "y")

	assert.Empty(t, pool.Equivocations())
	assert.Len(t, clone.Equivocations(), 1)
	assert.Equal(t, 0, (*EvidencePool)(nil).Len())
}

func TestCreateBlock(t *testing.T) {
	factory := BlockFactory{BlockSize: 10, MaliciousProbability: DefaultMaliciousProbability}
	at := simtesting.Epoch

	t.Run("honest", func(t *testing.T) {
		rng := simtesting.Constant(0.5)
		b := factory.CreateBlock(consensus.Node{ID: 1, IsOnline: true}, 1, 1, at, rng)
		assert.Equal(t, 6, b.TxCount)
		assert.False(t, b.IsMalicious)
		assert.Nil(t, b.HashPerTarget)
		assert.Len(t, b.Hash, 16)
		assert.Equal(t, 1, rng.Draws())
	})

	t.Run("byzantine malicious", func(t *testing.T) {
		rng := simtesting.NewScriptedRandom(0.0, 0.1)
		proposer := consensus.Node{ID: 2, IsByzantine: true, ByzantineType: consensus.ByzantineFaulty}
		b := factory.CreateBlock(proposer, 2, 2, at, rng)
		assert.True(t, b.IsMalicious)
		assert.Equal(t, 11, b.TxCount)
		assert.Equal(t, consensus.ByzantineFaulty, b.ByzantineType)
	})

	t.Run("byzantine valid", func(t *testing.T) {
		proposer := consensus.Node{ID: 2, IsByzantine: true, ByzantineType: consensus.ByzantineSilent}
		b := factory.CreateBlock(proposer, 2, 2, at, simtesting.NewScriptedRandom(0.0, 0.7))
		assert.False(t, b.IsMalicious)
		assert.Equal(t, 1, b.TxCount)
	})

	t.Run("equivocator", func(t *testing.T) {
		rng := simtesting.Constant(0.5)
		proposer := consensus.Node{ID: 3, IsByzantine: true, ByzantineType: consensus.ByzantineEquivocator}
		b := factory.CreateBlock(proposer, 4, 4, at, rng)
		require.NotNil(t, b.HashPerTarget)
		assert.NotEqual(t, b.HashPerTarget.VariantA, b.HashPerTarget.VariantB)
		assert.Equal(t, b.HashPerTarget.VariantA, b.Hash)
		assert.ElementsMatch(t, []string{b.HashPerTarget.VariantA, b.HashPerTarget.VariantB}, b.Hashes())
		assert.Equal(t, 1, rng.Draws())

		ev := NewEvidencePool().RecordBlock(b)
		assert.True(t, ev.Equivocates)
		assert.Len(t, ev.Hashes, 2)
	})

	t.Run("pool caps transactions", func(t *testing.T) {
		capped := BlockFactory{BlockSize: 50, PoolSize: 4}
		b := capped.CreateBlock(consensus.Node{ID: 1}, 1, 1, at, simtesting.Constant(0.99))
		assert.Equal(t, 4, b.TxCount)

		uncapped := BlockFactory{BlockSize: 50}
		b = uncapped.CreateBlock(consensus.Node{ID: 1}, 1, 1, at, simtesting.Constant(0.99))
		assert.Equal(t, 50, b.TxCount)
	})

	t.Run("reproducible", func(t *testing.T) {
		a := factory.CreateBlock(consensus.Node{ID: 1}, 1, 1, at, simtesting.Constant(0.5))
		b := factory.CreateBlock(consensus.Node{ID: 1}, 1, 1, at, simtesting.Constant(0.5))
		c := factory.CreateBlock(consensus.Node{ID: 1}, 2, 2, at, simtesting.Constant(0.5))
		assert.Equal(t, a.Hash, b.Hash)
		assert.NotEqual(t, a.Hash, c.Hash)
	})
}
