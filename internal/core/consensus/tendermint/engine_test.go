package tendermint

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/topology"
	simtesting "github.com/LeJamon/tmsim/internal/testing"
)

func testConfig() Config {
	return Config{
		VoteThreshold:  0.67,
		Latency:        100 * time.Millisecond,
		ProposalDelay:  100 * time.Millisecond,
		MessageTimeout: 5 * time.Second,
		Blocks:         BlockFactory{BlockSize: 10, MaliciousProbability: DefaultMaliciousProbability},
	}
}

func testState(nodes []consensus.Node, synchronous bool) State {
	tc := NewTimeoutController(15*time.Second, time.Second, 30*time.Second, 1.5, true, simtesting.Epoch)
	return NewState(nodes, tc, synchronous)
}

func TestAdvanceRoundHonestCommit(t *testing.T) {
	engine := NewEngine(testConfig(), simtesting.Constant(0.5))
	st := testState(InitializeNetwork(4, 0, consensus.ByzantineFaulty), true)

	next, res := engine.AdvanceRound(st, simtesting.Epoch)

	require.NotNil(t, res.VotingRound)
	assert.True(t, res.VotingRound.PrevoteThresholdMet)
	assert.True(t, res.VotingRound.PrecommitThresholdMet)
	assert.Equal(t, consensus.ResultApproved, res.VotingRound.Result)
	require.NotNil(t, res.NewBlock)
	assert.Equal(t, 1, res.NewBlock.Height)
	assert.True(t, res.NewLiveness)
	assert.True(t, res.NewSafety)
	assert.False(t, res.TimedOut)

	assert.Equal(t, consensus.NodeID(1), res.Proposer)
	assert.Equal(t, consensus.NodeID(2), res.NewProposer)
	require.NotNil(t, res.NewBlock.CommitQC)
	assert.Equal(t, 4, res.NewBlock.CommitQC.SignatureCount)
	assert.Equal(t, consensus.StagePrecommit, res.NewBlock.CommitQC.Stage)
	assert.Equal(t, 400*time.Millisecond, res.Duration)

	assert.Equal(t, 8, res.Stats.Sent)
	assert.Equal(t, 8, res.Stats.Delivered)
	for _, n := range res.UpdatedNodes {
		assert.Equal(t, consensus.NodeCommitted, n.State)
	}

	assert.Equal(t, 1, next.Round)
	assert.Len(t, next.Blocks, 1)
	assert.Len(t, next.History, 1)
	assert.Len(t, next.QCs, 2)
	assert.Equal(t, 1, next.Height())
	for _, n := range next.Nodes {
		assert.Equal(t, consensus.NodeIdle, n.State)
	}

	assert.Zero(t, st.Round, "input state must not change")
	assert.Empty(t, st.Blocks)
}

func TestAdvanceRoundQuorumAgainstRegisteredValidators(t *testing.T) {
	// nodes 3 and 4 go down; two yes votes out of four registered fall short
	rng := simtesting.NewScriptedRandom(0.9, 0.9, 0.1, 0.1, 0.5)
	cfg := testConfig()
	cfg.DowntimePercentage = 50
	engine := NewEngine(cfg, rng)
	st := testState(simtesting.Honest(4), false)

	next, res := engine.AdvanceRound(st, simtesting.Epoch)

	require.NotNil(t, res.VotingRound)
	assert.Equal(t, 2, res.VotingRound.PrevoteCount)
	assert.False(t, res.VotingRound.PrevoteThresholdMet)
	assert.False(t, res.VotingRound.PrecommitThresholdMet)
	assert.Equal(t, consensus.ResultRejected, res.VotingRound.Result)
	for _, v := range res.VotingRound.Precommits {
		assert.Equal(t, consensus.NoVote, v)
	}
	assert.Nil(t, res.NewBlock)
	assert.False(t, res.NewLiveness)
	assert.True(t, res.NewSafety)
	assert.Equal(t, 5, rng.Draws())

	assert.Equal(t, consensus.NodeTimeout, res.UpdatedNodes[0].State)
	assert.Equal(t, consensus.NodeOffline, res.UpdatedNodes[2].State)
	assert.Equal(t, 4, res.Stats.Sent)
	assert.Equal(t, 2, res.Stats.Lost)
	assert.Equal(t, 5100*time.Millisecond, res.Duration)
	assert.Len(t, next.History, 1)
	assert.Empty(t, next.Blocks)
}

func TestAdvanceRoundGraphDenominator(t *testing.T) {
	cfg := testConfig()
	cfg.Graph = topology.NewGraph(4, []topology.Edge{{Source: 1, Target: 2, Bidirectional: true}})
	engine := NewEngine(cfg, simtesting.Constant(0.5))

	_, res := engine.AdvanceRound(testState(simtesting.Honest(4), true), simtesting.Epoch)

	require.NotNil(t, res.NewBlock)
	assert.Equal(t, 2, res.VotingRound.PrevoteCount)
	assert.Equal(t, 4, res.NewBlock.CommitQC.TotalValidators)
	assert.Equal(t, consensus.NoVote, res.VotingRound.Prevotes[3])
}

func TestAdvanceRoundTimeout(t *testing.T) {
	engine := NewEngine(testConfig(), simtesting.Constant(0.5))
	st := testState(simtesting.Honest(4), false)
	now := simtesting.Epoch.Add(20 * time.Second)

	next, res := engine.AdvanceRound(st, now)

	assert.True(t, res.TimedOut)
	assert.Nil(t, res.NewBlock)
	assert.Nil(t, res.VotingRound)
	assert.False(t, res.NewLiveness)
	assert.True(t, res.NewSafety)
	assert.Equal(t, consensus.NodeID(2), res.NewProposer)
	require.NotNil(t, res.Timeout)
	assert.Equal(t, 15*time.Second, res.Timeout.Duration)
	assert.Equal(t, 1, res.Timeout.EscalationLevel)
	assert.Equal(t, consensus.NodeTimeout, res.UpdatedNodes[0].State)

	assert.Equal(t, 1, next.Round)
	assert.Equal(t, 22500*time.Millisecond, next.Timeout.Current)
	assert.Equal(t, now, next.Timeout.RoundStart)
	assert.Empty(t, next.History)

	// the restarted clock lets the next round through, and a commit resets escalation
	next, res = engine.AdvanceRound(next, now.Add(time.Second))
	assert.False(t, res.TimedOut)
	require.NotNil(t, res.NewBlock)
	assert.Equal(t, 2, res.NewBlock.Height)
	assert.Equal(t, 15*time.Second, next.Timeout.Current)
	assert.Zero(t, next.Timeout.Consecutive)
}

func TestAdvanceRoundRejectionRestartsRoundClock(t *testing.T) {
	// half the validators are cut off, so every round is rejected at 5.1s
	engine := NewEngine(testConfig(), simtesting.Constant(0.5))
	st := testState(simtesting.Honest(4), false)
	st.Partition = Partition{Active: true, Type: PartitionSplit, Nodes: []consensus.NodeID{1, 2}}

	now := simtesting.Epoch
	for round := 1; round <= 6; round++ {
		var res RoundResult
		st, res = engine.AdvanceRound(st, now)

		require.False(t, res.TimedOut, "round %d", round)
		require.NotNil(t, res.VotingRound, "round %d", round)
		assert.Equal(t, consensus.ResultRejected, res.VotingRound.Result, "round %d", round)
		assert.Equal(t, 5100*time.Millisecond, res.Duration, "round %d", round)
		assert.Equal(t, now, st.Timeout.RoundStart, "round %d", round)
		assert.Equal(t, 15*time.Second, st.Timeout.Current, "round %d", round)

		now = now.Add(res.Duration)
	}
	assert.Zero(t, st.Timeout.Total)
	assert.Empty(t, st.Blocks)
	assert.Len(t, st.History, 6)
}

func TestAdvanceRoundResponseVariance(t *testing.T) {
	cfg := testConfig()
	cfg.ResponseVariance = 100 * time.Millisecond

	t.Run("commit", func(t *testing.T) {
		rng := simtesting.Constant(0.5)
		engine := NewEngine(cfg, rng)
		_, res := engine.AdvanceRound(testState(simtesting.Honest(4), true), simtesting.Epoch)
		require.NotNil(t, res.NewBlock)
		assert.Equal(t, 450*time.Millisecond, res.Duration)

		plain := simtesting.Constant(0.5)
		_, base := NewEngine(testConfig(), plain).AdvanceRound(testState(simtesting.Honest(4), true), simtesting.Epoch)
		assert.Equal(t, 400*time.Millisecond, base.Duration)
		assert.Equal(t, plain.Draws()+1, rng.Draws(), "variance is one extra draw")
	})

	t.Run("drawn last", func(t *testing.T) {
		// availability 0.9 x4, block 0.5, commit loss 0.5, then variance 0.2
		cfg := cfg
		cfg.DowntimePercentage = 50
		cfg.PacketLoss = 10
		script := []float64{0.9, 0.9, 0.9, 0.9, 0.5, 0.5, 0.2}
		rng := simtesting.NewScriptedRandom(script...)
		_, res := NewEngine(cfg, rng).AdvanceRound(testState(simtesting.Honest(4), false), simtesting.Epoch)
		require.NotNil(t, res.NewBlock)
		assert.Equal(t, len(script), rng.Draws())
		assert.Equal(t, 420*time.Millisecond, res.Duration)
	})

	t.Run("timed out rounds take no draw", func(t *testing.T) {
		rng := simtesting.Constant(0.5)
		_, res := NewEngine(cfg, rng).AdvanceRound(testState(simtesting.Honest(4), false), simtesting.Epoch.Add(20*time.Second))
		require.True(t, res.TimedOut)
		assert.Equal(t, 100*time.Millisecond, res.Duration)
		assert.Zero(t, rng.Draws())
	})
}

func TestAdvanceRoundSynchronousNeverTimesOut(t *testing.T) {
	engine := NewEngine(testConfig(), simtesting.Constant(0.5))
	_, res := engine.AdvanceRound(testState(simtesting.Honest(4), true), simtesting.Epoch.Add(time.Hour))
	assert.False(t, res.TimedOut)
	assert.NotNil(t, res.NewBlock)
}

func TestAdvanceRoundEquivocatingProposer(t *testing.T) {
	engine := NewEngine(testConfig(), simtesting.Constant(0.5))
	nodes := InitializeNetwork(4, 1, consensus.ByzantineEquivocator)
	st := testState(nodes, true)
	st.Partition = Partition{Active: true, Type: PartitionSplit, Nodes: []consensus.NodeID{2, 3, 4}}

	next, res := engine.AdvanceRound(st, simtesting.Epoch)

	assert.Equal(t, consensus.NodeID(1), res.Proposer)
	require.NotNil(t, res.Evidence)
	assert.True(t, res.Evidence.Equivocates)
	assert.Len(t, res.Evidence.Hashes, 2)
	assert.Len(t, next.Evidence.Equivocations(), 1)
	assert.Zero(t, st.Evidence.Len(), "input pool must not change")
	assert.Nil(t, res.NewBlock, "one of four validators cannot commit")

	var levels []consensus.LogLevel
	for _, l := range res.Logs {
		levels = append(levels, l.Level)
	}
	assert.Contains(t, levels, consensus.LogError)
}

func TestAdvanceRoundByzantineExceedsFaultTolerance(t *testing.T) {
	engine := NewEngine(testConfig(), simtesting.Constant(0.9))
	st := testState(InitializeNetwork(4, 2, consensus.ByzantineFaulty), true)

	_, res := engine.AdvanceRound(st, simtesting.Epoch)
	require.NotNil(t, res.NewBlock)
	assert.True(t, res.NewLiveness)
	assert.False(t, res.NewSafety)
}

func TestVoteMapsCoverEveryNode(t *testing.T) {
	cfg := testConfig()
	cfg.DowntimePercentage = 30
	cfg.PacketLoss = 10
	engine := NewEngine(cfg, rand.New(rand.NewSource(11)))
	st := testState(InitializeNetwork(7, 2, consensus.ByzantineSilent), false)

	now := simtesting.Epoch
	for i := 0; i < 30; i++ {
		var res RoundResult
		st, res = engine.AdvanceRound(st, now)
		now = now.Add(res.Duration)
	}

	require.NotEmpty(t, st.History)
	for _, vr := range st.History {
		assert.Len(t, vr.Prevotes, 7)
		assert.Len(t, vr.Precommits, 7)
		for id := consensus.NodeID(1); id <= 7; id++ {
			assert.Contains(t, vr.Prevotes, id)
			assert.Contains(t, vr.Precommits, id)
		}
		yes := 0
		for _, v := range vr.Prevotes {
			if v == consensus.VoteYes {
				yes++
			}
		}
		assert.Equal(t, yes, vr.PrevoteCount)
	}

	last := 0
	for _, b := range st.Blocks {
		assert.Greater(t, b.Height, last)
		last = b.Height
	}
}

func TestStepwiseMatchesContinuous(t *testing.T) {
	cfg := testConfig()
	cfg.DowntimePercentage = 20
	cfg.PacketLoss = 10
	cfg.ResponseVariance = 250 * time.Millisecond
	nodes := InitializeNetwork(7, 2, consensus.ByzantineFaulty)

	continuous := NewEngine(cfg, rand.New(rand.NewSource(42)))
	stepwise := NewEngine(cfg, rand.New(rand.NewSource(42)))

	st := testState(nodes, false)
	stepper := NewStepper(stepwise, testState(nodes, false), DefaultStepHistoryLimit)

	now := simtesting.Epoch
	for round := 0; round < 12; round++ {
		var want RoundResult
		st, want = continuous.AdvanceRound(st, now)

		var got StepState
		for i := 0; i < consensus.NumSteps; i++ {
			got = stepper.Next(now)
		}
		require.Equal(t, consensus.StepRoundComplete, got.Step)
		require.NotNil(t, got.Result)
		assert.Equal(t, want, *got.Result, "round %d", round+1)
		assert.Equal(t, st, stepper.State(), "round %d", round+1)

		now = now.Add(want.Duration + 2*time.Second)
	}
}
