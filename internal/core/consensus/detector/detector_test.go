package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

func committedRound(number, height int, hash string) *consensus.VotingRound {
	return &consensus.VotingRound{
		RoundNumber:           number,
		RoundHeight:           height,
		BlockHash:             hash,
		PrecommitThresholdMet: true,
		Result:                consensus.ResultApproved,
	}
}

func TestConsistencyInjectedFork(t *testing.T) {
	blocks := []consensus.Block{
		{Height: 4, Hash: "d4", Proposer: 1},
		{Height: 5, Hash: "aaa", Proposer: 2},
		{Height: 5, Hash: "bbb", Proposer: 3},
	}

	report := DetectConsistencyViolations(blocks, nil)

	assert.False(t, report.Safe)
	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, 5, v.Height)
	assert.Equal(t, []string{"aaa", "bbb"}, v.Hashes)
	assert.Equal(t, SourceBlocks, v.Source)
	assert.Len(t, v.Refs, 2)
}

func TestConsistencyCleanChain(t *testing.T) {
	blocks := []consensus.Block{{Height: 1, Hash: "a"}, {Height: 2, Hash: "b"}, {Height: 2, Hash: "b"}}
	history := []*consensus.VotingRound{committedRound(1, 1, "a"), committedRound(2, 2, "b")}

	report := DetectConsistencyViolations(blocks, history)
	assert.True(t, report.Safe)
	assert.Empty(t, report.Violations)
}

func TestConsistencyHistoryScan(t *testing.T) {
	rejected := committedRound(3, 3, "zzz")
	rejected.Result = consensus.ResultRejected
	history := []*consensus.VotingRound{
		committedRound(3, 3, "xxx"),
		committedRound(4, 3, "yyy"),
		rejected,
		nil,
	}

	violations := ConflictingHistory(history)
	require.Len(t, violations, 1)
	assert.Equal(t, []string{"xxx", "yyy"}, violations[0].Hashes)
	assert.Equal(t, SourceVotingHistory, violations[0].Source)
}

func TestConsistencyMergesSources(t *testing.T) {
	blocks := []consensus.Block{{Height: 2, Hash: "a"}, {Height: 2, Hash: "b"}}
	history := []*consensus.VotingRound{committedRound(2, 2, "b"), committedRound(3, 2, "a")}

	report := DetectConsistencyViolations(blocks, history)
	require.Len(t, report.Violations, 2)
	assert.Equal(t, SourceBlocks, report.Violations[0].Source)
	assert.Equal(t, SourceVotingHistory, report.Violations[1].Source)
}

func TestConsistencyMissingHash(t *testing.T) {
	blocks := []consensus.Block{{Height: 7, Hash: "a"}, {Height: 7}, {Height: 0, Hash: "ignored"}}

	violations := ConflictingBlocks(blocks)
	require.Len(t, violations, 1)
	assert.Equal(t, []string{"a", "7-1"}, violations[0].Hashes)
}

func TestSafetyByzantineThreshold(t *testing.T) {
	report := Safety(9, 4, ConsistencyReport{Safe: true})
	assert.False(t, report.Safe)
	assert.True(t, report.ByzantineExceeds)
	assert.False(t, report.ConflictingCommit)
	assert.NotEmpty(t, report.Reasons)

	assert.True(t, Safety(9, 3, ConsistencyReport{Safe: true}).Safe)

	fork := DetectConsistencyViolations([]consensus.Block{{Height: 1, Hash: "a"}, {Height: 1, Hash: "b"}}, nil)
	report = Safety(4, 0, fork)
	assert.False(t, report.Safe)
	assert.True(t, report.ConflictingCommit)
}

func TestMaxByzantine(t *testing.T) {
	assert.Equal(t, 1, MaxByzantine(4))
	assert.Equal(t, 1, MaxByzantine(5))
	assert.Equal(t, 3, MaxByzantine(9))
	assert.Equal(t, 3, MaxByzantine(10))
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		name    string
		in      LivenessInput
		status  LivenessStatus
		flagged func(LivenessReport) bool
	}{
		{
			name:   "healthy",
			in:     LivenessInput{Liveness: true, Rounds: 10, CommittedBlocks: 9, NodeCount: 4},
			status: LivenessMaintained,
		},
		{
			name:    "high timeout rate",
			in:      LivenessInput{Liveness: true, Rounds: 10, Timeouts: 5, CommittedBlocks: 5, NodeCount: 4},
			status:  LivenessDegraded,
			flagged: func(r LivenessReport) bool { return r.HighTimeoutRate },
		},
		{
			name:    "consecutive timeouts alone keep liveness",
			in:      LivenessInput{Liveness: true, Rounds: 20, Timeouts: 4, ConsecutiveTimeouts: 4, CommittedBlocks: 16, NodeCount: 4},
			status:  LivenessMaintained,
			flagged: func(r LivenessReport) bool { return r.Consecutive },
		},
		{
			name:    "consecutive timeouts without progress signal",
			in:      LivenessInput{Liveness: false, Rounds: 20, Timeouts: 4, ConsecutiveTimeouts: 4, CommittedBlocks: 16, NodeCount: 4},
			status:  LivenessDegraded,
			flagged: func(r LivenessReport) bool { return r.Consecutive },
		},
		{
			name:    "significant partition",
			in:      LivenessInput{Liveness: true, Rounds: 4, CommittedBlocks: 4, PartitionActive: true, PartitionedNodes: 3, NodeCount: 6},
			status:  LivenessDegraded,
			flagged: func(r LivenessReport) bool { return r.Partitioned },
		},
		{
			name:   "inactive partition ignored",
			in:     LivenessInput{Liveness: true, Rounds: 4, CommittedBlocks: 4, PartitionedNodes: 3, NodeCount: 6},
			status: LivenessMaintained,
		},
		{
			name:    "no progress",
			in:      LivenessInput{Liveness: true, Rounds: 10, CommittedBlocks: 1, NodeCount: 4},
			status:  LivenessDegraded,
			flagged: func(r LivenessReport) bool { return r.NoProgress },
		},
		{
			name:    "byzantine exceeds",
			in:      LivenessInput{Liveness: true, Rounds: 2, CommittedBlocks: 2, ByzantineCount: 2, NodeCount: 4},
			status:  LivenessDegraded,
			flagged: func(r LivenessReport) bool { return r.ByzantineExceed },
		},
		{
			name:   "stalled without flags",
			in:     LivenessInput{Liveness: false, Rounds: 3, CommittedBlocks: 2, NodeCount: 4},
			status: LivenessViolated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Liveness(tt.in)
			assert.Equal(t, tt.status, r.Status)
			if tt.flagged != nil {
				assert.True(t, tt.flagged(r))
				assert.NotEmpty(t, r.Reasons)
			}
		})
	}
}
