package tendermint

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// NewVotingRound opens a round with every node registered as a non-voter in
// both phases.
func NewVotingRound(number, height int, proposer consensus.NodeID, blockHash string, nodes []consensus.Node, at time.Time) *consensus.VotingRound {
	vr := &consensus.VotingRound{
		RoundNumber: number,
		RoundHeight: height,
		ProposerID:  proposer,
		BlockHash:   blockHash,
		Prevotes:    make(map[consensus.NodeID]consensus.Vote, len(nodes)),
		Precommits:  make(map[consensus.NodeID]consensus.Vote, len(nodes)),
		Result:      consensus.ResultPending,
		Timestamp:   at,
	}
	for _, n := range nodes {
		vr.Prevotes[n.ID] = consensus.NoVote
		vr.Precommits[n.ID] = consensus.NoVote
	}
	return vr
}

// ApplyVotes merges ballots into a copy of vr for the given stage, recomputes
// the yes count and threshold flag, and generates the stage certificate the
// first time the threshold is met. Ballots from nodes that were not
// registered when the round opened are ignored.
func ApplyVotes(vr *consensus.VotingRound, stage consensus.Stage, ballots []Ballot, denominator int, threshold float64, at time.Time) *consensus.VotingRound {
	out := vr.Clone()
	votes := out.Votes(stage)
	for _, b := range ballots {
		if _, ok := votes[b.NodeID]; ok {
			votes[b.NodeID] = b.Vote
		}
	}

	yes := 0
	for _, v := range votes {
		if v == consensus.VoteYes {
			yes++
		}
	}
	met := MeetsThreshold(yes, denominator, threshold)

	switch stage {
	case consensus.StagePrevote:
		out.PrevoteCount = yes
		out.PrevoteThresholdMet = met
		if met && out.PrevoteQC == nil {
			out.PrevoteQC = GenerateQC(out, stage, threshold, at)
		}
	case consensus.StagePrecommit:
		out.PrecommitCount = yes
		out.PrecommitThresholdMet = met
		if met && out.PrecommitQC == nil {
			out.PrecommitQC = GenerateQC(out, stage, threshold, at)
		}
	}
	return out
}

// FinalizeRound returns a copy of vr with its result set.
func FinalizeRound(vr *consensus.VotingRound, approved bool) *consensus.VotingRound {
	out := vr.Clone()
	if approved {
		out.Result = consensus.ResultApproved
	} else {
		out.Result = consensus.ResultRejected
	}
	return out
}
