package tendermint

import (
	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// Vote probabilities of Byzantine behaviors: a faulty or escalated node votes
// yes when its draw exceeds FaultyYesCutoff, an equivocator when it exceeds
// EquivocatorYesCutoff.
const (
	FaultyYesCutoff      = 0.5
	EquivocatorYesCutoff = 0.3
)

// Ballot is one validator's vote in a phase.
type Ballot struct {
	NodeID consensus.NodeID `json:"nodeId"`
	Vote   consensus.Vote   `json:"vote"`
}

// Tally is the outcome of one voting phase.
type Tally struct {
	Ballots     []Ballot `json:"ballots"`
	Yes         int      `json:"yes"`
	Denominator int      `json:"denominator"`
	Approved    bool     `json:"approved"`
}

// MeetsThreshold reports whether yes out of denominator reaches the fraction.
func MeetsThreshold(yes, denominator int, threshold float64) bool {
	return denominator > 0 && float64(yes)/float64(denominator) >= threshold
}

// CastVote decides how node votes on block. Only Byzantine behaviors draw
// from rng; honest nodes reject malicious content and approve everything else.
func CastVote(node consensus.Node, block consensus.Block, rng consensus.Random) consensus.Vote {
	if !node.CanVote() {
		return consensus.NoVote
	}
	if !node.IsByzantine {
		return consensus.VoteOf(!block.IsMalicious)
	}
	switch node.ByzantineType {
	case consensus.ByzantineSilent:
		return consensus.NoVote
	case consensus.ByzantineEquivocator:
		return consensus.VoteOf(rng.Float64() > EquivocatorYesCutoff)
	default:
		return consensus.VoteOf(rng.Float64() > FaultyYesCutoff)
	}
}

// VoteOnBlock collects a vote from every votable node, in list order, and
// evaluates the threshold against denominator. Offline nodes abstain.
func VoteOnBlock(votable []consensus.Node, block consensus.Block, denominator int, threshold float64, rng consensus.Random) Tally {
	t := Tally{Ballots: make([]Ballot, 0, len(votable)), Denominator: denominator}
	for _, n := range votable {
		v := CastVote(n, block, rng)
		if v == consensus.VoteYes {
			t.Yes++
		}
		t.Ballots = append(t.Ballots, Ballot{NodeID: n.ID, Vote: v})
	}
	t.Approved = MeetsThreshold(t.Yes, denominator, threshold)
	return t
}
