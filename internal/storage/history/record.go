package history

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/detector"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
)

// Outcome labels.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
)

// Record is the archived form of one finished round. Node snapshots and
// log lines are not kept.
type Record struct {
	Round        int                     `codec:"round" json:"round"`
	Proposer     consensus.NodeID        `codec:"proposer" json:"proposer"`
	Outcome      string                  `codec:"outcome" json:"outcome"`
	Block        *consensus.Block        `codec:"block,omitempty" json:"block,omitempty"`
	VotingRound  *consensus.VotingRound  `codec:"votingRound,omitempty" json:"votingRound,omitempty"`
	Timeout      *consensus.TimeoutEvent `codec:"timeout,omitempty" json:"timeout,omitempty"`
	Equivocation []string                `codec:"equivocation,omitempty" json:"equivocation,omitempty"`
	Violations   []detector.Violation    `codec:"violations,omitempty" json:"violations,omitempty"`
	Safety       bool                    `codec:"safety" json:"safety"`
	Liveness     bool                    `codec:"liveness" json:"liveness"`
	NextProposer consensus.NodeID        `codec:"nextProposer" json:"nextProposer"`
	Stats        network.Stats           `codec:"stats" json:"stats"`
	Duration     time.Duration           `codec:"duration" json:"duration"`
}

// NewRecord converts a round result into its archived form.
func NewRecord(r tendermint.RoundResult) Record {
	rec := Record{
		Round:        r.Round,
		Proposer:     r.Proposer,
		Outcome:      outcomeOf(r),
		Block:        r.NewBlock,
		VotingRound:  r.VotingRound,
		Timeout:      r.Timeout,
		Violations:   r.Violations,
		Safety:       r.NewSafety,
		Liveness:     r.NewLiveness,
		NextProposer: r.NewProposer,
		Stats:        r.Stats,
		Duration:     r.Duration,
	}
	if r.Evidence != nil && r.Evidence.Equivocates {
		rec.Equivocation = append([]string(nil), r.Evidence.Hashes...)
	}
	return rec
}

// Height returns the block height voted on, or 0 for a timed out round.
func (r Record) Height() int {
	if r.VotingRound == nil {
		return 0
	}
	return r.VotingRound.RoundHeight
}

func outcomeOf(r tendermint.RoundResult) string {
	switch {
	case r.TimedOut:
		return OutcomeTimeout
	case r.Committed():
		return OutcomeCommitted
	default:
		return OutcomeRejected
	}
}
