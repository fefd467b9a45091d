package tendermint

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/detector"
	"github.com/LeJamon/tmsim/internal/core/network"
)

// State is everything the engine carries between rounds. The engine never
// mutates a State it was given: slices are replaced, not appended in place,
// so earlier snapshots stay valid.
type State struct {
	// Round counts attempted rounds; the next round executed is Round+1.
	Round       int                            `json:"round"`
	Nodes       []consensus.Node               `json:"nodes"`
	Blocks      []consensus.Block              `json:"blocks"`
	History     []*consensus.VotingRound       `json:"votingHistory"`
	QCs         []*consensus.QuorumCertificate `json:"qcHistory"`
	Evidence    *EvidencePool                  `json:"-"`
	Timeout     TimeoutController              `json:"timeout"`
	Partition   Partition                      `json:"partition"`
	Synchronous bool                           `json:"synchronous"`
	Stats       network.Stats                  `json:"networkStats"`
	Liveness    bool                           `json:"liveness"`
	Safety      bool                           `json:"safety"`
	Violations  []detector.Violation           `json:"violations"`
}

// NewState creates the state of a fresh session.
func NewState(nodes []consensus.Node, timeout TimeoutController, synchronous bool) State {
	return State{
		Nodes:       consensus.CloneNodes(nodes),
		Evidence:    NewEvidencePool(),
		Timeout:     timeout,
		Synchronous: synchronous,
		Liveness:    true,
		Safety:      true,
	}
}

// Height returns the height of the last committed block, or 0.
func (s State) Height() int {
	if len(s.Blocks) == 0 {
		return 0
	}
	return s.Blocks[len(s.Blocks)-1].Height
}

// StepState is the observable state of a round between steps.
type StepState struct {
	Step        consensus.Step          `json:"step"`
	Round       int                     `json:"round"`
	Nodes       []consensus.Node        `json:"nodes"`
	Proposer    consensus.NodeID        `json:"proposer"`
	Block       *consensus.Block        `json:"block,omitempty"`
	VotingRound *consensus.VotingRound  `json:"votingRound,omitempty"`
	Highlighted []consensus.NodeID      `json:"highlighted"`
	Description string                  `json:"description"`
	Committed   bool                    `json:"committed"`
	TimedOut    bool                    `json:"timedOut"`
	Timeout     *consensus.TimeoutEvent `json:"timeout,omitempty"`
	Evidence    *Evidence               `json:"evidence,omitempty"`
	Stats       network.Stats           `json:"stats"`
	Logs        []consensus.LogEntry    `json:"logs,omitempty"`
	Result      *RoundResult            `json:"result,omitempty"`
}

func (s StepState) withLog(at time.Time, level consensus.LogLevel, msg string) StepState {
	s.Logs = append(append([]consensus.LogEntry(nil), s.Logs...), consensus.LogEntry{Time: at, Level: level, Message: msg})
	return s
}

// RoundResult is the end-of-round outcome returned by both drivers.
type RoundResult struct {
	Round        int                     `json:"round"`
	Proposer     consensus.NodeID        `json:"proposer"`
	UpdatedNodes []consensus.Node        `json:"updatedNodes"`
	NewBlock     *consensus.Block        `json:"newBlock,omitempty"`
	VotingRound  *consensus.VotingRound  `json:"votingRound,omitempty"`
	NewLiveness  bool                    `json:"newLiveness"`
	NewSafety    bool                    `json:"newSafety"`
	TimedOut     bool                    `json:"timedOut"`
	Timeout      *consensus.TimeoutEvent `json:"timeout,omitempty"`
	NewProposer  consensus.NodeID        `json:"newProposer"`
	Evidence     *Evidence               `json:"evidence,omitempty"`
	Violations   []detector.Violation    `json:"violations,omitempty"`
	Stats        network.Stats           `json:"stats"`
	Logs         []consensus.LogEntry    `json:"logs,omitempty"`

	// Duration is the simulated time the round took.
	Duration time.Duration `json:"duration"`
}

// Committed reports whether the round produced a block.
func (r RoundResult) Committed() bool {
	return r.NewBlock != nil
}

func appendBlock(blocks []consensus.Block, b consensus.Block) []consensus.Block {
	out := make([]consensus.Block, len(blocks), len(blocks)+1)
	copy(out, blocks)
	return append(out, b)
}

func appendRound(history []*consensus.VotingRound, vr *consensus.VotingRound) []*consensus.VotingRound {
	out := make([]*consensus.VotingRound, len(history), len(history)+1)
	copy(out, history)
	return append(out, vr)
}

func appendQCs(qcs []*consensus.QuorumCertificate, add ...*consensus.QuorumCertificate) []*consensus.QuorumCertificate {
	out := make([]*consensus.QuorumCertificate, len(qcs), len(qcs)+len(add))
	copy(out, qcs)
	for _, qc := range add {
		if qc != nil {
			out = append(out, qc)
		}
	}
	return out
}
