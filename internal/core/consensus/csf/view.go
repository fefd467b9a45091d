package csf

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/detector"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
)

// View is a read-only snapshot of a session for display.
type View struct {
	Name          string                       `json:"name"`
	Seed          int64                        `json:"seed"`
	Now           time.Duration                `json:"simTime"`
	Running       bool                         `json:"running"`
	StepMode      bool                         `json:"stepMode"`
	Synchronous   bool                         `json:"synchronous"`
	Round         int                          `json:"round"`
	Height        int                          `json:"height"`
	NextProposer  consensus.NodeID             `json:"nextProposer"`
	Nodes         []consensus.Node             `json:"nodes"`
	Blocks        []consensus.Block            `json:"blocks"`
	VotingHistory []*consensus.VotingRound     `json:"votingHistory"`
	QCCount       int                          `json:"qcCount"`
	Partition     tendermint.Partition         `json:"partition"`
	Timeout       tendermint.TimeoutController `json:"timeout"`
	Network       network.Stats                `json:"networkStats"`
	Liveness      detector.LivenessReport      `json:"liveness"`
	Safety        detector.SafetyReport        `json:"safety"`
	Equivocations []tendermint.Evidence        `json:"equivocations,omitempty"`
	Step          *tendermint.StepState        `json:"step,omitempty"`
	Summary       RoundSummary                 `json:"summary"`
}

// View returns a snapshot of the session. history bounds how many of the
// most recent voting rounds are included; 0 includes all.
func (s *Sim) View(history int) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	rounds := st.History
	if history > 0 && len(rounds) > history {
		rounds = rounds[len(rounds)-history:]
	}
	next, _ := s.engine.Proposer(st.Nodes, st.Round)
	byz := tendermint.ByzantineCount(st.Nodes)

	v := View{
		Name:          s.cfg.Name,
		Seed:          s.seed,
		Now:           time.Duration(s.Scheduler.Now()),
		Running:       s.running,
		StepMode:      s.stepper != nil,
		Synchronous:   st.Synchronous,
		Round:         st.Round,
		Height:        st.Height(),
		NextProposer:  next.ID,
		Nodes:         consensus.CloneNodes(st.Nodes),
		Blocks:        append([]consensus.Block(nil), st.Blocks...),
		VotingHistory: append([]*consensus.VotingRound(nil), rounds...),
		QCCount:       len(st.QCs),
		Partition:     st.Partition,
		Timeout:       st.Timeout,
		Network:       st.Stats,
		Liveness: detector.Liveness(detector.LivenessInput{
			Liveness:            st.Liveness,
			Rounds:              st.Round,
			Timeouts:            st.Timeout.Total,
			ConsecutiveTimeouts: st.Timeout.Consecutive,
			PartitionActive:     st.Partition.Active,
			PartitionedNodes:    st.Partition.Size(),
			NodeCount:           len(st.Nodes),
			ByzantineCount:      byz,
			CommittedBlocks:     len(st.Blocks),
		}),
		Safety: detector.Safety(len(st.Nodes), byz, detector.ConsistencyReport{
			Safe:       len(st.Violations) == 0,
			Violations: st.Violations,
		}),
		Equivocations: st.Evidence.Equivocations(),
		Summary:       s.Counter.Summary(),
	}
	if s.stepper != nil {
		rs := s.stepper.Current().Step
		v.Step = &rs
	}
	return v
}
