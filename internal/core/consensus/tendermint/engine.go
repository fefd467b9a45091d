package tendermint

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/detector"
	"github.com/LeJamon/tmsim/internal/core/network"
	"github.com/LeJamon/tmsim/internal/core/topology"
)

// Config holds the engine parameters. Zero values are not defaulted; the
// caller passes a validated configuration.
type Config struct {
	VoteThreshold      float64
	PacketLoss         float64
	DowntimePercentage float64
	Latency            time.Duration
	ProposalDelay      time.Duration
	MessageTimeout     time.Duration
	Blocks             BlockFactory

	// ResponseVariance adds up to this much jitter to a round that reached
	// the voting steps.
	ResponseVariance time.Duration

	// Graph switches voting from broadcast to graph routing when non-nil.
	Graph *topology.Graph

	Logger *zap.Logger
}

// Engine executes rounds. It holds no round state of its own; every call
// takes a State and returns the next one.
type Engine struct {
	cfg       Config
	rng       consensus.Random
	proposers ProposerSelector
	log       *zap.Logger
}

// NewEngine creates an engine drawing from rng.
func NewEngine(cfg Config, rng consensus.Random) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		rng:       rng,
		proposers: ProposerSelector{Graph: cfg.Graph, QuorumFraction: cfg.VoteThreshold},
		log:       log.Named("engine"),
	}
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// Proposer returns the proposer of the 0-based round over nodes.
func (e *Engine) Proposer(nodes []consensus.Node, round int) (consensus.Node, bool) {
	return e.proposers.Select(nodes, round)
}

// AdvanceRound runs one complete round as a single transition.
func (e *Engine) AdvanceRound(st State, now time.Time) (State, RoundResult) {
	var rs StepState
	for step := consensus.StepRoundStart; ; step++ {
		st, rs = e.ExecuteStep(step, st, rs, now)
		if step.IsLast() {
			break
		}
	}
	return st, *rs.Result
}

// ExecuteStep runs one step of the round machine. prev is the step state
// returned by the previous step of the same round and is ignored for
// StepRoundStart. Random draws happen in the order availability, block,
// prevotes, precommits, commit loss, response variance, whichever driver
// calls this.
func (e *Engine) ExecuteStep(step consensus.Step, st State, prev StepState, now time.Time) (State, StepState) {
	switch step {
	case consensus.StepRoundStart:
		return e.roundStart(st, now)
	case consensus.StepBlockProposal:
		return e.blockProposal(st, prev, now)
	case consensus.StepPrevote:
		return e.vote(consensus.StagePrevote, st, prev, now)
	case consensus.StepPrevoteTally:
		return st, e.tally(consensus.StagePrevote, prev)
	case consensus.StepPrecommit:
		return e.vote(consensus.StagePrecommit, st, prev, now)
	case consensus.StepPrecommitTally:
		return st, e.tally(consensus.StagePrecommit, prev)
	case consensus.StepCommit:
		return e.commit(st, prev, now)
	default:
		return e.roundComplete(st, prev, now)
	}
}

func (e *Engine) roundStart(st State, now time.Time) (State, StepState) {
	round := st.Round + 1
	st.Nodes = UpdateAvailability(st.Nodes, e.cfg.DowntimePercentage, st.Synchronous, st.Partition, e.rng)
	proposer, _ := e.proposers.Select(st.Nodes, st.Round)

	rs := StepState{
		Step:        consensus.StepRoundStart,
		Round:       round,
		Nodes:       consensus.CloneNodes(st.Nodes),
		Proposer:    proposer.ID,
		Highlighted: []consensus.NodeID{proposer.ID},
	}

	if st.Timeout.Expired(now, st.Synchronous) {
		var ev consensus.TimeoutEvent
		st.Timeout, ev = st.Timeout.OnTimeout(round, proposer.ID, now)
		rs.TimedOut = true
		rs.Timeout = &ev
		rs.Nodes = setStates(rs.Nodes, consensus.NodeTimeout, onlineSet(rs.Nodes))
		rs.Description = fmt.Sprintf("Round %d timed out after %s; next timeout %s", round, ev.Duration, st.Timeout.Current)
		rs = rs.withLog(now, consensus.LogWarning, fmt.Sprintf("Round %d timeout (level %d), reproposing", round, ev.EscalationLevel))
		e.log.Warn("round timed out",
			zap.Int("round", round),
			zap.Int("proposer", int(proposer.ID)),
			zap.Duration("duration", ev.Duration),
			zap.Int("consecutive", st.Timeout.Consecutive),
			zap.Duration("next", st.Timeout.Current),
		)
		return st, rs
	}

	rs.Description = fmt.Sprintf("Round %d starts; node %d is the proposer (%d of %d online)", round, proposer.ID, OnlineCount(st.Nodes), len(st.Nodes))
	e.log.Debug("round started", zap.Int("round", round), zap.Int("proposer", int(proposer.ID)))
	return st, rs
}

func (e *Engine) blockProposal(st State, rs StepState, now time.Time) (State, StepState) {
	rs.Step = consensus.StepBlockProposal
	if rs.TimedOut {
		rs.Description = "No proposal: the round timed out"
		return st, rs
	}

	proposer := findNode(st.Nodes, rs.Proposer)
	block := e.cfg.Blocks.CreateBlock(proposer, rs.Round, rs.Round, now, e.rng)
	rs.Block = &block

	st.Evidence = st.Evidence.Clone()
	ev := st.Evidence.RecordBlock(block)
	if ev.Equivocates {
		rs.Evidence = &ev
		st.Nodes = EscalateByzantine(st.Nodes, proposer.ID)
		rs = rs.withLog(now, consensus.LogError, fmt.Sprintf("Equivocation: node %d proposed %d hashes at height %d", proposer.ID, len(ev.Hashes), block.Height))
		e.log.Error("equivocation detected",
			zap.Int("height", block.Height),
			zap.Int("round", block.Round),
			zap.Int("proposer", int(proposer.ID)),
			zap.Strings("hashes", ev.Hashes),
		)
	}
	if block.IsMalicious {
		rs = rs.withLog(now, consensus.LogWarning, fmt.Sprintf("Node %d proposed malicious block at height %d", proposer.ID, block.Height))
		e.log.Warn("malicious proposal", zap.Int("height", block.Height), zap.Int("proposer", int(proposer.ID)))
	}

	rs.VotingRound = NewVotingRound(rs.Round, block.Height, proposer.ID, block.Hash, st.Nodes, now)
	rs.Nodes = setStates(st.Nodes, consensus.NodeProposing, map[consensus.NodeID]bool{proposer.ID: true})
	rs.Highlighted = []consensus.NodeID{proposer.ID}
	rs.Description = fmt.Sprintf("Node %d proposes block %d with %d transactions (%s)", proposer.ID, block.Height, block.TxCount, block.Hash)
	rs = rs.withLog(now, consensus.LogInfo, fmt.Sprintf("Node %d proposed block %d", proposer.ID, block.Height))
	return st, rs
}

// voters returns the nodes that receive the proposal and the threshold
// denominator: every registered validator under broadcast, the proposer's
// reachable set under graph routing.
func (e *Engine) voters(nodes []consensus.Node, proposer consensus.NodeID) ([]consensus.Node, int) {
	var reach map[consensus.NodeID]bool
	denominator := len(nodes)
	if e.cfg.Graph != nil {
		reach = e.cfg.Graph.ReachableSet(proposer)
		denominator = len(reach)
	}
	var votable []consensus.Node
	for _, n := range nodes {
		if n.CanVote() && (reach == nil || reach[n.ID]) {
			votable = append(votable, n)
		}
	}
	return votable, denominator
}

func (e *Engine) vote(stage consensus.Stage, st State, rs StepState, now time.Time) (State, StepState) {
	rs.Step = consensus.StepPrevote
	state := consensus.NodePrevoting
	if stage == consensus.StagePrecommit {
		rs.Step = consensus.StepPrecommit
		state = consensus.NodePrecommitting
	}
	if rs.TimedOut || rs.VotingRound == nil {
		rs.Description = fmt.Sprintf("No %s: the round timed out", stage)
		return st, rs
	}
	if stage == consensus.StagePrecommit && !rs.VotingRound.PrevoteThresholdMet {
		rs.Highlighted = nil
		rs.Description = "Precommit skipped: prevotes did not reach the threshold"
		return st, rs
	}

	votable, denominator := e.voters(st.Nodes, rs.Proposer)
	tally := VoteOnBlock(votable, *rs.Block, denominator, e.cfg.VoteThreshold, e.rng)
	rs.VotingRound = ApplyVotes(rs.VotingRound, stage, tally.Ballots, denominator, e.cfg.VoteThreshold, now)

	phase := network.RoundStats(len(st.Nodes), len(votable))
	st.Stats = st.Stats.Add(phase)
	rs.Stats = rs.Stats.Add(phase)

	cast := make(map[consensus.NodeID]bool)
	rs.Highlighted = nil
	for _, b := range tally.Ballots {
		if b.Vote != consensus.NoVote {
			cast[b.NodeID] = true
			rs.Highlighted = append(rs.Highlighted, b.NodeID)
		}
	}
	rs.Nodes = setStates(rs.Nodes, state, cast)
	rs.Description = fmt.Sprintf("%d of %d validators voted; %d yes against %d required", len(cast), len(st.Nodes), tally.Yes, requiredVotes(denominator, e.cfg.VoteThreshold))
	e.log.Debug("votes collected",
		zap.Int("round", rs.Round),
		zap.Stringer("stage", stage),
		zap.Int("yes", tally.Yes),
		zap.Int("denominator", denominator),
		zap.Bool("approved", tally.Approved),
	)
	return st, rs
}

func (e *Engine) tally(stage consensus.Stage, rs StepState) StepState {
	rs.Step = consensus.StepPrevoteTally
	if stage == consensus.StagePrecommit {
		rs.Step = consensus.StepPrecommitTally
	}
	if rs.VotingRound == nil {
		rs.Description = "Nothing to tally"
		return rs
	}
	count, met := rs.VotingRound.PrevoteCount, rs.VotingRound.PrevoteThresholdMet
	if stage == consensus.StagePrecommit {
		count, met = rs.VotingRound.PrecommitCount, rs.VotingRound.PrecommitThresholdMet
	}
	verdict := "not reached"
	if met {
		verdict = "reached"
	}
	rs.Description = fmt.Sprintf("%s tally: %d yes of %d validators, threshold %s", stage, count, len(rs.VotingRound.Voters()), verdict)
	return rs
}

func (e *Engine) commit(st State, rs StepState, now time.Time) (State, StepState) {
	rs.Step = consensus.StepCommit
	if rs.TimedOut || rs.VotingRound == nil {
		st.Liveness = false
		st.Safety = true
		rs.Highlighted = nil
		rs.Description = "No commit: the round timed out"
		return st, rs
	}

	committed := rs.VotingRound.PrecommitThresholdMet
	if committed && !st.Synchronous && e.cfg.PacketLoss > 0 && e.rng.Float64()*100 < e.cfg.PacketLoss {
		committed = false
		rs = rs.withLog(now, consensus.LogWarning, fmt.Sprintf("Commit of block %d lost to packet loss", rs.Block.Height))
	}

	vr := FinalizeRound(rs.VotingRound, committed)
	rs.VotingRound = vr
	st.History = appendRound(st.History, vr)
	st.QCs = appendQCs(st.QCs, vr.PrevoteQC, vr.PrecommitQC)

	participants := onlineSet(rs.Nodes)
	if committed {
		block := *rs.Block
		block.CommitQC = vr.PrecommitQC
		rs.Block = &block
		rs.Committed = true
		st.Blocks = appendBlock(st.Blocks, block)
		st.Timeout = st.Timeout.OnCommit(now)
		rs.Nodes = setStates(rs.Nodes, consensus.NodeCommitted, participants)
		rs.Highlighted = vr.PrecommitQC.Signers()
		rs.Description = fmt.Sprintf("Block %d committed with %d precommits", block.Height, vr.PrecommitCount)
		rs = rs.withLog(now, consensus.LogSuccess, fmt.Sprintf("Block %d committed by node %d", block.Height, block.Proposer))
		e.log.Info("block committed",
			zap.Int("height", block.Height),
			zap.Int("proposer", int(block.Proposer)),
			zap.String("hash", block.Hash),
			zap.Int("precommits", vr.PrecommitCount),
		)
	} else {
		failed := consensus.NodeTimeout
		if st.Synchronous {
			failed = consensus.NodeFailed
		}
		st.Timeout = st.Timeout.Restart(now)
		rs.Nodes = setStates(rs.Nodes, failed, participants)
		rs.Highlighted = nil
		rs.Description = fmt.Sprintf("Round %d rejected: %d prevotes, %d precommits", rs.Round, vr.PrevoteCount, vr.PrecommitCount)
		rs = rs.withLog(now, consensus.LogWarning, fmt.Sprintf("Round %d failed to reach consensus", rs.Round))
		e.log.Info("round rejected",
			zap.Int("round", rs.Round),
			zap.Int("prevotes", vr.PrevoteCount),
			zap.Int("precommits", vr.PrecommitCount),
		)
	}

	consistency := detector.DetectConsistencyViolations(st.Blocks, st.History)
	safety := detector.Safety(len(st.Nodes), ByzantineCount(st.Nodes), consistency)
	st.Liveness = committed
	st.Safety = safety.Safe
	st.Violations = consistency.Violations
	for _, v := range consistency.Violations {
		rs = rs.withLog(now, consensus.LogError, "Consistency violation: "+v.String())
		e.log.Error("consistency violation",
			zap.Int("height", v.Height),
			zap.Strings("hashes", v.Hashes),
			zap.String("source", v.Source),
		)
	}
	if safety.ByzantineExceeds {
		e.log.Warn("byzantine nodes exceed fault tolerance",
			zap.Int("byzantine", ByzantineCount(st.Nodes)),
			zap.Int("max", detector.MaxByzantine(len(st.Nodes))),
		)
	}
	return st, rs
}

func (e *Engine) roundComplete(st State, rs StepState, now time.Time) (State, StepState) {
	rs.Step = consensus.StepRoundComplete
	next, _ := e.proposers.Select(st.Nodes, st.Round+1)

	result := &RoundResult{
		Round:        rs.Round,
		Proposer:     rs.Proposer,
		UpdatedNodes: consensus.CloneNodes(rs.Nodes),
		VotingRound:  rs.VotingRound,
		NewLiveness:  st.Liveness,
		NewSafety:    st.Safety,
		TimedOut:     rs.TimedOut,
		Timeout:      rs.Timeout,
		NewProposer:  next.ID,
		Evidence:     rs.Evidence,
		Violations:   st.Violations,
		Stats:        rs.Stats,
		Logs:         rs.Logs,
		Duration:     e.roundDuration(rs) + e.responseJitter(rs),
	}
	if rs.Committed {
		block := *rs.Block
		result.NewBlock = &block
	}
	st.Round++
	st.Nodes = ResetDisplayState(st.Nodes)
	rs.Nodes = ResetDisplayState(rs.Nodes)
	rs.Highlighted = []consensus.NodeID{next.ID}
	rs.Description = fmt.Sprintf("Round %d complete; node %d proposes next", rs.Round, next.ID)
	rs.Result = result
	return st, rs
}

// roundDuration is the simulated time a round takes: one proposal delay plus
// three message hops when it commits, plus the message timeout when it fails.
func (e *Engine) roundDuration(rs StepState) time.Duration {
	switch {
	case rs.TimedOut:
		return e.cfg.ProposalDelay
	case rs.Committed:
		return e.cfg.ProposalDelay + 3*e.cfg.Latency
	default:
		return e.cfg.ProposalDelay + e.cfg.MessageTimeout
	}
}

// responseJitter draws the variance term after every other draw of the round.
// Timed-out rounds never reach the voting steps and take no draw.
func (e *Engine) responseJitter(rs StepState) time.Duration {
	if rs.TimedOut || e.cfg.ResponseVariance <= 0 {
		return 0
	}
	return time.Duration(e.rng.Float64() * float64(e.cfg.ResponseVariance))
}

func requiredVotes(denominator int, threshold float64) int {
	for k := 0; k <= denominator; k++ {
		if MeetsThreshold(k, denominator, threshold) {
			return k
		}
	}
	return denominator + 1
}

func findNode(nodes []consensus.Node, id consensus.NodeID) consensus.Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return consensus.Node{ID: id}
}

func onlineSet(nodes []consensus.Node) map[consensus.NodeID]bool {
	set := make(map[consensus.NodeID]bool)
	for _, n := range nodes {
		if n.CanVote() {
			set[n.ID] = true
		}
	}
	return set
}
