// Package consensus defines the shared types for the Tendermint-style round
// simulator: validators, blocks, voting rounds, quorum certificates and the
// step enumeration used by both the continuous and the stepwise drivers.
package consensus

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// NodeID identifies a validator. IDs run from 1 to N and are stable for a session.
type NodeID int

// ByzantineType describes how a Byzantine validator deviates from the protocol.
type ByzantineType int

const (
	// ByzantineNone marks an honest validator, or one escalated to Byzantine
	// by evidence without a configured behavior.
	ByzantineNone ByzantineType = iota

	// ByzantineFaulty votes uniformly at random.
	ByzantineFaulty

	// ByzantineEquivocator votes unpredictably and proposes blocks carrying
	// two different hashes for the same height and round.
	ByzantineEquivocator

	// ByzantineSilent never votes.
	ByzantineSilent
)

// String returns the string representation of the Byzantine type.
func (b ByzantineType) String() string {
	switch b {
	case ByzantineNone:
		return "none"
	case ByzantineFaulty:
		return "faulty"
	case ByzantineEquivocator:
		return "equivocator"
	case ByzantineSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// ParseByzantineType converts a configuration string to a ByzantineType.
func ParseByzantineType(s string) (ByzantineType, error) {
	switch s {
	case "", "none":
		return ByzantineNone, nil
	case "faulty":
		return ByzantineFaulty, nil
	case "equivocator":
		return ByzantineEquivocator, nil
	case "silent":
		return ByzantineSilent, nil
	default:
		return ByzantineNone, fmt.Errorf("unknown byzantine type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b ByzantineType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByzantineType) UnmarshalText(text []byte) error {
	parsed, err := ParseByzantineType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// NodeState is the per-round display state of a validator.
type NodeState int

const (
	NodeIdle NodeState = iota
	NodeProposing
	NodeVoting
	NodePrevoting
	NodePrecommitting
	NodeCommitted
	NodeTimeout
	NodeFailed
	NodeOffline
	NodePartitioned
)

var nodeStateNames = map[NodeState]string{
	NodeIdle:          "Idle",
	NodeProposing:     "Proposing",
	NodeVoting:        "Voting",
	NodePrevoting:     "Prevoting",
	NodePrecommitting: "Precommitting",
	NodeCommitted:     "Committed",
	NodeTimeout:       "Timeout",
	NodeFailed:        "Failed",
	NodeOffline:       "Offline",
	NodePartitioned:   "Partitioned",
}

// String returns the string representation of the node state.
func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Position is a 2D layout coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a validator snapshot. Nodes are replaced, never mutated, between ticks.
type Node struct {
	ID            NodeID        `json:"id"`
	IsByzantine   bool          `json:"isByzantine"`
	ByzantineType ByzantineType `json:"byzantineType"`
	IsOnline      bool          `json:"isOnline"`
	IsPartitioned bool          `json:"isPartitioned"`
	Neighbors     []NodeID      `json:"neighbors,omitempty"`
	Position      Position      `json:"position"`
	State         NodeState     `json:"currentRoundState"`
}

// CanVote reports whether the node may cast votes this round.
func (n Node) CanVote() bool {
	return n.IsOnline && !n.IsPartitioned
}

// CloneNodes returns a copy of the node list that shares no slices with the input.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.Neighbors != nil {
			out[i].Neighbors = append([]NodeID(nil), n.Neighbors...)
		}
	}
	return out
}

// NodeIDs returns the identifiers of the given nodes in list order.
func NodeIDs(nodes []Node) []NodeID {
	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// HashPair carries the two conflicting hashes of an equivocating proposal.
type HashPair struct {
	VariantA string `json:"variantA"`
	VariantB string `json:"variantB"`
}

// Block is a proposed block. It is immutable after creation; a committed copy
// carries its precommit certificate as commit proof.
type Block struct {
	Height        int                `json:"height"`
	Round         int                `json:"round"`
	Proposer      NodeID             `json:"proposer"`
	TxCount       int                `json:"txCount"`
	Hash          string             `json:"hash"`
	Timestamp     time.Time          `json:"timestamp"`
	IsMalicious   bool               `json:"isMalicious"`
	ByzantineType ByzantineType      `json:"byzantineType"`
	HashPerTarget *HashPair          `json:"hashPerTarget,omitempty"`
	CommitQC      *QuorumCertificate `json:"commitQC,omitempty"`
}

// Hashes returns every distinct hash carried by the block.
func (b Block) Hashes() []string {
	if b.HashPerTarget == nil {
		return []string{b.Hash}
	}
	return []string{b.HashPerTarget.VariantA, b.HashPerTarget.VariantB}
}

// Vote is a tri-state ballot: no vote, yes or no.
type Vote int8

const (
	NoVote Vote = iota
	VoteYes
	VoteNo
)

// VoteOf converts a boolean decision to a Vote.
func VoteOf(yes bool) Vote {
	if yes {
		return VoteYes
	}
	return VoteNo
}

// String returns the string representation of the vote.
func (v Vote) String() string {
	switch v {
	case VoteYes:
		return "yes"
	case VoteNo:
		return "no"
	default:
		return "none"
	}
}

// MarshalJSON encodes a vote as true, false or null.
func (v Vote) MarshalJSON() ([]byte, error) {
	switch v {
	case VoteYes:
		return []byte("true"), nil
	case VoteNo:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes true, false or null.
func (v *Vote) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	switch {
	case b == nil:
		*v = NoVote
	case *b:
		*v = VoteYes
	default:
		*v = VoteNo
	}
	return nil
}

// Stage is a voting phase.
type Stage int

const (
	StagePrevote Stage = iota
	StagePrecommit
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StagePrevote:
		return "prevote"
	case StagePrecommit:
		return "precommit"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a voting round.
type Result int

const (
	ResultPending Result = iota
	ResultApproved
	ResultRejected
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultApproved:
		return "approved"
	case ResultRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Signature is one simulated signer entry in a quorum certificate.
type Signature struct {
	NodeID    NodeID    `json:"nodeId"`
	Vote      bool      `json:"vote"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// QuorumCertificate aggregates the yes votes of a stage once its threshold is met.
// It is generated at most once per (round, stage) and never modified afterwards.
type QuorumCertificate struct {
	Height          int         `json:"height"`
	Round           int         `json:"round"`
	Stage           Stage       `json:"stage"`
	BlockHash       string      `json:"blockHash"`
	Signatures      []Signature `json:"signatures"`
	TotalValidators int         `json:"totalValidators"`
	SignatureCount  int         `json:"signatureCount"`
	ThresholdMet    bool        `json:"thresholdMet"`
	Threshold       float64     `json:"threshold"`
	Proposer        NodeID      `json:"proposer"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// Signers returns the IDs of every signer in certificate order.
func (qc *QuorumCertificate) Signers() []NodeID {
	ids := make([]NodeID, len(qc.Signatures))
	for i, s := range qc.Signatures {
		ids[i] = s.NodeID
	}
	return ids
}

// VotingRound tracks both voting phases of one round.
type VotingRound struct {
	RoundNumber           int                `json:"roundNumber"`
	RoundHeight           int                `json:"roundHeight"`
	ProposerID            NodeID             `json:"proposerId"`
	BlockHash             string             `json:"blockHash"`
	Prevotes              map[NodeID]Vote    `json:"prevotesReceived"`
	Precommits            map[NodeID]Vote    `json:"precommitsReceived"`
	PrevoteCount          int                `json:"prevoteCount"`
	PrecommitCount        int                `json:"precommitCount"`
	PrevoteThresholdMet   bool               `json:"prevoteThresholdMet"`
	PrecommitThresholdMet bool               `json:"precommitThresholdMet"`
	PrevoteQC             *QuorumCertificate `json:"prevoteQC,omitempty"`
	PrecommitQC           *QuorumCertificate `json:"precommitQC,omitempty"`
	Result                Result             `json:"result"`
	Timestamp             time.Time          `json:"timestamp"`
}

// Clone returns a deep copy of the round. Certificates are immutable and shared.
func (vr *VotingRound) Clone() *VotingRound {
	if vr == nil {
		return nil
	}
	out := *vr
	out.Prevotes = cloneVotes(vr.Prevotes)
	out.Precommits = cloneVotes(vr.Precommits)
	return &out
}

// Votes returns the vote map for a stage.
func (vr *VotingRound) Votes(stage Stage) map[NodeID]Vote {
	if stage == StagePrecommit {
		return vr.Precommits
	}
	return vr.Prevotes
}

// VoteOf returns the vote a node cast in a stage. Unknown nodes have no vote.
func (vr *VotingRound) VoteOf(stage Stage, id NodeID) Vote {
	return vr.Votes(stage)[id]
}

// Voters returns the node IDs present in the round, sorted ascending.
func (vr *VotingRound) Voters() []NodeID {
	ids := make([]NodeID, 0, len(vr.Prevotes))
	for id := range vr.Prevotes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func cloneVotes(in map[NodeID]Vote) map[NodeID]Vote {
	if in == nil {
		return nil
	}
	out := make(map[NodeID]Vote, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TimeoutEvent records one round timeout.
type TimeoutEvent struct {
	Round           int           `json:"round"`
	At              time.Time     `json:"timestamp"`
	Duration        time.Duration `json:"duration"`
	EscalationLevel int           `json:"escalationLevel"`
	Proposer        NodeID        `json:"proposer"`
}

// LogLevel classifies advisory log entries attached to round results.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is a human-readable advisory event produced during a round.
type LogEntry struct {
	Time    time.Time `json:"timestamp"`
	Level   LogLevel  `json:"type"`
	Message string    `json:"message"`
}
