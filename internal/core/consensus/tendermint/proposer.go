package tendermint

import (
	"math"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/topology"
)

// ProposerSelector picks the proposer of each round by round-robin.
type ProposerSelector struct {
	// Graph enables routing-aware selection when non-nil.
	Graph *topology.Graph

	// QuorumFraction is the share of online nodes a graph-routed proposer
	// must reach.
	QuorumFraction float64
}

// Eligible returns the rotation candidates: online non-Byzantine nodes, then
// any online node, then every node.
func Eligible(nodes []consensus.Node) []consensus.Node {
	var honest, online []consensus.Node
	for _, n := range nodes {
		if !n.CanVote() {
			continue
		}
		online = append(online, n)
		if !n.IsByzantine {
			honest = append(honest, n)
		}
	}
	switch {
	case len(honest) > 0:
		return honest
	case len(online) > 0:
		return online
	default:
		return nodes
	}
}

// Select returns the proposer for the given 0-based round. ok is false only
// when there are no nodes.
func (s ProposerSelector) Select(nodes []consensus.Node, round int) (consensus.Node, bool) {
	eligible := Eligible(nodes)
	if len(eligible) == 0 {
		return consensus.Node{}, false
	}
	start := round % len(eligible)
	if s.Graph == nil {
		return eligible[start], true
	}

	required := s.requiredReach(nodes)
	for i := 0; i < len(eligible); i++ {
		candidate := eligible[(start+i)%len(eligible)]
		if s.reachesQuorum(candidate.ID, nodes, required) {
			return candidate, true
		}
	}
	return eligible[start], true
}

func (s ProposerSelector) requiredReach(nodes []consensus.Node) int {
	fraction := s.QuorumFraction
	if fraction <= 0 {
		fraction = 2.0 / 3.0
	}
	return int(math.Ceil(float64(OnlineCount(nodes)) * fraction))
}

func (s ProposerSelector) reachesQuorum(id consensus.NodeID, nodes []consensus.Node, required int) bool {
	reach := s.Graph.ReachableSet(id)
	count := 0
	for _, n := range nodes {
		if n.CanVote() && reach[n.ID] {
			count++
		}
	}
	return count >= required
}
