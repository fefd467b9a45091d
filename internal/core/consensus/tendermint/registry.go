// Package tendermint implements the round engine of the simulator: validator
// availability, proposer rotation, block proposals, two-phase voting with
// quorum certificates, timeouts, and the continuous and stepwise drivers.
package tendermint

import (
	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// InitializeNetwork creates nodeCount validators with IDs 1..nodeCount. The
// first byzantineCount carry the given Byzantine type.
func InitializeNetwork(nodeCount, byzantineCount int, byzantineType consensus.ByzantineType) []consensus.Node {
	nodes := make([]consensus.Node, nodeCount)
	for i := range nodes {
		n := consensus.Node{
			ID:       consensus.NodeID(i + 1),
			IsOnline: true,
			State:    consensus.NodeIdle,
		}
		if i < byzantineCount {
			n.IsByzantine = true
			n.ByzantineType = byzantineType
		}
		nodes[i] = n
	}
	return nodes
}

// ByzantineCount returns how many nodes are currently flagged Byzantine.
func ByzantineCount(nodes []consensus.Node) int {
	count := 0
	for _, n := range nodes {
		if n.IsByzantine {
			count++
		}
	}
	return count
}

// OnlineCount returns how many nodes may vote.
func OnlineCount(nodes []consensus.Node) int {
	count := 0
	for _, n := range nodes {
		if n.CanVote() {
			count++
		}
	}
	return count
}

// UpdateAvailability recomputes online status for every node. Outside
// synchronous mode each node is down with probability downtimePct percent;
// members of the partition are never online. One draw is taken per node
// when downtime applies, in list order.
func UpdateAvailability(nodes []consensus.Node, downtimePct float64, synchronous bool, partition Partition, rng consensus.Random) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	inPartition := partition.Set()
	drawDowntime := !synchronous && downtimePct > 0
	for i := range out {
		down := drawDowntime && rng.Float64()*100 < downtimePct
		partitioned := inPartition[out[i].ID]
		out[i].IsPartitioned = partitioned
		out[i].IsOnline = !down && !partitioned
		switch {
		case partitioned:
			out[i].State = consensus.NodePartitioned
		case down:
			out[i].State = consensus.NodeOffline
		default:
			out[i].State = consensus.NodeIdle
		}
	}
	return out
}

// EscalateByzantine returns a copy of nodes with id flagged Byzantine. The
// configured behavior of an already Byzantine node is kept.
func EscalateByzantine(nodes []consensus.Node, id consensus.NodeID) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	for i := range out {
		if out[i].ID == id {
			out[i].IsByzantine = true
		}
	}
	return out
}

// ResetDisplayState returns a copy of nodes with transient round states cleared.
func ResetDisplayState(nodes []consensus.Node) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	for i := range out {
		switch {
		case out[i].IsPartitioned:
			out[i].State = consensus.NodePartitioned
		case !out[i].IsOnline:
			out[i].State = consensus.NodeOffline
		default:
			out[i].State = consensus.NodeIdle
		}
	}
	return out
}

func setStates(nodes []consensus.Node, state consensus.NodeState, ids map[consensus.NodeID]bool) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	for i := range out {
		if ids == nil || ids[out[i].ID] {
			out[i].State = state
		}
	}
	return out
}
