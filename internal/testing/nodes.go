package testing

import "github.com/LeJamon/tmsim/internal/core/consensus"

// Honest returns n online honest validators with IDs 1..n.
func Honest(n int) []consensus.Node {
	nodes := make([]consensus.Node, n)
	for i := range nodes {
		nodes[i] = consensus.Node{
			ID:       consensus.NodeID(i + 1),
			IsOnline: true,
			State:    consensus.NodeIdle,
		}
	}
	return nodes
}

// WithByzantine returns n validators where the first byz carry the given type.
func WithByzantine(n, byz int, t consensus.ByzantineType) []consensus.Node {
	nodes := Honest(n)
	for i := 0; i < byz && i < n; i++ {
		nodes[i].IsByzantine = true
		nodes[i].ByzantineType = t
	}
	return nodes
}

// Offline returns a copy of nodes with the given IDs marked offline.
func Offline(nodes []consensus.Node, ids ...consensus.NodeID) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	down := make(map[consensus.NodeID]bool, len(ids))
	for _, id := range ids {
		down[id] = true
	}
	for i := range out {
		if down[out[i].ID] {
			out[i].IsOnline = false
		}
	}
	return out
}
