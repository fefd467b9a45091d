package topology

import (
	"fmt"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// AddEdge returns a new edge list with e appended. It fails when an existing
// edge already carries traffic from e.Source to e.Target.
func AddEdge(edges []Edge, e Edge) ([]Edge, error) {
	if e.Source == e.Target {
		return edges, ErrSelfLoop
	}
	for _, existing := range edges {
		if existing.Connects(e.Source, e.Target) {
			return edges, fmt.Errorf("%w between nodes %d and %d", ErrEdgeExists, e.Source, e.Target)
		}
	}
	out := make([]Edge, 0, len(edges)+1)
	out = append(out, edges...)
	return append(out, e), nil
}

// RemoveEdge returns a new edge list without the edges that carry traffic
// from source to target.
func RemoveEdge(edges []Edge, source, target consensus.NodeID) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if !e.Connects(source, target) {
			out = append(out, e)
		}
	}
	return out
}

// ToggleBidirectional returns a new edge list with the direction flag flipped
// on every edge joining the two nodes, in either orientation.
func ToggleBidirectional(edges []Edge, a, b consensus.NodeID) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			e.Bidirectional = !e.Bidirectional
		}
		out[i] = e
	}
	return out
}
