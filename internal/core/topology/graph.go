package topology

import (
	"sort"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// Graph is a read-only view over an edge list with adjacency precomputed.
// Neighbor order follows edge order, which keeps traversals deterministic.
type Graph struct {
	nodeCount int
	edges     []Edge
	adj       map[consensus.NodeID][]consensus.NodeID
}

// NewGraph indexes the given edges. The edge slice is copied.
func NewGraph(nodeCount int, edges []Edge) *Graph {
	g := &Graph{
		nodeCount: nodeCount,
		edges:     append([]Edge(nil), edges...),
		adj:       make(map[consensus.NodeID][]consensus.NodeID),
	}

	seen := make(map[[2]consensus.NodeID]bool)
	add := func(from, to consensus.NodeID) {
		key := [2]consensus.NodeID{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		g.adj[from] = append(g.adj[from], to)
	}
	for _, e := range g.edges {
		add(e.Source, e.Target)
		if e.Bidirectional {
			add(e.Target, e.Source)
		}
	}
	return g
}

// NodeCount returns the number of nodes the graph was built for.
func (g *Graph) NodeCount() int {
	return g.nodeCount
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Neighbors returns the nodes directly reachable from id.
func (g *Graph) Neighbors(id consensus.NodeID) []consensus.NodeID {
	return append([]consensus.NodeID(nil), g.adj[id]...)
}

// EdgeBetween returns the first edge carrying traffic from one node to another.
func (g *Graph) EdgeBetween(from, to consensus.NodeID) (Edge, bool) {
	for _, e := range g.edges {
		if e.Connects(from, to) {
			return e, true
		}
	}
	return Edge{}, false
}

// IsReachable reports whether a path leads from source to target.
func (g *Graph) IsReachable(source, target consensus.NodeID) bool {
	if source == target {
		return true
	}
	visited := map[consensus.NodeID]bool{source: true}
	queue := []consensus.NodeID{source}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range g.adj[current] {
			if n == target {
				return true
			}
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Reachable returns every node reachable from source, including source,
// in breadth-first discovery order.
func (g *Graph) Reachable(source consensus.NodeID) []consensus.NodeID {
	visited := map[consensus.NodeID]bool{source: true}
	order := []consensus.NodeID{source}
	for i := 0; i < len(order); i++ {
		for _, n := range g.adj[order[i]] {
			if !visited[n] {
				visited[n] = true
				order = append(order, n)
			}
		}
	}
	return order
}

// ReachableSet returns Reachable as a set.
func (g *Graph) ReachableSet(source consensus.NodeID) map[consensus.NodeID]bool {
	set := make(map[consensus.NodeID]bool)
	for _, id := range g.Reachable(source) {
		set[id] = true
	}
	return set
}

// ShortestPath returns the node sequence of a shortest path from source to
// target, both included, or nil when target is unreachable.
func (g *Graph) ShortestPath(source, target consensus.NodeID) []consensus.NodeID {
	if source == target {
		return []consensus.NodeID{source}
	}

	parent := map[consensus.NodeID]consensus.NodeID{}
	visited := map[consensus.NodeID]bool{source: true}
	queue := []consensus.NodeID{source}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range g.adj[current] {
			if visited[n] {
				continue
			}
			visited[n] = true
			parent[n] = current
			if n == target {
				return buildPath(parent, source, target)
			}
			queue = append(queue, n)
		}
	}
	return nil
}

func buildPath(parent map[consensus.NodeID]consensus.NodeID, source, target consensus.NodeID) []consensus.NodeID {
	path := []consensus.NodeID{target}
	for at := target; at != source; {
		at = parent[at]
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// AttachNeighbors returns copies of the nodes with their neighbor lists set
// from the graph, sorted ascending.
func (g *Graph) AttachNeighbors(nodes []consensus.Node) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	for i := range out {
		ns := g.Neighbors(out[i].ID)
		sort.Slice(ns, func(a, b int) bool { return ns[a] < ns[b] })
		out[i].Neighbors = ns
	}
	return out
}
