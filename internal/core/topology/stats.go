package topology

import (
	"encoding/json"
	"math"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// Stats summarizes the shape of a graph.
type Stats struct {
	NodeCount   int     `json:"nodeCount"`
	EdgeCount   int     `json:"edgeCount"`
	AvgDegree   float64 `json:"avgDegree"`
	MaxDegree   int     `json:"maxDegree"`
	MinDegree   int     `json:"minDegree"`
	IsConnected bool    `json:"isConnected"`
	// Diameter is +Inf when the graph is disconnected.
	Diameter float64 `json:"-"`
	Density  float64 `json:"density"`
}

// MarshalJSON renders an infinite diameter as the string "Infinity".
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	var diameter any = s.Diameter
	if math.IsInf(s.Diameter, 1) {
		diameter = "Infinity"
	}
	return json.Marshal(struct {
		plain
		Diameter any `json:"diameter"`
	}{plain(s), diameter})
}

// Stats computes degree, connectivity, diameter and density figures.
// A unidirectional edge only adds to its source's degree. Connectivity is
// judged from node 1.
func (g *Graph) Stats() Stats {
	n := g.nodeCount
	s := Stats{
		NodeCount: n,
		EdgeCount: len(g.edges),
	}
	if n == 0 {
		return s
	}

	degrees := make(map[consensus.NodeID]int, n)
	for _, e := range g.edges {
		degrees[e.Source]++
		if e.Bidirectional {
			degrees[e.Target]++
		}
	}

	total := 0
	s.MinDegree = math.MaxInt
	for id := consensus.NodeID(1); int(id) <= n; id++ {
		d := degrees[id]
		total += d
		if d > s.MaxDegree {
			s.MaxDegree = d
		}
		if d < s.MinDegree {
			s.MinDegree = d
		}
	}
	s.AvgDegree = float64(total) / float64(n)

	s.IsConnected = len(g.Reachable(1)) == n
	if s.IsConnected {
		for i := consensus.NodeID(1); int(i) <= n; i++ {
			for j := i + 1; int(j) <= n; j++ {
				if path := g.ShortestPath(i, j); path != nil {
					s.Diameter = math.Max(s.Diameter, float64(len(path)-1))
				}
			}
		}
	} else {
		s.Diameter = math.Inf(1)
	}

	if n > 1 {
		s.Density = 2 * float64(len(g.edges)) / float64(n*(n-1))
	}
	return s
}
