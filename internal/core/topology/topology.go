// Package topology builds validator connectivity graphs and answers
// reachability queries over them.
package topology

import (
	"fmt"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// Type is a topology shape.
type Type int

const (
	FullMesh Type = iota
	Ring
	Star
	Line
	Random
	RandomDegree
	Custom
)

var typeNames = map[Type]string{
	FullMesh:     "full-mesh",
	Ring:         "ring",
	Star:         "star",
	Line:         "line",
	Random:       "random",
	RandomDegree: "random-degree",
	Custom:       "custom",
}

// String returns the configuration name of the topology type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseType converts a configuration name to a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return FullMesh, fmt.Errorf("%w: %q", ErrUnknownTopology, s)
}

// Types returns every supported topology name.
func Types() []string {
	out := make([]string, 0, len(typeNames))
	for t := FullMesh; t <= Custom; t++ {
		out = append(out, t.String())
	}
	return out
}

// Edge connects two validators. Nil latency or packet loss means the global
// network setting applies. A unidirectional edge only lets Source reach Target.
type Edge struct {
	Source        consensus.NodeID `json:"source"`
	Target        consensus.NodeID `json:"target"`
	Latency       *time.Duration   `json:"latency"`
	PacketLoss    *float64         `json:"packetLoss"`
	Bidirectional bool             `json:"bidirectional"`
}

// Connects reports whether the edge carries traffic from one node to another.
func (e Edge) Connects(from, to consensus.NodeID) bool {
	if e.Source == from && e.Target == to {
		return true
	}
	return e.Bidirectional && e.Source == to && e.Target == from
}

// Options tunes the random shapes and supplies the custom edge list.
type Options struct {
	// EdgeProbability is the inclusion probability per pair for Random.
	EdgeProbability float64

	// NodeDegree is the target average degree for RandomDegree.
	NodeDegree int

	// CustomEdges is passed through for Custom.
	CustomEdges []Edge
}

// DefaultOptions returns the default shape parameters.
func DefaultOptions() Options {
	return Options{
		EdgeProbability: 0.3,
		NodeDegree:      2,
	}
}

func newEdge(source, target int) Edge {
	return Edge{
		Source:        consensus.NodeID(source),
		Target:        consensus.NodeID(target),
		Bidirectional: true,
	}
}

// Build returns the edge set for a topology over nodes 1..nodeCount.
// Random shapes draw from rng, which may be nil for the deterministic shapes.
func Build(t Type, nodeCount int, opts Options, rng consensus.Random) ([]Edge, error) {
	if nodeCount < 0 {
		return nil, fmt.Errorf("node count must be non-negative, got %d", nodeCount)
	}
	if (t == Random || t == RandomDegree) && rng == nil {
		return nil, fmt.Errorf("%s topology requires a random source", t)
	}

	edges := make([]Edge, 0)
	switch t {
	case FullMesh:
		for i := 1; i <= nodeCount; i++ {
			for j := i + 1; j <= nodeCount; j++ {
				edges = append(edges, newEdge(i, j))
			}
		}

	case Ring:
		for i := 1; i <= nodeCount; i++ {
			edges = append(edges, newEdge(i, i%nodeCount+1))
		}

	case Star:
		for i := 2; i <= nodeCount; i++ {
			edges = append(edges, newEdge(1, i))
		}

	case Line:
		for i := 1; i < nodeCount; i++ {
			edges = append(edges, newEdge(i, i+1))
		}

	case Random:
		for i := 1; i <= nodeCount; i++ {
			for j := i + 1; j <= nodeCount; j++ {
				if rng.Float64() < opts.EdgeProbability {
					edges = append(edges, newEdge(i, j))
				}
			}
		}

	case RandomDegree:
		target := nodeCount * opts.NodeDegree / 2
		pairs := make([][2]int, 0, nodeCount*(nodeCount-1)/2)
		for i := 1; i <= nodeCount; i++ {
			for j := i + 1; j <= nodeCount; j++ {
				pairs = append(pairs, [2]int{i, j})
			}
		}
		consensus.Shuffle(rng, len(pairs), func(i, j int) {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		})
		if target > len(pairs) {
			target = len(pairs)
		}
		for _, p := range pairs[:target] {
			edges = append(edges, newEdge(p[0], p[1]))
		}

	case Custom:
		for _, e := range opts.CustomEdges {
			edges = append(edges, e)
		}

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTopology, int(t))
	}

	return edges, nil
}
