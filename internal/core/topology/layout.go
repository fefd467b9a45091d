package topology

import (
	"math"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// CircularLayout places n nodes evenly on a circle, starting at the top.
// The returned slice is indexed by node ID; index 0 is unused.
func CircularLayout(n int, centerX, centerY, radius float64) []consensus.Position {
	positions := make([]consensus.Position, n+1)
	for i := 0; i < n; i++ {
		angle := 2*math.Pi*float64(i)/float64(n) - math.Pi/2
		positions[i+1] = consensus.Position{
			X: centerX + radius*math.Cos(angle),
			Y: centerY + radius*math.Sin(angle),
		}
	}
	return positions
}

// ForceOptions tunes the spring layout.
type ForceOptions struct {
	Width             float64
	Height            float64
	Iterations        int
	SpringLength      float64
	SpringStrength    float64
	RepulsionStrength float64
	Damping           float64
	Margin            float64
}

// DefaultForceOptions returns the default spring layout parameters.
func DefaultForceOptions() ForceOptions {
	return ForceOptions{
		Width:             800,
		Height:            600,
		Iterations:        100,
		SpringLength:      100,
		SpringStrength:    0.01,
		RepulsionStrength: 1000,
		Damping:           0.8,
		Margin:            50,
	}
}

// ForceDirectedLayout runs a simple spring simulation from random start
// positions. The returned slice is indexed by node ID; index 0 is unused.
func ForceDirectedLayout(n int, edges []Edge, opts ForceOptions, rng consensus.Random) []consensus.Position {
	type body struct{ x, y, vx, vy float64 }

	bodies := make([]body, n+1)
	for i := 1; i <= n; i++ {
		bodies[i] = body{x: rng.Float64() * opts.Width, y: rng.Float64() * opts.Height}
	}

	inRange := func(id consensus.NodeID) bool { return id >= 1 && int(id) <= n }

	for iter := 0; iter < opts.Iterations; iter++ {
		fx := make([]float64, n+1)
		fy := make([]float64, n+1)

		for i := 1; i <= n; i++ {
			for j := i + 1; j <= n; j++ {
				dx := bodies[j].x - bodies[i].x
				dy := bodies[j].y - bodies[i].y
				dist := math.Hypot(dx, dy)
				if dist == 0 {
					dist = 1
				}
				force := opts.RepulsionStrength / (dist * dist)
				fx[i] -= dx / dist * force
				fy[i] -= dy / dist * force
				fx[j] += dx / dist * force
				fy[j] += dy / dist * force
			}
		}

		for _, e := range edges {
			if !inRange(e.Source) || !inRange(e.Target) {
				continue
			}
			s, t := int(e.Source), int(e.Target)
			dx := bodies[t].x - bodies[s].x
			dy := bodies[t].y - bodies[s].y
			dist := math.Hypot(dx, dy)
			if dist == 0 {
				dist = 1
			}
			force := opts.SpringStrength * (dist - opts.SpringLength)
			fx[s] += dx / dist * force
			fy[s] += dy / dist * force
			fx[t] -= dx / dist * force
			fy[t] -= dy / dist * force
		}

		for i := 1; i <= n; i++ {
			b := &bodies[i]
			b.vx = (b.vx + fx[i]) * opts.Damping
			b.vy = (b.vy + fy[i]) * opts.Damping
			b.x = clamp(b.x+b.vx, opts.Margin, opts.Width-opts.Margin)
			b.y = clamp(b.y+b.vy, opts.Margin, opts.Height-opts.Margin)
		}
	}

	positions := make([]consensus.Position, n+1)
	for i := 1; i <= n; i++ {
		positions[i] = consensus.Position{X: bodies[i].x, Y: bodies[i].y}
	}
	return positions
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ApplyLayout returns copies of the nodes with positions taken from an
// ID-indexed position slice.
func ApplyLayout(nodes []consensus.Node, positions []consensus.Position) []consensus.Node {
	out := consensus.CloneNodes(nodes)
	for i := range out {
		if id := int(out[i].ID); id > 0 && id < len(positions) {
			out[i].Position = positions[id]
		}
	}
	return out
}
