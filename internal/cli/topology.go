package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/network"
)

type topologyOptions struct {
	json   bool
	origin int
	from   int
	to     int
}

func newTopologyCmd(g *globals) *cobra.Command {
	opts := &topologyOptions{}
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the configured network topology and its statistics",
		Long: `Build the configured topology and print its edges, graph statistics and
node layout. --origin floods a message from a node and reports its reach;
--from/--to print a shortest path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showTopology(cmd, g, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print as JSON")
	cmd.Flags().IntVar(&opts.origin, "origin", 0, "flood a message from this node")
	cmd.Flags().IntVar(&opts.from, "from", 0, "shortest path source")
	cmd.Flags().IntVar(&opts.to, "to", 0, "shortest path target")
	return cmd
}

func showTopology(cmd *cobra.Command, g *globals, opts *topologyOptions) error {
	s, err := g.openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	graph := s.sim.Graph()
	nodes := s.sim.State().Nodes
	n := graph.NodeCount()
	for _, id := range []int{opts.origin, opts.from, opts.to} {
		if id < 0 || id > n {
			return fmt.Errorf("node %d outside 1..%d", id, n)
		}
	}

	report := map[string]interface{}{
		"type":  s.cfg.Topology.Type,
		"edges": graph.Edges(),
		"stats": graph.Stats(),
	}
	if s.cfg.Topology.Layout != config.LayoutNone {
		report["nodes"] = nodes
	}
	var gossip network.FloodResult
	if opts.origin > 0 {
		gossip = s.sim.Gossip(consensus.NodeID(opts.origin))
		report["gossip"] = gossip
	}
	var path []consensus.NodeID
	if opts.from > 0 && opts.to > 0 {
		path = graph.ShortestPath(consensus.NodeID(opts.from), consensus.NodeID(opts.to))
		report["path"] = path
	}

	w := out(cmd)
	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	st := graph.Stats()
	fmt.Fprintf(w, "Topology %s: %d nodes, %d edges\n", s.cfg.Topology.Type, st.NodeCount, st.EdgeCount)
	diameter := "infinite"
	if !math.IsInf(st.Diameter, 1) {
		diameter = fmt.Sprint(st.Diameter)
	}
	fmt.Fprintf(w, "Degree avg %.2f min %d max %d, density %.3f, diameter %s, connected %t\n\n",
		st.AvgDegree, st.MinDegree, st.MaxDegree, st.Density, diameter, st.IsConnected)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tDIRECTION")
	for _, e := range graph.Edges() {
		dir := "->"
		if e.Bidirectional {
			dir = "<->"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\n", e.Source, e.Target, dir)
	}
	tw.Flush()

	if s.cfg.Topology.Layout != config.LayoutNone {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NODE\tX\tY\tNEIGHBORS")
		for _, node := range nodes {
			fmt.Fprintf(tw, "%d\t%.1f\t%.1f\t%v\n", node.ID, node.Position.X, node.Position.Y, node.Neighbors)
		}
		tw.Flush()
	}

	if opts.origin > 0 {
		fmt.Fprintf(w, "\nGossip from %d: reached %d nodes (%.1f%%) in %d hops, %d sent, %d failed\n",
			opts.origin, len(gossip.ReachedNodes), gossip.ReachPercentage, gossip.MaxHops, gossip.TotalSent, gossip.TotalFailed)
	}
	if opts.from > 0 && opts.to > 0 {
		if path != nil {
			fmt.Fprintf(w, "\nShortest path %d -> %d: %v\n", opts.from, opts.to, path)
		} else {
			fmt.Fprintf(w, "\nNo path from %d to %d\n", opts.from, opts.to)
		}
	}
	return nil
}
