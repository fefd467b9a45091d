package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
)

type runOptions struct {
	rounds int
	format string
}

func newRunCmd(g *globals) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run consensus rounds headless and print the outcome",
		Long: `Run a fixed number of consensus rounds in simulated time and print one
line per round followed by a summary. Rounds are archived and the run is
recorded when storage and report backends are configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRounds(cmd, g, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.rounds, "rounds", "n", 20, "number of rounds to run")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text or json")
	return cmd
}

func runRounds(cmd *cobra.Command, g *globals, opts *runOptions) error {
	if opts.rounds <= 0 {
		return fmt.Errorf("--rounds must be positive, got %d", opts.rounds)
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	s, err := g.openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	w := out(cmd)
	var lines *csf.JSONLinesCollector
	if opts.format == "json" {
		lines = csf.NewJSONLinesCollector(w)
		s.sim.AddCollector(lines)
	}

	results, err := s.sim.RunRounds(opts.rounds)
	if err != nil {
		return err
	}

	view := s.sim.View(0)
	run, err := s.saveReport(cmd.Context())
	if err != nil {
		s.log.Error("failed to save run report", zap.Error(err))
	}

	if opts.format == "json" {
		if err := lines.Err(); err != nil {
			return err
		}
		report := map[string]interface{}{
			"runId":    s.runID,
			"seed":     s.sim.Seed(),
			"summary":  view.Summary,
			"liveness": view.Liveness,
			"safety":   view.Safety,
		}
		if run != nil {
			report["report"] = run
		}
		return json.NewEncoder(w).Encode(map[string]interface{}{"final": report})
	}

	printRounds(w, results)
	printSummary(w, s, view)
	if run != nil {
		fmt.Fprintf(w, "Report:      saved run %s\n", run.ID)
	}
	return nil
}

func printRounds(w io.Writer, results []tendermint.RoundResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tPROPOSER\tOUTCOME\tHEIGHT\tPREVOTES\tPRECOMMITS\tHASH\tDURATION")
	for _, r := range results {
		height, prevotes, precommits, hash := "-", "-", "-", "-"
		if vr := r.VotingRound; vr != nil {
			height = fmt.Sprint(vr.RoundHeight)
			prevotes = fmt.Sprintf("%d/%d", vr.PrevoteCount, len(vr.Prevotes))
			precommits = fmt.Sprintf("%d/%d", vr.PrecommitCount, len(vr.Precommits))
			hash = shortHash(vr.BlockHash)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Round, r.Proposer, csf.Outcome(r), height, prevotes, precommits, hash, r.Duration)
	}
	tw.Flush()
}

func printSummary(w io.Writer, s *session, view csf.View) {
	sum := view.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run:         %s (%s, seed %d)\n", s.runID, s.cfg.Name, s.sim.Seed())
	fmt.Fprintf(w, "Rounds:      %d committed, %d rejected, %d timed out of %d\n",
		sum.Committed, sum.Rejected, sum.TimedOut, sum.Rounds)
	fmt.Fprintf(w, "Success:     %.1f%% (estimated %.1f%%)\n", sum.SuccessRate, config.EstimateSuccessRate(s.cfg))
	fmt.Fprintf(w, "Messages:    %d sent, %d delivered, %d lost\n",
		sum.Messages.Sent, sum.Messages.Delivered, sum.Messages.Lost)
	fmt.Fprintf(w, "Sim time:    %s\n", sum.SimTime)
	fmt.Fprintf(w, "Liveness:    %s\n", view.Liveness.Status)
	for _, reason := range view.Liveness.Reasons {
		fmt.Fprintf(w, "             - %s\n", reason)
	}
	safety := "safe"
	if !view.Safety.Safe {
		safety = "VIOLATED"
	}
	fmt.Fprintf(w, "Safety:      %s\n", safety)
	for _, reason := range view.Safety.Reasons {
		fmt.Fprintf(w, "             - %s\n", reason)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
