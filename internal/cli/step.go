package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
)

type stepOptions struct {
	steps int
	back  int
}

func newStepCmd(g *globals) *cobra.Command {
	opts := &stepOptions{}
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Walk through the round state machine one step at a time",
		Long: `Execute the round state machine step by step, printing what each step
did and which validators it involved. --back undoes steps afterwards to
show that every earlier position is restored exactly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(cmd, g, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.steps, "steps", "n", consensus.NumSteps, "number of steps to execute")
	cmd.Flags().IntVar(&opts.back, "back", 0, "steps to undo after executing")
	return cmd
}

func runSteps(cmd *cobra.Command, g *globals, opts *stepOptions) error {
	if opts.steps <= 0 {
		return fmt.Errorf("--steps must be positive, got %d", opts.steps)
	}
	s, err := g.openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	w := out(cmd)
	for i := 0; i < opts.steps; i++ {
		rs, err := s.sim.Step()
		if err != nil {
			return err
		}
		printStep(w, rs)
	}
	for i := 0; i < opts.back; i++ {
		rs, err := s.sim.StepBack()
		if err != nil {
			return err
		}
		fmt.Fprint(w, "back ")
		printStep(w, rs)
	}
	return nil
}

func printStep(w io.Writer, rs tendermint.StepState) {
	fmt.Fprintf(w, "[round %d] %-15s %s\n", rs.Round, rs.Step, rs.Description)
	if len(rs.Highlighted) > 0 {
		ids := make([]string, len(rs.Highlighted))
		for i, id := range rs.Highlighted {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "           nodes: %s\n", strings.Join(ids, ", "))
	}
	if rs.Step == consensus.StepPrevoteTally || rs.Step == consensus.StepPrecommitTally {
		if vr := rs.VotingRound; vr != nil {
			stage := consensus.StagePrevote
			if rs.Step == consensus.StepPrecommitTally {
				stage = consensus.StagePrecommit
			}
			fmt.Fprintf(w, "           votes: %s\n", formatVotes(vr, stage))
		}
	}
	if rs.Result != nil && rs.Step.IsLast() {
		outcome := "rejected"
		switch {
		case rs.Result.TimedOut:
			outcome = "timed out"
		case rs.Result.Committed():
			outcome = "committed"
		}
		fmt.Fprintf(w, "           round %d %s, next proposer %d\n", rs.Result.Round, outcome, rs.Result.NewProposer)
	}
}

func formatVotes(vr *consensus.VotingRound, stage consensus.Stage) string {
	parts := make([]string, 0, len(vr.Prevotes))
	for _, id := range vr.Voters() {
		parts = append(parts, fmt.Sprintf("%d=%s", id, vr.VoteOf(stage, id)))
	}
	return strings.Join(parts, " ")
}
