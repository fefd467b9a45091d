package consensus

// Step is a state of the round state machine, in execution order.
type Step int

const (
	// StepRoundStart picks the proposer.
	StepRoundStart Step = iota

	// StepBlockProposal builds the block and opens a voting round with every
	// validator registered as a non-voter.
	StepBlockProposal

	// StepPrevote collects prevotes and generates the prevote QC on quorum.
	StepPrevote

	// StepPrevoteTally only exposes the prevote tally.
	StepPrevoteTally

	// StepPrecommit collects precommits, only if prevotes reached quorum.
	StepPrecommit

	// StepPrecommitTally only exposes the precommit tally.
	StepPrecommitTally

	// StepCommit finalizes the round as approved or rejected.
	StepCommit

	// StepRoundComplete resets per-round display state.
	StepRoundComplete
)

// NumSteps is the number of steps in a round.
const NumSteps = int(StepRoundComplete) + 1

var stepNames = [...]string{
	"ROUND_START",
	"BLOCK_PROPOSAL",
	"PREVOTE",
	"PREVOTE_TALLY",
	"PRECOMMIT",
	"PRECOMMIT_TALLY",
	"COMMIT",
	"ROUND_COMPLETE",
}

var stepTitles = [...]string{
	"Round Start",
	"Block Proposal",
	"Prevote Phase",
	"Prevote Tally",
	"Precommit Phase",
	"Precommit Tally",
	"Commit",
	"Round Complete",
}

// String returns the canonical step name.
func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "UNKNOWN"
	}
	return stepNames[s]
}

// Title returns a display title for the step.
func (s Step) Title() string {
	if s < 0 || int(s) >= len(stepTitles) {
		return "Unknown"
	}
	return stepTitles[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Next returns the following step, wrapping to StepRoundStart after completion.
func (s Step) Next() Step {
	if s >= StepRoundComplete {
		return StepRoundStart
	}
	return s + 1
}

// IsLast reports whether the step ends a round.
func (s Step) IsLast() bool {
	return s == StepRoundComplete
}
