package tendermint

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// DefaultStepHistoryLimit bounds how many snapshots a Stepper keeps for Previous.
const DefaultStepHistoryLimit = 50

// Snapshot is the full stepwise position: engine state plus the round view.
type Snapshot struct {
	State   State     `json:"state"`
	Step    StepState `json:"step"`
	Started bool      `json:"started"`
}

// Stepper drives the round machine one step at a time with back and forward
// navigation. Going back restores a snapshot exactly; going forward again
// replays the recorded snapshot instead of drawing new random values.
type Stepper struct {
	engine    *Engine
	current   Snapshot
	roundBase Snapshot
	back      []Snapshot
	forward   []Snapshot
	limit     int
}

// NewStepper starts stepwise execution from st.
func NewStepper(engine *Engine, st State, limit int) *Stepper {
	if limit <= 0 {
		limit = DefaultStepHistoryLimit
	}
	initial := Snapshot{State: st}
	return &Stepper{engine: engine, current: initial, roundBase: initial, limit: limit}
}

// Current returns the present snapshot.
func (s *Stepper) Current() Snapshot {
	return s.current
}

// State returns the engine state at the present position.
func (s *Stepper) State() State {
	return s.current.State
}

// NextStep returns the step Next will execute.
func (s *Stepper) NextStep() consensus.Step {
	if !s.current.Started {
		return consensus.StepRoundStart
	}
	return s.current.Step.Step.Next()
}

// Next executes the following step. After StepRoundComplete it starts the
// next round.
func (s *Stepper) Next(now time.Time) StepState {
	s.push(s.current)
	if n := len(s.forward); n > 0 {
		s.current = s.forward[n-1]
		s.forward = s.forward[:n-1]
		s.trackRoundBase()
		return s.current.Step
	}

	step := s.NextStep()
	if step == consensus.StepRoundStart {
		s.roundBase = s.current
	}
	st, rs := s.engine.ExecuteStep(step, s.current.State, s.current.Step, now)
	s.current = Snapshot{State: st, Step: rs, Started: true}
	return rs
}

// Previous restores the snapshot before the last step. It reports false
// when no history is left.
func (s *Stepper) Previous() (StepState, bool) {
	n := len(s.back)
	if n == 0 {
		return s.current.Step, false
	}
	s.forward = append(s.forward, s.current)
	s.current = s.back[n-1]
	s.back = s.back[:n-1]
	s.trackRoundBase()
	return s.current.Step, true
}

// GoToRoundStart abandons the round in progress and returns to the state
// before its first step.
func (s *Stepper) GoToRoundStart() {
	if !s.current.Started || s.current.Step.Step.IsLast() {
		return
	}
	s.push(s.current)
	s.forward = nil
	s.current = s.roundBase
}

// CanGoBack reports whether Previous has a snapshot to restore.
func (s *Stepper) CanGoBack() bool {
	return len(s.back) > 0
}

// CanGoForward reports whether Next will replay a recorded snapshot.
func (s *Stepper) CanGoForward() bool {
	return len(s.forward) > 0
}

// HistoryLen returns the number of snapshots available to Previous.
func (s *Stepper) HistoryLen() int {
	return len(s.back)
}

func (s *Stepper) push(snap Snapshot) {
	s.back = append(s.back, snap)
	if over := len(s.back) - s.limit; over > 0 {
		s.back = append([]Snapshot(nil), s.back[over:]...)
	}
}

// trackRoundBase re-derives the pre-round snapshot after navigation. The
// base is the latest snapshot in history that sits between rounds.
func (s *Stepper) trackRoundBase() {
	if !s.current.Started || s.current.Step.Step.IsLast() {
		s.roundBase = s.current
		return
	}
	for i := len(s.back) - 1; i >= 0; i-- {
		if b := s.back[i]; !b.Started || b.Step.Step.IsLast() {
			s.roundBase = b
			return
		}
	}
}
