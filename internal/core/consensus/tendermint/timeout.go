package tendermint

import (
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

// TimeoutController tracks the round deadline. It is a value: every method
// that changes it returns an updated copy.
type TimeoutController struct {
	Base        time.Duration            `json:"baseTimeout"`
	Current     time.Duration            `json:"timeoutDuration"`
	Multiplier  float64                  `json:"multiplier"`
	Min         time.Duration            `json:"minTimeout"`
	Max         time.Duration            `json:"maxTimeout"`
	Escalation  bool                     `json:"escalation"`
	RoundStart  time.Time                `json:"roundStartTime"`
	Consecutive int                      `json:"consecutiveTimeouts"`
	Total       int                      `json:"totalTimeouts"`
	History     []consensus.TimeoutEvent `json:"history"`
}

// NewTimeoutController creates a controller whose first round starts at start.
func NewTimeoutController(base, min, max time.Duration, multiplier float64, escalation bool, start time.Time) TimeoutController {
	return TimeoutController{
		Base:       base,
		Current:    base,
		Multiplier: multiplier,
		Min:        min,
		Max:        max,
		Escalation: escalation,
		RoundStart: start,
	}
}

// Elapsed returns the time spent in the current round.
func (t TimeoutController) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.RoundStart)
}

// Expired reports whether the round deadline passed. Synchronous networks
// never time out.
func (t TimeoutController) Expired(now time.Time, synchronous bool) bool {
	return !synchronous && t.Elapsed(now) >= t.Current
}

// OnTimeout records a timeout of round, escalates the deadline when enabled
// and restarts the round clock.
func (t TimeoutController) OnTimeout(round int, proposer consensus.NodeID, now time.Time) (TimeoutController, consensus.TimeoutEvent) {
	t.Consecutive++
	t.Total++
	ev := consensus.TimeoutEvent{
		Round:           round,
		At:              now,
		Duration:        t.Current,
		EscalationLevel: t.Consecutive,
		Proposer:        proposer,
	}
	t.History = append(append([]consensus.TimeoutEvent(nil), t.History...), ev)

	if t.Escalation && t.Multiplier > 0 {
		t.Current = t.clamp(time.Duration(float64(t.Current) * t.Multiplier))
	}
	t.RoundStart = now
	return t, ev
}

// OnCommit resets the deadline to its base and restarts the round clock.
func (t TimeoutController) OnCommit(now time.Time) TimeoutController {
	t.Current = t.Base
	t.Consecutive = 0
	t.RoundStart = now
	return t
}

// Restart moves the round clock to now without touching the deadline.
func (t TimeoutController) Restart(now time.Time) TimeoutController {
	t.RoundStart = now
	return t
}

// Rate returns total timeouts as a percentage of rounds.
func (t TimeoutController) Rate(rounds int) float64 {
	if rounds <= 0 {
		return 0
	}
	return float64(t.Total) / float64(rounds) * 100
}

func (t TimeoutController) clamp(d time.Duration) time.Duration {
	if t.Min > 0 && d < t.Min {
		return t.Min
	}
	if t.Max > 0 && d > t.Max {
		return t.Max
	}
	return d
}
