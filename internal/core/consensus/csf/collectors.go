package csf

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
)

// Collector observes every finished round.
type Collector interface {
	// On is called once per round, in round order.
	On(when SimTime, result tendermint.RoundResult)
}

// CollectorFunc is a function adapter for Collector.
type CollectorFunc func(when SimTime, result tendermint.RoundResult)

func (f CollectorFunc) On(when SimTime, result tendermint.RoundResult) {
	f(when, result)
}

// Resetter is implemented by collectors that drop their data on Sim.Reset.
type Resetter interface {
	Reset()
}

// Collectors fans a round out to a set of collectors.
type Collectors struct {
	mu         sync.Mutex
	collectors []Collector
}

// NewCollectors creates an empty collector set.
func NewCollectors() *Collectors {
	return &Collectors{}
}

// Add adds a collector.
func (c *Collectors) Add(collector Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors = append(c.collectors, collector)
}

// On dispatches a round to all collectors.
func (c *Collectors) On(when SimTime, result tendermint.RoundResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, collector := range c.collectors {
		collector.On(when, result)
	}
}

// Reset resets every collector that supports it.
func (c *Collectors) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, collector := range c.collectors {
		if r, ok := collector.(Resetter); ok {
			r.Reset()
		}
	}
}

// SimDurationCollector tracks the simulated time spanned by the observed rounds.
type SimDurationCollector struct {
	Start SimTime
	Stop  SimTime
	seen  bool
}

func (c *SimDurationCollector) On(when SimTime, result tendermint.RoundResult) {
	if !c.seen || when < c.Start {
		c.Start = when
	}
	if end := when + SimTime(result.Duration); end > c.Stop {
		c.Stop = end
	}
	c.seen = true
}

// Duration returns the simulated time between the first round start and
// the last round end.
func (c *SimDurationCollector) Duration() SimDuration {
	return SimDuration(c.Stop - c.Start)
}

func (c *SimDurationCollector) Reset() {
	*c = SimDurationCollector{}
}

// RoundCounter aggregates session statistics.
type RoundCounter struct {
	mu sync.Mutex

	Rounds        int           `json:"rounds"`
	Committed     int           `json:"committed"`
	Rejected      int           `json:"rejected"`
	TimedOut      int           `json:"timeouts"`
	Equivocations int           `json:"equivocations"`
	Violations    int           `json:"safetyViolations"`
	Unsafe        int           `json:"unsafeRounds"`
	Messages      network.Stats `json:"messages"`
	SimTime       time.Duration `json:"simTime"`
}

// NewRoundCounter creates an empty counter.
func NewRoundCounter() *RoundCounter {
	return &RoundCounter{}
}

func (c *RoundCounter) On(_ SimTime, r tendermint.RoundResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Rounds++
	switch {
	case r.TimedOut:
		c.TimedOut++
	case r.Committed():
		c.Committed++
	default:
		c.Rejected++
	}
	if r.Evidence != nil && r.Evidence.Equivocates {
		c.Equivocations++
	}
	c.Violations += len(r.Violations)
	if !r.NewSafety {
		c.Unsafe++
	}
	c.Messages = c.Messages.Add(r.Stats)
	c.SimTime += r.Duration
}

// RoundSummary is a point-in-time copy of a RoundCounter.
type RoundSummary struct {
	Rounds        int           `json:"rounds"`
	Committed     int           `json:"committed"`
	Rejected      int           `json:"rejected"`
	TimedOut      int           `json:"timeouts"`
	Equivocations int           `json:"equivocations"`
	Violations    int           `json:"safetyViolations"`
	Unsafe        int           `json:"unsafeRounds"`
	Messages      network.Stats `json:"messages"`
	SimTime       time.Duration `json:"simTime"`
	SuccessRate   float64       `json:"successRate"`
	TimeoutRate   float64       `json:"timeoutRate"`
}

// Summary returns the counters with derived rates as percentages.
func (c *RoundCounter) Summary() RoundSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := RoundSummary{
		Rounds:        c.Rounds,
		Committed:     c.Committed,
		Rejected:      c.Rejected,
		TimedOut:      c.TimedOut,
		Equivocations: c.Equivocations,
		Violations:    c.Violations,
		Unsafe:        c.Unsafe,
		Messages:      c.Messages,
		SimTime:       c.SimTime,
	}
	if c.Rounds > 0 {
		s.SuccessRate = float64(c.Committed) / float64(c.Rounds) * 100
		s.TimeoutRate = float64(c.TimedOut) / float64(c.Rounds) * 100
	}
	return s
}

func (c *RoundCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Rounds, c.Committed, c.Rejected, c.TimedOut = 0, 0, 0, 0
	c.Equivocations, c.Violations, c.Unsafe = 0, 0, 0
	c.Messages = network.Stats{}
	c.SimTime = 0
}

// ByProposerCollector keeps one collector per round proposer.
type ByProposerCollector[T Collector] struct {
	collectors map[consensus.NodeID]T
	factory    func() T
}

// NewByProposerCollector creates a collector that fans rounds out by proposer.
func NewByProposerCollector[T Collector](factory func() T) *ByProposerCollector[T] {
	return &ByProposerCollector[T]{
		collectors: make(map[consensus.NodeID]T),
		factory:    factory,
	}
}

func (c *ByProposerCollector[T]) On(when SimTime, r tendermint.RoundResult) {
	collector, ok := c.collectors[r.Proposer]
	if !ok {
		collector = c.factory()
		c.collectors[r.Proposer] = collector
	}
	collector.On(when, r)
}

// Get returns the collector for a proposer and whether it has seen a round.
func (c *ByProposerCollector[T]) Get(id consensus.NodeID) (T, bool) {
	collector, ok := c.collectors[id]
	return collector, ok
}

func (c *ByProposerCollector[T]) Reset() {
	c.collectors = make(map[consensus.NodeID]T)
}

// BlockCollector records every committed block by height.
type BlockCollector struct {
	Blocks map[int][]consensus.Block
}

// NewBlockCollector creates an empty block collector.
func NewBlockCollector() *BlockCollector {
	return &BlockCollector{Blocks: make(map[int][]consensus.Block)}
}

func (c *BlockCollector) On(_ SimTime, r tendermint.RoundResult) {
	if r.NewBlock != nil {
		c.Blocks[r.NewBlock.Height] = append(c.Blocks[r.NewBlock.Height], *r.NewBlock)
	}
}

// Forks returns the heights at which more than one distinct hash committed.
func (c *BlockCollector) Forks() []int {
	var heights []int
	for h, blocks := range c.Blocks {
		seen := make(map[string]bool)
		for _, b := range blocks {
			seen[b.Hash] = true
		}
		if len(seen) > 1 {
			heights = append(heights, h)
		}
	}
	return heights
}

func (c *BlockCollector) Reset() {
	c.Blocks = make(map[int][]consensus.Block)
}

// RoundRecord is one line written by JSONLinesCollector.
type RoundRecord struct {
	Round      int              `json:"round"`
	At         time.Duration    `json:"at"`
	Proposer   consensus.NodeID `json:"proposer"`
	Outcome    string           `json:"outcome"`
	Height     int              `json:"height,omitempty"`
	Hash       string           `json:"hash,omitempty"`
	Prevotes   int              `json:"prevotes"`
	Precommits int              `json:"precommits"`
	Safety     bool             `json:"safety"`
	Liveness   bool             `json:"liveness"`
	Duration   time.Duration    `json:"duration"`
}

// Outcome labels a round result.
func Outcome(r tendermint.RoundResult) string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.Committed():
		return "committed"
	default:
		return "rejected"
	}
}

// NewRoundRecord summarizes a result for line-oriented output.
func NewRoundRecord(when SimTime, r tendermint.RoundResult) RoundRecord {
	rec := RoundRecord{
		Round:    r.Round,
		At:       time.Duration(when),
		Proposer: r.Proposer,
		Outcome:  Outcome(r),
		Safety:   r.NewSafety,
		Liveness: r.NewLiveness,
		Duration: r.Duration,
	}
	if r.VotingRound != nil {
		rec.Height = r.VotingRound.RoundHeight
		rec.Hash = r.VotingRound.BlockHash
		rec.Prevotes = r.VotingRound.PrevoteCount
		rec.Precommits = r.VotingRound.PrecommitCount
	}
	return rec
}

// JSONLinesCollector writes one JSON object per round.
type JSONLinesCollector struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONLinesCollector writes round records to w.
func NewJSONLinesCollector(w io.Writer) *JSONLinesCollector {
	return &JSONLinesCollector{enc: json.NewEncoder(w)}
}

func (c *JSONLinesCollector) On(when SimTime, r tendermint.RoundResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = c.enc.Encode(NewRoundRecord(when, r))
}

// Err returns the first write error, if any.
func (c *JSONLinesCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
