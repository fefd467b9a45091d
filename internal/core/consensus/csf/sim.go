package csf

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/detector"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/network"
	"github.com/LeJamon/tmsim/internal/core/topology"
	"github.com/LeJamon/tmsim/internal/logging"
)

// Layout canvas used for node positions.
const (
	canvasWidth  = 800
	canvasHeight = 600
	circleRadius = 200
)

// Sink persists finished rounds. Sink failures are logged and never stop
// the simulation.
type Sink interface {
	SaveRound(ctx context.Context, result tendermint.RoundResult) error
}

// Options configures a Sim beyond its configuration.
type Options struct {
	Logger *zap.Logger
	Bus    *consensus.EventBus
	Sinks  []Sink

	// Epoch is the wall-clock instant of simulated time 0. Zero uses time.Now.
	Epoch time.Time

	// Rand replaces the seeded source, typically with a scripted one in tests.
	Rand consensus.Random
}

// Sim owns a simulation session: the engine state carried across ticks,
// the scheduler that paces continuous play, the stepwise driver and every
// observer of round results. All methods are safe for concurrent use.
type Sim struct {
	mu sync.Mutex

	Scheduler  *Scheduler
	Collectors *Collectors
	Counter    *RoundCounter

	cfg  *config.Config
	opts Options
	log  *zap.Logger
	bus  *consensus.EventBus
	seed int64
	rng  consensus.Random

	engine        *tendermint.Engine
	graph         *topology.Graph
	net           *network.Network
	state         tendermint.State
	stepper       *tendermint.Stepper
	partitionType tendermint.PartitionType

	lastRecorded int
	lastSafe     bool
	nextDue      SimTime
	running      bool
	cancelTick   func()
	playStart    SimTime
	limit        time.Duration
}

// NewSim creates a session from a validated configuration.
func NewSim(cfg *config.Config, opts Options) (*Sim, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = time.Now()
	}

	s := &Sim{
		Scheduler:  NewScheduler(epoch),
		Collectors: NewCollectors(),
		Counter:    NewRoundCounter(),
		cfg:        cfg.Clone(),
		opts:       opts,
		log:        logging.OrNop(opts.Logger).Named("sim"),
		bus:        opts.Bus,
	}
	s.Collectors.Add(s.Counter)
	s.seed = cfg.Simulation.Seed
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}

	if err := s.rebuild(); err != nil {
		return nil, err
	}
	s.log.Info("simulation created",
		zap.String("name", s.cfg.Name),
		zap.Int("nodes", s.cfg.Network.NodeCount),
		zap.Int("byzantine", s.cfg.NodeBehavior.ByzantineCount),
		zap.String("topology", s.cfg.Topology.Type),
		zap.Int64("seed", s.seed),
	)
	return s, nil
}

// rebuild reinitializes every piece of session state from the configuration.
// The random source is reseeded so a reset session replays identically.
func (s *Sim) rebuild() error {
	cfg := s.cfg
	byzType, err := consensus.ParseByzantineType(cfg.NodeBehavior.ByzantineType)
	if err != nil {
		return err
	}
	topoType, err := topology.ParseType(cfg.Topology.Type)
	if err != nil {
		return err
	}
	partType, err := tendermint.ParsePartitionType(cfg.Partition.Type)
	if err != nil {
		return err
	}

	s.rng = s.opts.Rand
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.seed))
	}

	n := cfg.Network.NodeCount
	edges, err := topology.Build(topoType, n, topology.Options{
		EdgeProbability: cfg.Topology.EdgeProbability,
		NodeDegree:      cfg.Topology.NodeDegree,
		CustomEdges:     customEdges(cfg.Topology.Edges),
	}, s.rng)
	if err != nil {
		return fmt.Errorf("failed to build topology: %w", err)
	}
	s.graph = topology.NewGraph(n, edges)

	nodes := tendermint.InitializeNetwork(n, cfg.NodeBehavior.ByzantineCount, byzType)
	nodes = s.graph.AttachNeighbors(nodes)
	switch cfg.Topology.Layout {
	case config.LayoutCircular:
		nodes = topology.ApplyLayout(nodes, topology.CircularLayout(n, canvasWidth/2, canvasHeight/2, circleRadius))
	case config.LayoutForce:
		nodes = topology.ApplyLayout(nodes, topology.ForceDirectedLayout(n, edges, topology.DefaultForceOptions(), s.rng))
	}

	ecfg := tendermint.Config{
		VoteThreshold:      cfg.Consensus.VoteThreshold,
		PacketLoss:         cfg.Network.PacketLoss,
		DowntimePercentage: cfg.NodeBehavior.DowntimePercentage,
		Latency:            cfg.Network.LatencyDuration(),
		ProposalDelay:      cfg.Consensus.ProposalDelayDuration(),
		MessageTimeout:     cfg.Network.MessageTimeoutDuration(),
		ResponseVariance:   cfg.NodeBehavior.ResponseVarianceDuration(),
		Blocks: tendermint.BlockFactory{
			BlockSize:            cfg.Consensus.BlockSize,
			MaliciousProbability: cfg.NodeBehavior.MaliciousProbability,
			PoolSize:             cfg.Simulation.TransactionPoolSize,
		},
		Logger: s.log,
	}
	if cfg.Network.GraphRouting() {
		ecfg.Graph = s.graph
	}
	s.engine = tendermint.NewEngine(ecfg, s.rng)
	s.net = network.New(s.graph, cfg.Network.LatencyDuration(), cfg.Network.PacketLoss, s.rng)

	timeout := tendermint.NewTimeoutController(
		cfg.Consensus.RoundTimeoutDuration(),
		cfg.Consensus.MinTimeoutDuration(),
		cfg.Consensus.MaxTimeoutDuration(),
		cfg.Consensus.TimeoutMultiplier,
		cfg.Consensus.TimeoutEscalation,
		s.Scheduler.NowTime(),
	)
	s.state = tendermint.NewState(nodes, timeout, cfg.Network.Synchronous)
	s.partitionType = partType
	s.stepper = nil
	s.lastRecorded = 0
	s.lastSafe = true
	s.nextDue = s.Scheduler.Now()
	s.limit, err = cfg.Simulation.DurationLimitValue()
	if err != nil {
		return err
	}

	if cfg.Partition.Active {
		s.setPartitionLocked(tendermint.NewPartition(s.state.Nodes, partType, s.rng))
	}
	return nil
}

func customEdges(in []config.EdgeConfig) []topology.Edge {
	out := make([]topology.Edge, 0, len(in))
	for _, e := range in {
		out = append(out, topology.Edge{
			Source:        consensus.NodeID(e.Source),
			Target:        consensus.NodeID(e.Target),
			Latency:       e.LatencyDuration(),
			PacketLoss:    e.PacketLoss,
			Bidirectional: e.Bidirectional,
		})
	}
	return out
}

// Seed returns the seed of the session random source.
func (s *Sim) Seed() int64 {
	return s.seed
}

// Config returns a copy of the active configuration.
func (s *Sim) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// State returns the engine state at the current position.
func (s *Sim) State() tendermint.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Graph returns the validator topology.
func (s *Sim) Graph() *topology.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// AddCollector adds a collector to receive round results.
func (s *Sim) AddCollector(c Collector) {
	s.Collectors.Add(c)
}

// Running reports whether continuous play is active.
func (s *Sim) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stepping reports whether the stepwise driver is active.
func (s *Sim) Stepping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepper != nil
}

// Now returns the current simulated time.
func (s *Sim) Now() SimTime {
	return s.Scheduler.Now()
}

// -----------------------------------------------------------------------------
// Continuous play

// Tick runs one round as a single transition at the current simulated time.
func (s *Sim) Tick() tendermint.RoundResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickLocked()
}

func (s *Sim) tickLocked() tendermint.RoundResult {
	s.leaveStepModeLocked()
	when := s.Scheduler.Now()
	st, result := s.engine.AdvanceRound(s.state, s.Scheduler.NowTime())
	s.state = st
	s.recordLocked(when, result)
	return result
}

// interval is the simulated time between the start of a round and the next.
func (s *Sim) interval(r tendermint.RoundResult) time.Duration {
	d := s.cfg.Simulation.TickIntervalDuration()
	if d <= 0 {
		d = r.Duration
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// RunRounds runs n rounds back to back in simulated time and returns their
// results. Continuous play must be stopped.
func (s *Sim) RunRounds(n int) ([]tendermint.RoundResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSimRunning
	}
	s.leaveStepModeLocked()
	s.mu.Unlock()

	results := make([]tendermint.RoundResult, 0, n)
	var schedule func()
	schedule = func() {
		s.mu.Lock()
		due := s.nextDue
		s.mu.Unlock()
		s.Scheduler.At(due, func() {
			results = append(results, s.Tick())
			if len(results) < n {
				schedule()
			}
		})
	}
	if n > 0 {
		schedule()
	}
	s.Scheduler.StepWhile(func() bool { return len(results) < n })
	return results, nil
}

// Start begins continuous play: a round fires whenever the previous one
// has finished in simulated time. The clock itself is driven by Run or by
// stepping the Scheduler.
func (s *Sim) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSimRunning
	}
	s.leaveStepModeLocked()
	s.running = true
	s.playStart = s.Scheduler.Now()
	s.cancelTick = s.Scheduler.At(s.nextDue, s.onTick)
	s.publishModeLocked()
	s.log.Info("simulation started", zap.Int("round", s.state.Round+1))
	return nil
}

func (s *Sim) onTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	r := s.tickLocked()
	next := s.interval(r)
	if s.limit > 0 && time.Duration(s.Scheduler.Now()-s.playStart)+next >= s.limit {
		s.log.Info("duration limit reached", zap.Duration("limit", s.limit), zap.Int("rounds", s.state.Round))
		s.stopLocked()
		return
	}
	s.cancelTick = s.Scheduler.In(next, s.onTick)
}

// Stop pauses continuous play. It reports whether play was running.
func (s *Sim) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.stopLocked()
	return true
}

func (s *Sim) stopLocked() {
	s.running = false
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	s.publishModeLocked()
	s.log.Info("simulation stopped", zap.Int("rounds", s.state.Round))
}

// Run paces the simulation against the wall clock until ctx is done: every
// pace of real time advances simulated time by pace scaled by speed. The
// clock only moves while continuous play is running.
func (s *Sim) Run(ctx context.Context, pace time.Duration, speed float64) error {
	if pace <= 0 {
		pace = 100 * time.Millisecond
	}
	if speed <= 0 {
		speed = 1
	}
	ticker := time.NewTicker(pace)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
			if s.Running() {
				s.Scheduler.StepFor(time.Duration(float64(pace) * speed))
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Stepwise play

// Step executes the next step of the round machine, entering step mode if
// needed. A new round does not start before the previous one has finished
// in simulated time.
func (s *Sim) Step() (tendermint.StepState, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return tendermint.StepState{}, ErrSimRunning
	}
	due := s.nextDue
	fresh := s.stepper == nil || (s.stepper.NextStep() == consensus.StepRoundStart && !s.stepper.CanGoForward())
	s.mu.Unlock()
	if fresh {
		s.Scheduler.StepUntil(due)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepper == nil {
		s.stepper = tendermint.NewStepper(s.engine, s.state, s.cfg.Simulation.StepHistoryLimit)
		s.publishModeLocked()
	}

	when := s.Scheduler.Now()
	rs := s.stepper.Next(s.Scheduler.NowTime())
	s.state = s.stepper.State()
	s.publishStepLocked(rs)
	if rs.Result != nil && rs.Step.IsLast() && rs.Result.Round > s.lastRecorded {
		s.recordLocked(when, *rs.Result)
	}
	return rs, nil
}

// StepBack restores the position before the last step.
func (s *Sim) StepBack() (tendermint.StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepper == nil {
		return tendermint.StepState{}, ErrNotStepping
	}
	rs, ok := s.stepper.Previous()
	if !ok {
		return rs, fmt.Errorf("%w: no earlier step", ErrNotStepping)
	}
	s.state = s.stepper.State()
	s.publishStepLocked(rs)
	return rs, nil
}

// GoToRoundStart abandons the round in progress in step mode.
func (s *Sim) GoToRoundStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepper == nil {
		return ErrNotStepping
	}
	s.stepper.GoToRoundStart()
	s.state = s.stepper.State()
	s.publishStepLocked(s.stepper.Current().Step)
	return nil
}

// CurrentStep returns the stepwise view, if step mode is active.
func (s *Sim) CurrentStep() (tendermint.StepState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepper == nil {
		return tendermint.StepState{}, false
	}
	return s.stepper.Current().Step, true
}

// leaveStepModeLocked drops an unfinished stepwise round and hands the
// state back to continuous play.
func (s *Sim) leaveStepModeLocked() {
	if s.stepper == nil {
		return
	}
	s.stepper.GoToRoundStart()
	s.state = s.stepper.State()
	s.stepper = nil
	s.publishModeLocked()
}

// -----------------------------------------------------------------------------
// Controls

// TogglePartition lifts the active partition or applies a new one of the
// selected type, and returns the resulting partition.
func (s *Sim) TogglePartition() tendermint.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveStepModeLocked()
	if s.state.Partition.Active {
		s.setPartitionLocked(tendermint.Partition{Type: s.partitionType})
	} else {
		s.setPartitionLocked(tendermint.NewPartition(s.state.Nodes, s.partitionType, s.rng))
	}
	return s.state.Partition
}

// SetPartitionType selects the partition type. An active partition is
// re-drawn with the new type.
func (s *Sim) SetPartitionType(t tendermint.PartitionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitionType = t
	if s.state.Partition.Active {
		s.leaveStepModeLocked()
		s.setPartitionLocked(tendermint.NewPartition(s.state.Nodes, t, s.rng))
	}
}

func (s *Sim) setPartitionLocked(p tendermint.Partition) {
	s.state.Partition = p
	s.state.Nodes = markPartitioned(s.state.Nodes, p)
	if p.Active {
		s.net.Isolate(p.Nodes)
	} else {
		s.net.Isolate(nil)
	}
	s.publish(&consensus.PartitionChangedEvent{
		Active:        p.Active,
		PartitionType: p.Type.String(),
		Nodes:         append([]consensus.NodeID(nil), p.Nodes...),
		Timestamp:     s.Scheduler.NowTime(),
	})
	if p.Active {
		ids := make([]int, len(p.Nodes))
		for i, id := range p.Nodes {
			ids[i] = int(id)
		}
		s.log.Warn("network partitioned", zap.Stringer("type", p.Type), zap.Ints("nodes", ids))
	} else {
		s.log.Info("partition lifted")
	}
}

// markPartitioned flags partitioned nodes offline right away; nodes leaving
// the partition come back online until the next availability draw.
func markPartitioned(nodes []consensus.Node, p tendermint.Partition) []consensus.Node {
	set := p.Set()
	out := consensus.CloneNodes(nodes)
	for i := range out {
		was := out[i].IsPartitioned
		out[i].IsPartitioned = set[out[i].ID]
		switch {
		case out[i].IsPartitioned:
			out[i].IsOnline = false
			out[i].State = consensus.NodePartitioned
		case was:
			out[i].IsOnline = true
			out[i].State = consensus.NodeIdle
		}
	}
	return out
}

// ToggleSynchronous flips synchronous mode and returns the new setting.
func (s *Sim) ToggleSynchronous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveStepModeLocked()
	s.state.Synchronous = !s.state.Synchronous
	s.cfg.Network.Synchronous = s.state.Synchronous
	s.publishModeLocked()
	s.log.Info("synchronous mode changed", zap.Bool("synchronous", s.state.Synchronous))
	return s.state.Synchronous
}

// Reset stops play and starts a fresh session from the configuration.
func (s *Sim) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Sim) resetLocked() error {
	if s.running {
		s.stopLocked()
	}
	s.Scheduler.Reset()
	if err := s.rebuild(); err != nil {
		return err
	}
	s.Collectors.Reset()
	s.publish(&consensus.NetworkResetEvent{NodeCount: len(s.state.Nodes), Timestamp: s.Scheduler.NowTime()})
	s.log.Info("simulation reset", zap.Int("nodes", len(s.state.Nodes)))
	return nil
}

// ApplyConfig validates cfg and resets the session with it. A non-zero
// seed in cfg replaces the session seed.
func (s *Sim) ApplyConfig(cfg *config.Config) error {
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
	if cfg.Simulation.Seed != 0 {
		s.seed = cfg.Simulation.Seed
	}
	return s.resetLocked()
}

// Gossip floods a proposal from origin over the topology and reports how
// far it spread given current availability.
func (s *Sim) Gossip(origin consensus.NodeID) network.FloodResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Flood(origin, network.MsgProposal, nil, s.state.Nodes, network.DefaultTTL, s.Scheduler.NowTime())
}

// -----------------------------------------------------------------------------
// Recording

func (s *Sim) recordLocked(when SimTime, r tendermint.RoundResult) {
	s.lastRecorded = r.Round
	s.nextDue = when + SimTime(s.interval(r))
	s.Collectors.On(when, r)

	at := s.Scheduler.NowTime()
	s.publish(&consensus.RoundStartedEvent{Round: r.Round, Proposer: r.Proposer, Timestamp: at})
	if r.TimedOut && r.Timeout != nil {
		s.publish(&consensus.RoundTimedOutEvent{Timeout: *r.Timeout, NextWindow: s.state.Timeout.Current})
	}
	if r.Evidence != nil && r.Evidence.Equivocates {
		s.publish(&consensus.EquivocationDetectedEvent{
			Height:    r.Evidence.Key.Height,
			Round:     r.Evidence.Key.Round,
			Proposer:  r.Evidence.Key.Proposer,
			Hashes:    append([]string(nil), r.Evidence.Hashes...),
			Timestamp: at,
		})
	}
	for _, v := range r.Violations {
		s.publish(&consensus.ViolationDetectedEvent{
			Kind:        "consistency",
			Height:      v.Height,
			Hashes:      append([]string(nil), v.Hashes...),
			Description: v.String(),
			Timestamp:   at,
		})
	}
	if !r.NewSafety && s.lastSafe && len(r.Violations) == 0 {
		s.publish(&consensus.ViolationDetectedEvent{
			Kind:        "byzantine-threshold",
			Description: fmt.Sprintf("byzantine nodes (%d) exceed threshold (%d)", tendermint.ByzantineCount(s.state.Nodes), detector.MaxByzantine(len(s.state.Nodes))),
			Timestamp:   at,
		})
	}
	s.lastSafe = r.NewSafety
	if r.NewBlock != nil {
		s.publish(&consensus.BlockCommittedEvent{Block: *r.NewBlock, Timestamp: at})
	}
	if r.VotingRound != nil {
		s.publish(&consensus.RoundFinalizedEvent{VotingRound: r.VotingRound, Timestamp: at})
	}

	for _, sink := range s.opts.Sinks {
		if err := sink.SaveRound(context.Background(), r); err != nil {
			s.log.Warn("failed to persist round", zap.Int("round", r.Round), zap.Error(err))
		}
	}
	s.log.Debug("round recorded",
		zap.Int("round", r.Round),
		zap.String("outcome", Outcome(r)),
		zap.Duration("duration", r.Duration),
	)
}

func (s *Sim) publish(ev consensus.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (s *Sim) publishModeLocked() {
	s.publish(&consensus.ModeChangedEvent{
		Synchronous: s.state.Synchronous,
		StepMode:    s.stepper != nil,
		Timestamp:   s.Scheduler.NowTime(),
	})
}

func (s *Sim) publishStepLocked(rs tendermint.StepState) {
	s.publish(&consensus.StepChangedEvent{
		Round:       rs.Round,
		Step:        rs.Step,
		Description: rs.Description,
		Highlighted: append([]consensus.NodeID(nil), rs.Highlighted...),
		Timestamp:   s.Scheduler.NowTime(),
	})
}
