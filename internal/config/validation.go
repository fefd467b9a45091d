package config

import (
	"fmt"

	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/tendermint"
	"github.com/LeJamon/tmsim/internal/core/topology"
)

// ValidateConfig checks every rule and reports all failures at once.
func ValidateConfig(c *Config) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	// Network validation
	n := c.Network
	if n.NodeCount < 3 || n.NodeCount > 20 {
		add("number of nodes must be between 3 and 20")
	}
	if n.Latency < 0 || n.Latency > 5000 {
		add("network latency must be between 0 and 5000ms")
	}
	if n.PacketLoss < 0 || n.PacketLoss > 100 {
		add("packet loss rate must be between 0%% and 100%%")
	}
	if n.MessageTimeout < 1000 || n.MessageTimeout > 10000 {
		add("message timeout must be between 1000 and 10000ms")
	}
	if n.Routing != RoutingBroadcast && n.Routing != RoutingGraph {
		add("routing must be %q or %q", RoutingBroadcast, RoutingGraph)
	}

	// Consensus validation
	cs := c.Consensus
	if cs.RoundTimeout < 1000 || cs.RoundTimeout > 20000 {
		add("round timeout must be between 1000 and 20000ms")
	}
	if cs.VoteThreshold < 0.5 || cs.VoteThreshold > 1 {
		add("vote threshold must be between 0.5 and 1")
	}
	if cs.BlockSize < 1 || cs.BlockSize > 100 {
		add("block size must be between 1 and 100 transactions")
	}
	if cs.ProposalDelay < 0 || cs.ProposalDelay > 1000 {
		add("proposal delay must be between 0 and 1000ms")
	}
	if cs.TimeoutMultiplier < 1.0 || cs.TimeoutMultiplier > 3.0 {
		add("timeout multiplier must be between 1.0 and 3.0")
	}
	if cs.MinTimeout <= 0 || cs.MaxTimeout < cs.MinTimeout {
		add("timeout bounds must satisfy 0 < min_timeout <= max_timeout")
	}

	// Node behavior validation; more than n/3 Byzantine nodes is allowed
	// so protocol failure can be demonstrated.
	b := c.NodeBehavior
	if b.ByzantineCount < 0 || b.ByzantineCount >= n.NodeCount {
		add("byzantine nodes must be between 0 and %d", n.NodeCount-1)
	}
	if t, err := consensus.ParseByzantineType(b.ByzantineType); err != nil || t == consensus.ByzantineNone {
		add("invalid byzantine type %q", b.ByzantineType)
	}
	if b.DowntimePercentage < 0 || b.DowntimePercentage > 100 {
		add("node downtime must be between 0%% and 100%%")
	}
	if b.ResponseVariance < 0 || b.ResponseVariance > 1000 {
		add("response variance must be between 0 and 1000ms")
	}
	if b.MaliciousProbability < 0 || b.MaliciousProbability > 1 {
		add("malicious probability must be between 0 and 1")
	}

	// Simulation validation
	s := c.Simulation
	if !oneOf(s.TransactionRate, "low", "medium", "high") {
		add("invalid transaction rate %q", s.TransactionRate)
	}
	if s.TransactionPoolSize < 10 || s.TransactionPoolSize > 1000 {
		add("transaction pool size must be between 10 and 1000")
	}
	if _, err := s.DurationLimitValue(); err != nil {
		add("%v", err)
	}
	if !oneOf(s.LogLevel, LogMinimal, LogNormal, LogVerbose) {
		add("invalid log level %q", s.LogLevel)
	}
	if s.TickInterval < 0 {
		add("tick interval must not be negative")
	}
	if s.StepHistoryLimit < 1 {
		add("step history limit must be at least 1")
	}

	validateTopology(c, add)

	if _, err := tendermint.ParsePartitionType(c.Partition.Type); err != nil {
		add("invalid partition type %q", c.Partition.Type)
	}

	// Sinks
	if !oneOf(c.Storage.Backend, BackendNone, BackendBbolt, BackendPebble, BackendLevelDB) {
		add("invalid storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != BackendNone && c.Storage.Path == "" {
		add("storage path is required for backend %q", c.Storage.Backend)
	}
	if c.Storage.CacheSize < 1 {
		add("storage cache size must be at least 1")
	}
	if !oneOf(c.Report.Driver, DriverNone, DriverSQLite, DriverPostgres) {
		add("invalid report driver %q", c.Report.Driver)
	}
	if c.Report.Driver != DriverNone && c.Report.DSN == "" {
		add("report dsn is required for driver %q", c.Report.Driver)
	}
	if c.Server.SendQueueLimit < 1 {
		add("server send queue limit must be at least 1")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateTopology(c *Config, add func(string, ...any)) {
	t := c.Topology
	typ, err := topology.ParseType(t.Type)
	if err != nil {
		add("invalid topology type %q", t.Type)
		return
	}
	if t.EdgeProbability < 0 || t.EdgeProbability > 1 {
		add("edge probability must be between 0 and 1")
	}
	if t.NodeDegree < 1 {
		add("node degree must be at least 1")
	}
	if !oneOf(t.Layout, LayoutNone, LayoutCircular, LayoutForce) {
		add("invalid layout %q", t.Layout)
	}
	if typ == topology.Custom && len(t.Edges) == 0 {
		add("custom topology requires at least one edge")
	}
	for i, e := range t.Edges {
		if e.Source < 1 || e.Source > c.Network.NodeCount || e.Target < 1 || e.Target > c.Network.NodeCount {
			add("edge %d references a node outside 1..%d", i, c.Network.NodeCount)
		}
		if e.Source == e.Target {
			add("edge %d is a self loop", i)
		}
		if e.Latency != nil && *e.Latency < 0 {
			add("edge %d latency must not be negative", i)
		}
		if e.PacketLoss != nil && (*e.PacketLoss < 0 || *e.PacketLoss > 100) {
			add("edge %d packet loss must be between 0%% and 100%%", i)
		}
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
