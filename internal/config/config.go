package config

import (
	"fmt"
	"time"
)

// Config is the complete simulator configuration.
type Config struct {
	Name         string             `toml:"name" mapstructure:"name" yaml:"name" json:"name"`
	Network      NetworkConfig      `toml:"network" mapstructure:"network" yaml:"network" json:"network"`
	Consensus    ConsensusConfig    `toml:"consensus" mapstructure:"consensus" yaml:"consensus" json:"consensus"`
	NodeBehavior NodeBehaviorConfig `toml:"node_behavior" mapstructure:"node_behavior" yaml:"node_behavior" json:"node_behavior"`
	Simulation   SimulationConfig   `toml:"simulation" mapstructure:"simulation" yaml:"simulation" json:"simulation"`
	Topology     TopologyConfig     `toml:"topology" mapstructure:"topology" yaml:"topology" json:"topology"`
	Partition    PartitionConfig    `toml:"partition" mapstructure:"partition" yaml:"partition" json:"partition"`
	Storage      StorageConfig      `toml:"storage" mapstructure:"storage" yaml:"storage" json:"storage"`
	Report       ReportConfig       `toml:"report" mapstructure:"report" yaml:"report" json:"report"`
	Server       ServerConfig       `toml:"server" mapstructure:"server" yaml:"server" json:"server"`

	// Internal fields for configuration management
	configPath string `toml:"-" mapstructure:"-" yaml:"-" json:"-"`
	preset     string `toml:"-" mapstructure:"-" yaml:"-" json:"-"`
}

// NetworkConfig describes message delivery. Times are in milliseconds.
type NetworkConfig struct {
	NodeCount      int     `toml:"node_count" mapstructure:"node_count" yaml:"node_count" json:"node_count"`
	Latency        int     `toml:"latency" mapstructure:"latency" yaml:"latency" json:"latency"`
	PacketLoss     float64 `toml:"packet_loss" mapstructure:"packet_loss" yaml:"packet_loss" json:"packet_loss"`
	MessageTimeout int     `toml:"message_timeout" mapstructure:"message_timeout" yaml:"message_timeout" json:"message_timeout"`
	Synchronous    bool    `toml:"synchronous" mapstructure:"synchronous" yaml:"synchronous" json:"synchronous"`
	Routing        string  `toml:"routing" mapstructure:"routing" yaml:"routing" json:"routing"` // broadcast or graph
}

// ConsensusConfig describes round timing and quorum. Times are in milliseconds.
type ConsensusConfig struct {
	RoundTimeout      int     `toml:"round_timeout" mapstructure:"round_timeout" yaml:"round_timeout" json:"round_timeout"`
	VoteThreshold     float64 `toml:"vote_threshold" mapstructure:"vote_threshold" yaml:"vote_threshold" json:"vote_threshold"`
	BlockSize         int     `toml:"block_size" mapstructure:"block_size" yaml:"block_size" json:"block_size"`
	ProposalDelay     int     `toml:"proposal_delay" mapstructure:"proposal_delay" yaml:"proposal_delay" json:"proposal_delay"`
	TimeoutMultiplier float64 `toml:"timeout_multiplier" mapstructure:"timeout_multiplier" yaml:"timeout_multiplier" json:"timeout_multiplier"`
	TimeoutEscalation bool    `toml:"timeout_escalation" mapstructure:"timeout_escalation" yaml:"timeout_escalation" json:"timeout_escalation"`
	MinTimeout        int     `toml:"min_timeout" mapstructure:"min_timeout" yaml:"min_timeout" json:"min_timeout"`
	MaxTimeout        int     `toml:"max_timeout" mapstructure:"max_timeout" yaml:"max_timeout" json:"max_timeout"`
}

// NodeBehaviorConfig describes faults.
type NodeBehaviorConfig struct {
	ByzantineCount       int     `toml:"byzantine_count" mapstructure:"byzantine_count" yaml:"byzantine_count" json:"byzantine_count"`
	ByzantineType        string  `toml:"byzantine_type" mapstructure:"byzantine_type" yaml:"byzantine_type" json:"byzantine_type"`
	DowntimePercentage   float64 `toml:"downtime_percentage" mapstructure:"downtime_percentage" yaml:"downtime_percentage" json:"downtime_percentage"`
	ResponseVariance     int     `toml:"response_variance" mapstructure:"response_variance" yaml:"response_variance" json:"response_variance"`
	MaliciousProbability float64 `toml:"malicious_probability" mapstructure:"malicious_probability" yaml:"malicious_probability" json:"malicious_probability"`
}

// SimulationConfig drives the harness.
type SimulationConfig struct {
	TransactionRate     string `toml:"transaction_rate" mapstructure:"transaction_rate" yaml:"transaction_rate" json:"transaction_rate"`
	TransactionPoolSize int    `toml:"transaction_pool_size" mapstructure:"transaction_pool_size" yaml:"transaction_pool_size" json:"transaction_pool_size"`
	DurationLimit       string `toml:"duration_limit" mapstructure:"duration_limit" yaml:"duration_limit" json:"duration_limit"`
	LogLevel            string `toml:"log_level" mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Seed                int64  `toml:"seed" mapstructure:"seed" yaml:"seed" json:"seed"`                                                 // 0 derives one from the clock
	TickInterval        int    `toml:"tick_interval_ms" mapstructure:"tick_interval_ms" yaml:"tick_interval_ms" json:"tick_interval_ms"` // 0 uses round durations
	StepHistoryLimit    int    `toml:"step_history_limit" mapstructure:"step_history_limit" yaml:"step_history_limit" json:"step_history_limit"`
}

// EdgeConfig is one custom topology edge.
type EdgeConfig struct {
	Source        int      `toml:"source" mapstructure:"source" yaml:"source" json:"source"`
	Target        int      `toml:"target" mapstructure:"target" yaml:"target" json:"target"`
	Latency       *int     `toml:"latency" mapstructure:"latency" yaml:"latency,omitempty" json:"latency"`
	PacketLoss    *float64 `toml:"packet_loss" mapstructure:"packet_loss" yaml:"packet_loss,omitempty" json:"packet_loss"`
	Bidirectional bool     `toml:"bidirectional" mapstructure:"bidirectional" yaml:"bidirectional" json:"bidirectional"`
}

// TopologyConfig describes validator connectivity.
type TopologyConfig struct {
	Type            string       `toml:"type" mapstructure:"type" yaml:"type" json:"type"`
	EdgeProbability float64      `toml:"edge_probability" mapstructure:"edge_probability" yaml:"edge_probability" json:"edge_probability"`
	NodeDegree      int          `toml:"node_degree" mapstructure:"node_degree" yaml:"node_degree" json:"node_degree"`
	Edges           []EdgeConfig `toml:"edges" mapstructure:"edges" yaml:"edges,omitempty" json:"edges"`
	Layout          string       `toml:"layout" mapstructure:"layout" yaml:"layout" json:"layout"`
}

// PartitionConfig describes the initial partition.
type PartitionConfig struct {
	Active bool   `toml:"active" mapstructure:"active" yaml:"active" json:"active"`
	Type   string `toml:"type" mapstructure:"type" yaml:"type" json:"type"`
}

// StorageConfig selects the history archive backend.
type StorageConfig struct {
	Backend   string `toml:"backend" mapstructure:"backend" yaml:"backend" json:"backend"`
	Path      string `toml:"path" mapstructure:"path" yaml:"path" json:"path"`
	CacheSize int    `toml:"cache_size" mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
}

// ReportConfig selects the run summary database.
type ReportConfig struct {
	Driver string `toml:"driver" mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `toml:"dsn" mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `toml:"addr" mapstructure:"addr" yaml:"addr" json:"addr"`
	SendQueueLimit int    `toml:"send_queue_limit" mapstructure:"send_queue_limit" yaml:"send_queue_limit" json:"send_queue_limit"`
}

// GetConfigPath returns the file the configuration was read from, if any.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// GetPreset returns the preset the configuration started from, if any.
func (c *Config) GetPreset() string {
	return c.preset
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	if c.Topology.Edges != nil {
		out.Topology.Edges = append([]EdgeConfig(nil), c.Topology.Edges...)
	}
	return &out
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// LatencyDuration returns the global message latency.
func (n NetworkConfig) LatencyDuration() time.Duration { return ms(n.Latency) }

// MessageTimeoutDuration returns the per-message timeout.
func (n NetworkConfig) MessageTimeoutDuration() time.Duration { return ms(n.MessageTimeout) }

// GraphRouting reports whether votes travel over the topology.
func (n NetworkConfig) GraphRouting() bool { return n.Routing == RoutingGraph }

// RoundTimeoutDuration returns the base round timeout.
func (c ConsensusConfig) RoundTimeoutDuration() time.Duration { return ms(c.RoundTimeout) }

// ProposalDelayDuration returns the delay before a proposal is broadcast.
func (c ConsensusConfig) ProposalDelayDuration() time.Duration { return ms(c.ProposalDelay) }

// MinTimeoutDuration returns the lower escalation bound.
func (c ConsensusConfig) MinTimeoutDuration() time.Duration { return ms(c.MinTimeout) }

// MaxTimeoutDuration returns the upper escalation bound.
func (c ConsensusConfig) MaxTimeoutDuration() time.Duration { return ms(c.MaxTimeout) }

// ResponseVarianceDuration returns the spread of validator response times.
func (b NodeBehaviorConfig) ResponseVarianceDuration() time.Duration { return ms(b.ResponseVariance) }

// TickIntervalDuration returns the fixed tick interval, or 0 when ticks
// follow round durations.
func (s SimulationConfig) TickIntervalDuration() time.Duration { return ms(s.TickInterval) }

// DurationLimitValue converts the duration limit option. Off returns 0.
func (s SimulationConfig) DurationLimitValue() (time.Duration, error) {
	switch s.DurationLimit {
	case "", DurationOff:
		return 0, nil
	case "5min":
		return 5 * time.Minute, nil
	case "10min":
		return 10 * time.Minute, nil
	case "30min":
		return 30 * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration limit %q", s.DurationLimit)
	}
}

// LatencyDuration returns the edge latency override, or nil.
func (e EdgeConfig) LatencyDuration() *time.Duration {
	if e.Latency == nil {
		return nil
	}
	d := ms(*e.Latency)
	return &d
}
