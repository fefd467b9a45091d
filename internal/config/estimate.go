package config

import (
	"fmt"
	"math"
)

// MaxByzantine returns the largest Byzantine count the network tolerates.
func MaxByzantine(nodeCount int) int {
	return nodeCount / 3
}

// Warnings lists non-blocking problems with a configuration.
func Warnings(c *Config) []string {
	var warnings []string
	n, b := c.Network, c.NodeBehavior

	max := MaxByzantine(n.NodeCount)
	if b.ByzantineCount > max {
		warnings = append(warnings, fmt.Sprintf("CRITICAL: Byzantine nodes (%d) exceed safety threshold (%d). Protocol WILL fail!", b.ByzantineCount, max))
	} else if b.ByzantineCount == max && max > 0 {
		warnings = append(warnings, "Byzantine nodes at maximum safe threshold (n/3). Consensus may fail frequently.")
	}
	if n.PacketLoss > 20 {
		warnings = append(warnings, "High packet loss may significantly impact consensus performance.")
	}
	if b.DowntimePercentage > 30 {
		warnings = append(warnings, "High node downtime may affect network liveness.")
	}
	if n.NodeCount > 10 && n.Latency > 300 {
		warnings = append(warnings, "Large network with high latency may result in slow consensus.")
	}
	return warnings
}

// EstimateSuccessRate returns a rough percentage of rounds expected to commit.
func EstimateSuccessRate(c *Config) float64 {
	rate := 100.0
	if c.Network.NodeCount > 0 {
		rate -= float64(c.NodeBehavior.ByzantineCount) / float64(c.Network.NodeCount) * 150
	}
	rate -= c.Network.PacketLoss * 0.5
	rate -= c.NodeBehavior.DowntimePercentage * 0.3
	rate = math.Max(0, math.Min(100, rate))
	return math.Round(rate*10) / 10
}

// EstimateConsensusTime returns a rough round time in milliseconds.
func EstimateConsensusTime(c *Config) int {
	base := float64(c.Consensus.RoundTimeout)
	base += float64(c.Network.Latency * 3)
	base += float64((c.Network.NodeCount - 4) * 50)

	failure := c.Network.PacketLoss/100 + c.NodeBehavior.DowntimePercentage/100
	if c.Network.NodeCount > 0 {
		failure += float64(c.NodeBehavior.ByzantineCount) / float64(c.Network.NodeCount)
	}
	return int(math.Round(base * (1 + failure)))
}

// CanReachConsensus reports whether enough honest online validators remain
// to meet the vote threshold.
func CanReachConsensus(c *Config) bool {
	n := float64(c.Network.NodeCount)
	online := n * (1 - c.NodeBehavior.DowntimePercentage/100)
	required := math.Ceil(n * c.Consensus.VoteThreshold)
	effective := online - float64(c.NodeBehavior.ByzantineCount)
	return effective >= required && c.NodeBehavior.ByzantineCount <= MaxByzantine(c.Network.NodeCount)
}

// FormatVoteThreshold renders a threshold for display.
func FormatVoteThreshold(threshold float64) string {
	switch {
	case threshold == 0.67 || math.Abs(threshold-2.0/3.0) < 0.01:
		return "2/3+"
	case threshold == 0.5:
		return "1/2+"
	case threshold == 0.75:
		return "3/4+"
	default:
		return fmt.Sprintf("%.0f%%", threshold*100)
	}
}

// Summary is a compact description of a configuration.
type Summary struct {
	Name              string  `json:"name" yaml:"name"`
	Nodes             int     `json:"nodes" yaml:"nodes"`
	Latency           string  `json:"latency" yaml:"latency"`
	Threshold         string  `json:"threshold" yaml:"threshold"`
	Byzantine         string  `json:"byzantine" yaml:"byzantine"`
	Topology          string  `json:"topology" yaml:"topology"`
	TransactionRate   string  `json:"transactionRate" yaml:"transaction_rate"`
	EstimatedSuccess  float64 `json:"estimatedSuccess" yaml:"estimated_success"`
	EstimatedTimeMs   int     `json:"estimatedTime" yaml:"estimated_time_ms"`
	CanReachConsensus bool    `json:"canReachConsensus" yaml:"can_reach_consensus"`
}

// Summarize describes c.
func Summarize(c *Config) Summary {
	return Summary{
		Name:              c.Name,
		Nodes:             c.Network.NodeCount,
		Latency:           fmt.Sprintf("%dms", c.Network.Latency),
		Threshold:         FormatVoteThreshold(c.Consensus.VoteThreshold),
		Byzantine:         fmt.Sprintf("%d (%s)", c.NodeBehavior.ByzantineCount, c.NodeBehavior.ByzantineType),
		Topology:          c.Topology.Type,
		TransactionRate:   c.Simulation.TransactionRate,
		EstimatedSuccess:  EstimateSuccessRate(c),
		EstimatedTimeMs:   EstimateConsensusTime(c),
		CanReachConsensus: CanReachConsensus(c),
	}
}
