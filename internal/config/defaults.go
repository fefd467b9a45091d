package config

import "github.com/spf13/viper"

// Option values.
const (
	RoutingBroadcast = "broadcast"
	RoutingGraph     = "graph"

	DurationOff = "off"

	LogMinimal = "minimal"
	LogNormal  = "normal"
	LogVerbose = "verbose"

	BackendNone    = "none"
	BackendBbolt   = "bbolt"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"

	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	LayoutNone     = "none"
	LayoutCircular = "circular"
	LayoutForce    = "force-directed"
)

// setDefaults sets every default value of the simulator.
func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "Default")

	// Network defaults
	v.SetDefault("network.node_count", 4)
	v.SetDefault("network.latency", 100)
	v.SetDefault("network.packet_loss", 0.0)
	v.SetDefault("network.message_timeout", 5000)
	v.SetDefault("network.synchronous", false)
	v.SetDefault("network.routing", RoutingBroadcast)

	// Consensus defaults
	v.SetDefault("consensus.round_timeout", 15000)
	v.SetDefault("consensus.vote_threshold", 0.67)
	v.SetDefault("consensus.block_size", 10)
	v.SetDefault("consensus.proposal_delay", 100)
	v.SetDefault("consensus.timeout_multiplier", 1.5)
	v.SetDefault("consensus.timeout_escalation", true)
	v.SetDefault("consensus.min_timeout", 1000)
	v.SetDefault("consensus.max_timeout", 30000)

	// Node behavior defaults
	v.SetDefault("node_behavior.byzantine_count", 0)
	v.SetDefault("node_behavior.byzantine_type", "faulty")
	v.SetDefault("node_behavior.downtime_percentage", 0.0)
	v.SetDefault("node_behavior.response_variance", 50)
	v.SetDefault("node_behavior.malicious_probability", 0.5)

	// Simulation defaults
	v.SetDefault("simulation.transaction_rate", "medium")
	v.SetDefault("simulation.transaction_pool_size", 50)
	v.SetDefault("simulation.duration_limit", DurationOff)
	v.SetDefault("simulation.log_level", LogNormal)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.tick_interval_ms", 0)
	v.SetDefault("simulation.step_history_limit", 50)

	// Topology defaults
	v.SetDefault("topology.type", "full-mesh")
	v.SetDefault("topology.edge_probability", 0.3)
	v.SetDefault("topology.node_degree", 2)
	v.SetDefault("topology.layout", LayoutCircular)

	// Partition defaults
	v.SetDefault("partition.active", false)
	v.SetDefault("partition.type", "split")

	// Storage defaults
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.path", "tmsim-history")
	v.SetDefault("storage.cache_size", 128)

	// Report defaults
	v.SetDefault("report.driver", DriverNone)
	v.SetDefault("report.dsn", "")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.send_queue_limit", 256)
}
