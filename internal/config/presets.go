package config

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"
)

// PresetDefault names the built-in default configuration.
const PresetDefault = "default"

// presets override the defaults. Keys are viper keys.
var presets = map[string]map[string]any{
	PresetDefault: {},
	"smallNetwork": {
		"name":                             "Small Network",
		"network.node_count":               4,
		"network.latency":                  50,
		"network.packet_loss":              0.0,
		"network.message_timeout":          3000,
		"consensus.round_timeout":          3000,
		"consensus.block_size":             5,
		"consensus.proposal_delay":         50,
		"consensus.timeout_multiplier":     1.4,
		"node_behavior.byzantine_count":    0,
		"node_behavior.byzantine_type":     "faulty",
		"node_behavior.response_variance":  25,
		"simulation.transaction_rate":      "low",
		"simulation.transaction_pool_size": 20,
		"simulation.log_level":             LogNormal,
	},
	"largeNetwork": {
		"name":                             "Large Network",
		"network.node_count":               16,
		"network.latency":                  200,
		"network.packet_loss":              0.0,
		"network.message_timeout":          8000,
		"consensus.round_timeout":          8000,
		"consensus.block_size":             20,
		"consensus.proposal_delay":         150,
		"consensus.timeout_multiplier":     1.6,
		"node_behavior.byzantine_count":    0,
		"node_behavior.byzantine_type":     "faulty",
		"node_behavior.response_variance":  100,
		"simulation.transaction_rate":      "high",
		"simulation.transaction_pool_size": 200,
		"simulation.log_level":             LogNormal,
	},
	"byzantineTest": {
		"name":                             "Byzantine Test",
		"network.node_count":               7,
		"network.latency":                  100,
		"network.packet_loss":              5.0,
		"network.message_timeout":          5000,
		"consensus.round_timeout":          5000,
		"consensus.block_size":             10,
		"consensus.proposal_delay":         100,
		"consensus.timeout_multiplier":     1.8,
		"node_behavior.byzantine_count":    2,
		"node_behavior.byzantine_type":     "faulty",
		"node_behavior.response_variance":  50,
		"simulation.transaction_rate":      "medium",
		"simulation.transaction_pool_size": 50,
		"simulation.log_level":             LogVerbose,
	},
	"partitionTest": {
		"name":                              "Partition Test",
		"network.node_count":                6,
		"network.latency":                   150,
		"network.packet_loss":               30.0,
		"network.message_timeout":           6000,
		"consensus.round_timeout":           6000,
		"consensus.block_size":              10,
		"consensus.proposal_delay":          100,
		"consensus.timeout_multiplier":      1.5,
		"node_behavior.byzantine_count":     0,
		"node_behavior.byzantine_type":      "silent",
		"node_behavior.downtime_percentage": 20.0,
		"node_behavior.response_variance":   100,
		"simulation.transaction_rate":       "medium",
		"simulation.transaction_pool_size":  50,
		"simulation.log_level":              LogVerbose,
	},
}

// PresetNames returns every preset name, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyPreset layers a preset over the defaults so files and the
// environment still override it.
func applyPreset(v *viper.Viper, name string) error {
	values, ok := presets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	for key, value := range values {
		v.SetDefault(key, value)
	}
	return nil
}

// Preset returns the configuration of a named preset.
func Preset(name string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := applyPreset(v, name); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.preset = name
	return cfg, nil
}

// Default returns the built-in default configuration.
func Default() *Config {
	cfg, err := Preset(PresetDefault)
	if err != nil {
		panic(err)
	}
	return cfg
}
