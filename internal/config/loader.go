package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. TMSIM_NETWORK_NODE_COUNT.
const EnvPrefix = "TMSIM"

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// Path is an optional TOML, YAML or JSON file.
	Path string

	// Preset is layered over the defaults before the file is read.
	Preset string
}

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Preset values
// 3. Configuration file
// 4. Environment variables (TMSIM_ prefix)
func LoadConfig(opts LoadOptions) (*Config, error) {
	v := NewViper()
	return LoadFromViper(v, opts)
}

// NewViper returns a viper instance with environment overrides enabled.
// Commands bind their flags to it before calling LoadFromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFromViper resolves the configuration from a prepared viper instance.
func LoadFromViper(v *viper.Viper, opts LoadOptions) (*Config, error) {
	setDefaults(v)

	if opts.Preset != "" {
		if err := applyPreset(v, opts.Preset); err != nil {
			return nil, err
		}
	}

	if opts.Path != "" {
		if err := loadMainConfig(v, opts.Path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.configPath = opts.Path
	cfg.preset = opts.Preset

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadMainConfig reads the configuration file into v.
func loadMainConfig(v *viper.Viper, configPath string) error {
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
