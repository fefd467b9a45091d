// Package cli implements the tmsim command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/logging"
)

// Version is the release version reported by the version command.
var Version = "0.1.0-dev"

// globals holds the persistent flags shared by every command.
type globals struct {
	configFile string
	preset     string
	debug      bool
	quiet      bool
	dev        bool
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"nodes":     "network.node_count",
	"seed":      "simulation.seed",
	"log-level": "simulation.log_level",
	"topology":  "topology.type",
	"byzantine": "node_behavior.byzantine_count",
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "tmsim",
		Short: "tmsim - Tendermint-style BFT consensus simulator",
		Long: `tmsim simulates rounds of a Tendermint-style BFT consensus protocol:
proposer rotation, block proposal, prevote and precommit phases with quorum
certificates, timeouts with escalation, Byzantine validators and network
partitions. It runs headless, step by step, or behind an HTTP/websocket API
for a visualization.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "configuration file path (toml, yaml or json)")
	pf.StringVarP(&g.preset, "preset", "p", "", "start from a named preset")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "only log errors")
	pf.BoolVar(&g.dev, "dev", false, "human-readable console logs")
	pf.Int("nodes", 0, "override network.node_count")
	pf.Int64("seed", 0, "override simulation.seed")
	pf.String("log-level", "", "override simulation.log_level (minimal, normal, verbose)")
	pf.String("topology", "", "override topology.type")
	pf.Int("byzantine", 0, "override node_behavior.byzantine_count")

	root.AddCommand(
		newRunCmd(g),
		newStepCmd(g),
		newServeCmd(g),
		newTopologyCmd(g),
		newConfigCmd(g),
		newHistoryCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves defaults, preset, file, environment and changed
// flags, in increasing priority.
func (g *globals) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.LoadFromViper(v, config.LoadOptions{Path: g.configFile, Preset: g.preset})
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func (g *globals) logger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Simulation.LogLevel, logging.Options{
		Development: g.dev,
		Debug:       g.debug,
		Quiet:       g.quiet,
	})
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
