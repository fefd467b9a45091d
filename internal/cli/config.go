package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/LeJamon/tmsim/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate simulator configuration",
	}
	cmd.AddCommand(newConfigShowCmd(g), newConfigPresetsCmd(), newConfigValidateCmd(g))
	return cmd
}

func newConfigShowCmd(g *globals) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out(cmd))
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	return cmd
}

func newConfigPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tNODES\tLATENCY\tTHRESHOLD\tBYZANTINE\tTOPOLOGY\tEST. SUCCESS")
			for _, name := range config.PresetNames() {
				cfg, err := config.Preset(name)
				if err != nil {
					return err
				}
				s := config.Summarize(cfg)
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%.1f%%\n",
					name, s.Nodes, s.Latency, s.Threshold, s.Byzantine, s.Topology, s.EstimatedSuccess)
			}
			return tw.Flush()
		},
	}
}

func newConfigValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print warnings and estimates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			w := out(cmd)
			s := config.Summarize(cfg)
			fmt.Fprintf(w, "Configuration %q is valid\n", s.Name)
			fmt.Fprintf(w, "  nodes:              %d\n", s.Nodes)
			fmt.Fprintf(w, "  threshold:          %s\n", s.Threshold)
			fmt.Fprintf(w, "  byzantine:          %s (max tolerated %d)\n", s.Byzantine, config.MaxByzantine(s.Nodes))
			fmt.Fprintf(w, "  estimated success:  %.1f%%\n", s.EstimatedSuccess)
			fmt.Fprintf(w, "  estimated time:     %dms\n", s.EstimatedTimeMs)
			fmt.Fprintf(w, "  can reach quorum:   %t\n", s.CanReachConsensus)
			for _, warning := range config.Warnings(cfg) {
				fmt.Fprintf(w, "warning: %s\n", warning)
			}
			return nil
		},
	}
}
