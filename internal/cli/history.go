package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/storage/history"
	"github.com/LeJamon/tmsim/internal/storage/reportdb"
)

var (
	errNoArchive = errors.New("no history archive configured (set storage.backend)")
	errNoReport  = errors.New("no report database configured (set report.driver)")
)

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		from, to int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived rounds",
		Long: `List rounds archived by earlier runs in the configured storage backend.
--from and --to bound the round numbers, inclusive; --to 0 reads to the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend == config.BackendNone {
				return errNoArchive
			}
			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			archive, err := history.Open(cfg.Storage.Backend, cfg.Storage.Path, history.Options{
				CacheSize: cfg.Storage.CacheSize,
				Logger:    log,
			})
			if err != nil {
				return err
			}
			defer archive.Close()

			records, err := archive.Rounds(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			w := out(cmd)
			if asJSON {
				enc := json.NewEncoder(w)
				for _, rec := range records {
					if err := enc.Encode(rec); err != nil {
						return err
					}
				}
				return nil
			}
			if len(records) == 0 {
				fmt.Fprintln(w, "no archived rounds")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUND\tHEIGHT\tPROPOSER\tOUTCOME\tBLOCK\tSAFE")
			for _, rec := range records {
				hash := "-"
				if rec.Block != nil {
					hash = shortHash(rec.Block.Hash)
				}
				height := "-"
				if h := rec.Height(); h > 0 {
					height = fmt.Sprint(h)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%t\n", rec.Round, height, rec.Proposer, rec.Outcome, hash, rec.Safety)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&from, "from", 1, "first round")
	cmd.Flags().IntVar(&to, "to", 0, "last round, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON record per line")
	cmd.AddCommand(newHistoryRunsCmd(g))
	return cmd
}

func newHistoryRunsCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List run summaries from the report database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Report.Driver == config.DriverNone {
				return errNoReport
			}
			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := reportdb.Open(cmd.Context(), cfg.Report.Driver, cfg.Report.DSN, log)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tPRESET\tSEED\tNODES\tROUNDS\tCOMMITTED\tTIMEOUTS\tSUCCESS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
					shortHash(r.ID), r.CreatedAt.Format("2006-01-02 15:04:05"), r.Preset, r.Seed,
					r.NodeCount, r.Rounds, r.Committed, r.Timeouts, r.SuccessRate)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}
