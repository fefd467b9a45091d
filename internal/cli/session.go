package cli

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/config"
	"github.com/LeJamon/tmsim/internal/core/consensus"
	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
	"github.com/LeJamon/tmsim/internal/storage/history"
	"github.com/LeJamon/tmsim/internal/storage/reportdb"
)

// session wires a simulation to the stores selected by the configuration.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	bus     *consensus.EventBus
	sim     *csf.Sim
	archive *history.Archive
	report  *reportdb.DB
	runID   string
}

type sessionOptions struct {
	bus   bool
	epoch time.Time
}

func (g *globals) openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := g.logger(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, log: log, runID: uuid.NewString()}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var sinks []csf.Sink
	if cfg.Storage.Backend != config.BackendNone {
		s.archive, err = history.Open(cfg.Storage.Backend, cfg.Storage.Path, history.Options{
			CacheSize: cfg.Storage.CacheSize,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s.archive)
	}
	if cfg.Report.Driver != config.DriverNone {
		s.report, err = reportdb.Open(cmd.Context(), cfg.Report.Driver, cfg.Report.DSN, log)
		if err != nil {
			return nil, err
		}
	}
	if opts.bus {
		s.bus = consensus.NewEventBus(cfg.Server.SendQueueLimit)
	}

	s.sim, err = csf.NewSim(cfg, csf.Options{
		Logger: log,
		Bus:    s.bus,
		Sinks:  sinks,
		Epoch:  opts.epoch,
	})
	if err != nil {
		return nil, err
	}
	log.Info("session opened",
		zap.String("run", s.runID),
		zap.String("name", cfg.Name),
		zap.Int64("seed", s.sim.Seed()),
		zap.Int("nodes", cfg.Network.NodeCount),
	)
	ok = true
	return s, nil
}

// saveReport stores the session summary when a report database is configured.
func (s *session) saveReport(ctx context.Context) (*reportdb.Run, error) {
	if s.report == nil {
		return nil, nil
	}
	preset := s.cfg.GetPreset()
	if preset == "" {
		preset = s.cfg.Name
	}
	run := reportdb.NewRun(preset, s.sim.Seed(), s.cfg.Network.NodeCount, s.sim.Counter.Summary(), time.Now())
	run.ID = s.runID
	saved, err := s.report.SaveRun(ctx, run)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *session) Close() error {
	var errs []error
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	if s.report != nil {
		errs = append(errs, s.report.Close())
	}
	if s.log != nil {
		s.log.Sync()
	}
	return errors.Join(errs...)
}
