package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/tmsim/internal/rpc"
)

type serveOptions struct {
	addr      string
	pace      time.Duration
	speed     float64
	autostart bool
	history   int
}

func newServeCmd(g *globals) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and event stream",
		Long: `Start the HTTP control API and websocket event stream:
  GET  /api/state, /api/topology, /api/config
  POST /api/start, /api/stop, /api/reset, /api/step, /api/step/back,
       /api/step/restart, /api/partition, /api/mode, /api/preset
  GET  /ws  (JSON frames {type, runId, data})

Simulated time advances with the wall clock while play is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().DurationVar(&opts.pace, "pace", 100*time.Millisecond, "wall-clock interval between clock advances")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "simulated time per wall-clock time")
	cmd.Flags().BoolVar(&opts.autostart, "autostart", false, "start continuous play immediately")
	cmd.Flags().IntVar(&opts.history, "history", 20, "voting rounds returned by /api/state")
	return cmd
}

func serve(cmd *cobra.Command, g *globals, opts *serveOptions) error {
	s, err := g.openSession(cmd, sessionOptions{bus: true})
	if err != nil {
		return err
	}
	defer s.Close()

	addr := opts.addr
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	api := rpc.NewServer(s.sim, s.bus, rpc.Options{
		Logger:         s.log,
		RunID:          s.runID,
		SendQueueLimit: s.cfg.Server.SendQueueLimit,
		HistoryLimit:   opts.history,
	})
	s.bus.Start()
	if opts.autostart {
		if err := s.sim.Start(); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		s.log.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		return s.sim.Run(ctx, opts.pace, opts.speed)
	})
	grp.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		api.Hub().Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(out(cmd), "tmsim serving %s on http://%s (run %s)\n", s.cfg.Name, displayAddr(addr), s.runID)

	err = grp.Wait()
	if _, rerr := s.saveReport(context.Background()); rerr != nil {
		s.log.Error("failed to save run report", zap.Error(rerr))
	}
	return err
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
