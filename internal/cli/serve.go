package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/server"
	"github.com/me/rrsched/pkg/model"
)

func newServeCmd() *cobra.Command {
	var addr string
	var dbPath string
	var scenarioPath string
	var frames int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs over the probe API",
		Long: `Starts the read-only probe API on --addr. With --scenario a live frame loop
runs alongside the API, paced by run.frame_pacing, and records into a new run
that the API exposes while it progresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("frames") {
				cfg.Run.Frames = frames
			}
			if !flags.Changed("db") {
				dbPath = cfg.DBPath
			}
			if dbPath == "" {
				p, err := defaultDBPath()
				if err != nil {
					return err
				}
				dbPath = p
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			logger.Info("database ready", "path", dbPath)

			var opts []server.Option
			var live *model.Run
			var loop *scheduler.Loop
			if scenarioPath != "" {
				eng, err := newEngine(cfg, scenarioPath, logger)
				if err != nil {
					return err
				}
				if live, err = eng.newRun(ctx, st, cfg, "live"); err != nil {
					return err
				}
				loop = eng.loop(st, scheduler.Config{
					Frames:      cfg.Run.Frames,
					FramePacing: cfg.Run.FramePacing,
					RunID:       live.ID,
				}, logger)
				opts = append(opts, server.WithScheduler(loop, live.ID))
				logger.Info("live run", "run_id", live.ID, "scenario", scenarioPath)
			}

			srv := server.New(cfg.Server, st, logger, opts...)
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			loopDone := srv.StartScheduler(ctx)

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", cfg.Server.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			var failed error
			select {
			case <-ctx.Done():
			case failed = <-serveErr:
			}
			logger.Info("shutting down")

			// Stop the loop before the HTTP server.
			if loop != nil {
				if err := loop.Stop(); err != nil {
					logger.Error("scheduler stop error", "error", err)
				}
				<-loopDone
				if err := finishRun(context.WithoutCancel(ctx), st, live, loop.Frame(), srv.SchedulerErr()); err != nil {
					logger.Error("finish run", "run_id", live.ID, "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("server stopped")
			if failed != nil {
				return fmt.Errorf("serve: %w", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Run database (default ~/.rrsched/rrsched.db)")
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Run this scenario live while serving")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Frames of the live run; 0 runs until shutdown (default from config)")

	return cmd
}
