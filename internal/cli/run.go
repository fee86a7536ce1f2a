package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/store"
	"github.com/me/rrsched/pkg/model"
)

func newRunCmd() *cobra.Command {
	var frames int
	var seed uint64
	var dbPath string
	var name string

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Schedule a scenario for a number of frames and print the totals",
		Long: `Runs the configured engine over a scenario file frame by frame. Each frame
feeds the scenario's traffic, schedules one interval, delivers the bursts
through HARQ and records probes.

With --db (or db_path in the config) the run and its per-frame probes are
stored and can be inspected with "rrsched serve".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			if flags.Changed("frames") {
				cfg.Run.Frames = frames
			}
			if flags.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if !flags.Changed("db") {
				dbPath = cfg.DBPath
			}
			if cfg.Run.Frames <= 0 {
				return fmt.Errorf("frames must be positive, got %d", cfg.Run.Frames)
			}

			eng, err := newEngine(cfg, args[0], logger)
			if err != nil {
				return err
			}

			lc := scheduler.Config{Frames: cfg.Run.Frames}
			var st store.Store
			var run *model.Run
			if dbPath != "" {
				sq, err := openStore(ctx, dbPath, logger)
				if err != nil {
					return err
				}
				defer sq.Close()
				st = sq
				if run, err = eng.newRun(ctx, st, cfg, name); err != nil {
					return err
				}
				lc.RunID = run.ID
			}

			loop := eng.loop(st, lc, logger)
			start := time.Now()
			totals, runErr := loop.Run(ctx, cfg.Run.Frames)
			if run != nil {
				if err := finishRun(context.WithoutCancel(ctx), st, run, loop.Frame(), runErr); err != nil {
					logger.Error("finish run", "run_id", run.ID, "error", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}

			var runID string
			if run != nil {
				runID = run.ID
			}
			printTotals(cmd.OutOrStdout(), eng.scenario.Name, runID, totals, frameDuration(cfg), time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Number of frames to run (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Decoder random seed (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Record the run into this SQLite database")
	cmd.Flags().StringVar(&name, "name", "", "Optional run name")

	return cmd
}

// printTotals writes a human-readable summary of a finished run.
func printTotals(w io.Writer, scenarioName, runID string, t scheduler.Totals, frameDur, elapsed time.Duration) {
	fmt.Fprintf(w, "Scenario:     %s\n", scenarioName)
	if runID != "" {
		fmt.Fprintf(w, "Run:          %s\n", runID)
	}
	fmt.Fprintf(w, "Frames:       %s (%s airtime, %s wall)\n",
		humanize.Comma(int64(t.Frames)), time.Duration(t.Frames)*frameDur, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Bursts:       %s (%s retransmissions)\n",
		humanize.Comma(int64(t.Bursts)), humanize.Comma(int64(t.Retransmitted)))
	fmt.Fprintf(w, "Arrived:      %s\n", humanize.SIWithDigits(float64(t.BitsArrived), 1, "bit"))
	fmt.Fprintf(w, "Scheduled:    %s\n", humanize.SIWithDigits(float64(t.BitsScheduled), 1, "bit"))
	fmt.Fprintf(w, "Delivered:    %s (%s)\n",
		humanize.SIWithDigits(float64(t.BitsDelivered), 1, "bit"), percent(t.BitsDelivered, t.BitsArrived))
	fmt.Fprintf(w, "Drops:        %s\n", humanize.Comma(int64(t.Drops)))
	fmt.Fprintf(w, "Utilization:  %.1f%%\n", 100*t.Utilization)
	if air := time.Duration(t.Frames) * frameDur; air > 0 {
		fmt.Fprintf(w, "Throughput:   %s\n", humanize.SIWithDigits(float64(t.BitsDelivered)/air.Seconds(), 1, "bit/s"))
	}
}

func percent(part, whole int64) string {
	if whole == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(whole))
}
