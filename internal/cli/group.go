package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/strategy"
	"github.com/me/rrsched/pkg/model"
)

func newGroupCmd() *cobra.Command {
	var frameN int
	var layers int
	var partition string

	cmd := &cobra.Command{
		Use:   "group <scenario>",
		Short: "Show the spatial grouping the engine picks for one frame",
		Long: `Queues the scenario's traffic up to --frame without scheduling it, then
runs a single interval and prints the spatial groups that interval used.
Grouping needs more than one spatial layer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("layers") {
				cfg.Engine.Grid.Layers = layers
			}
			if cmd.Flags().Changed("partition") {
				cfg.Engine.Partition = partition
			}
			if frameN < 0 {
				return fmt.Errorf("frame must not be negative, got %d", frameN)
			}

			eng, err := newEngine(cfg, args[0], logger)
			if err != nil {
				return err
			}
			for f := 0; f <= frameN; f++ {
				eng.env.Traffic.Feed(f, eng.env.Queue)
			}
			eng.env.Channels.SetFrame(frameN)

			res, err := eng.strategy.RunInterval(cmd.Context(), strategy.Interval{
				Frame:    frameN,
				Registry: eng.env.Registry,
				Queue:    eng.env.Queue,
				Channels: eng.env.Channels,
				Modes:    eng.modes,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Grouping == nil || len(res.Grouping.Groups) == 0 {
				fmt.Fprintf(out, "No grouping in frame %d (layers: %d, grouper: %s).\n",
					frameN, cfg.Engine.Grid.Layers, cfg.Engine.Grouper)
				return nil
			}

			fmt.Fprintf(out, "%-6s  %-30s  %s\n", "GROUP", "USERS (LAYER)", "THROUGHPUT")
			fmt.Fprintf(out, "%-6s  %-30s  %s\n", "-----", "-------------", "----------")
			for i, g := range res.Grouping.Groups {
				fmt.Fprintf(out, "%-6d  %-30s  %s\n", i, members(g), humanize.SIWithDigits(g.Throughput, 1, "bit/s"))
			}
			fmt.Fprintf(out, "\nGain: %.3f  Utilization: %.1f%%  Bursts: %d\n",
				res.Grouping.Gain, 100*res.Utilization, len(res.Bursts))
			return nil
		},
	}

	cmd.Flags().IntVar(&frameN, "frame", 0, "Frame to schedule")
	cmd.Flags().IntVar(&layers, "layers", 0, "Override the number of spatial layers")
	cmd.Flags().StringVar(&partition, "partition", "", "Override the partition search (greedy, optimal)")

	return cmd
}

// members renders a group as "a(0) b(1)" ordered by layer.
func members(g model.Group) string {
	users := slices.Clone(g.Users)
	slices.SortFunc(users, func(a, b model.UserID) int { return g.Patterns[a] - g.Patterns[b] })
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = fmt.Sprintf("%s(%d)", u, g.Patterns[u])
	}
	return strings.Join(parts, " ")
}
