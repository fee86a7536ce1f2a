package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a recorded run and its aggregated probes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ctx := cmd.Context()

			var run model.Run
			if _, err := client.GetData(ctx, "/api/v1/runs/"+id, &run); err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			var sum model.RunSummary
			if _, err := client.GetData(ctx, "/api/v1/runs/"+id+"/summary", &sum); err != nil {
				return fmt.Errorf("get summary: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run: %s\n", run.ID)
			if run.Name != "" {
				fmt.Fprintf(out, "  Name:        %s\n", run.Name)
			}
			fmt.Fprintf(out, "  Scenario:    %s\n", run.Scenario)
			fmt.Fprintf(out, "  State:       %s\n", run.State)
			fmt.Fprintf(out, "  Seed:        %d\n", run.Seed)
			fmt.Fprintf(out, "  Frames:      %s\n", humanize.Comma(int64(sum.Frames)))
			fmt.Fprintf(out, "  Bursts:      %s (%s retransmissions)\n",
				humanize.Comma(sum.Bursts), humanize.Comma(sum.Retransmitted))
			fmt.Fprintf(out, "  Scheduled:   %s\n", humanize.SIWithDigits(float64(sum.BitsScheduled), 1, "bit"))
			fmt.Fprintf(out, "  Delivered:   %s\n", humanize.SIWithDigits(float64(sum.BitsDelivered), 1, "bit"))
			fmt.Fprintf(out, "  Drops:       %s\n", humanize.Comma(sum.Drops))
			fmt.Fprintf(out, "  Utilization: %.1f%%\n", 100*sum.MeanUtilization)
			fmt.Fprintf(out, "  Gain:        %.3f\n", sum.MeanGain)
			fmt.Fprintf(out, "  Created:     %s\n", humanize.Time(run.CreatedAt))
			if run.CompletedAt != nil {
				fmt.Fprintf(out, "  Completed:   %s\n", humanize.Time(*run.CompletedAt))
			}
			if run.Error != "" {
				fmt.Fprintf(out, "  Error:       %s\n", run.Error)
			}
			return nil
		},
	}
}
