package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/pkg/model"
)

func newListCmd() *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/runs/"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var runs []model.Run
			resp, err := client.GetData(cmd.Context(), path, &runs)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-42s  %-10s  %-24s  %8s  %s\n", "ID", "STATE", "SCENARIO", "FRAMES", "CREATED")
			fmt.Fprintf(out, "%-42s  %-10s  %-24s  %8s  %s\n", "--", "-----", "--------", "------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-42s  %-10s  %-24s  %8s  %s\n",
					r.ID, r.State, r.Scenario, humanize.Comma(int64(r.Frames)), humanize.Time(r.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (PENDING, RUNNING, COMPLETED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs to show")

	return cmd
}
