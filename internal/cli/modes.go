package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rrsched/pkg/model"
)

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the configured PHY modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			modes, err := cfg.Modes()
			if err != nil {
				return err
			}
			slot := cfg.Engine.Grid.SlotLength
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-14s  %-14s  %-10s  %s\n", "MODE", "RATE", "BITS/SLOT", "MIN SINR")
			fmt.Fprintf(out, "%-14s  %-14s  %-10s  %s\n", "----", "----", "---------", "--------")
			for _, m := range modes.Modes() {
				fmt.Fprintf(out, "%-14s  %-14s  %-10s  %.1f dB\n",
					m.Name,
					humanize.SIWithDigits(m.DataRate, 1, "bit/s"),
					humanize.Comma(int64(m.BitCapacity(slot))),
					model.DB(m.MinSINR))
			}
			fmt.Fprintf(out, "\nSymbol rate %s, slot length %s.\n",
				humanize.SIWithDigits(cfg.PHY.SymbolRate, 1, "sym/s"), slot)
			return nil
		},
	}
}
