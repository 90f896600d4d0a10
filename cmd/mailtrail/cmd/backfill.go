package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backfillJSON bool

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Record recipient domains on recent sent mail",
	Long: `Scan the most recent sent messages and record the domains of their
recipients, so that domain searches can match outbound mail with a cheap
store-side filter. Messages that already carry the field are skipped.

Domain searches run this automatically, at most once per
search.backfill_interval; the serve command can also run it on a schedule.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Backfill(cmd.Context())
		if err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		if backfillJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backfill complete: %d scanned, %d updated, %d already set, %d failed\n",
			stats.Processed, stats.Updated, stats.Skipped, stats.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().BoolVar(&backfillJSON, "json", false, "output as JSON")
}
