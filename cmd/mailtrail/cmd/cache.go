package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/resultcache"
)

var (
	cacheReadStart       int
	cacheReadLimit       int
	cacheReadFilterField string
	cacheReadFilterValue string
	cacheReadFields      []string
	cacheReadAll         bool
	cacheReadUnprocessed bool
	cacheResetRetrieved  bool
	cacheResetProcessed  bool
	cacheListDays        int
	cacheJSON            bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Page through and manage filed result sets",
	Long: `Large listings are filed to JSON cache files. These commands page
through a file, mark items processed, and inspect or reset progress.

A file argument is either a path or a name inside the cache directory.`,
}

var cacheReadCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Read the next page of unretrieved items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := resultcache.ModeUnretrieved
		switch {
		case cacheReadUnprocessed:
			mode = resultcache.ModeUnprocessed
		case cacheReadAll:
			mode = resultcache.ModeIncludeRetrieved
		}
		c, err := openCache()
		if err != nil {
			return err
		}
		page, err := c.Read(args[0], resultcache.ReadOptions{
			Start:       cacheReadStart,
			Limit:       cacheReadLimit,
			FilterField: cacheReadFilterField,
			FilterValue: cacheReadFilterValue,
			Fields:      cacheReadFields,
			Mode:        mode,
		})
		if err != nil {
			return fmt.Errorf("read cache: %w", err)
		}
		out := cmd.OutOrStdout()
		if cacheJSON || len(cacheReadFields) > 0 {
			return printJSON(out, page)
		}
		if page.Count == 0 {
			fmt.Fprintln(out, "No items left to read.")
		} else {
			printItems(out, page.Items)
		}
		fmt.Fprintf(out, "\nRead %d of %d; %d retrieved, %d processed, %d remaining\n",
			page.Count, page.TotalInFile, page.RetrievedCount, page.ProcessedCount, page.RemainingUnretrieved)
		return nil
	},
}

var cacheMarkCmd = &cobra.Command{
	Use:   "mark <file> <id>...",
	Short: "Mark items processed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		res, err := c.MarkProcessed(args[0], args[1:])
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		if cacheJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d of %d ids; %d of %d items processed\n",
			res.MarkedCount, res.IDsProvided, res.ProcessedCount, res.TotalInFile)
		return nil
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status <file>",
	Short: "Show retrieval and processing progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		st, err := c.Status(args[0])
		if err != nil {
			return fmt.Errorf("cache status: %w", err)
		}
		out := cmd.OutOrStdout()
		if cacheJSON {
			return printJSON(out, st)
		}
		fmt.Fprintf(out, "File:      %s\n", st.FilePath)
		fmt.Fprintf(out, "Source:    %s\n", st.SourceTool)
		fmt.Fprintf(out, "Created:   %s\n", st.Created.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Items:     %d\n", st.TotalItems)
		fmt.Fprintf(out, "Retrieved: %d (%.1f%%)\n", st.RetrievedCount, st.PercentRetrieved)
		fmt.Fprintf(out, "Processed: %d (%.1f%%)\n", st.ProcessedCount, st.PercentProcessed)
		return nil
	},
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset <file>",
	Short: "Clear retrieved and processed flags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		res, err := c.Reset(args[0], cacheResetRetrieved, cacheResetProcessed)
		if err != nil {
			return fmt.Errorf("reset cache: %w", err)
		}
		if cacheJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %d retrieved and %d processed flags\n",
			res.RetrievedFlagsReset, res.ProcessedFlagsReset)
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent cache files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		listing, err := c.List(cacheListDays)
		if err != nil {
			return fmt.Errorf("list cache: %w", err)
		}
		out := cmd.OutOrStdout()
		if cacheJSON {
			return printJSON(out, listing)
		}
		if listing.Count == 0 {
			fmt.Fprintf(out, "No cache files in %s from the last %d days.\n", listing.CacheDir, listing.DaysScanned)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSOURCE\tITEMS\tRETRIEVED\tPROCESSED\tMODIFIED")
		for _, f := range listing.Files {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", f.Name, f.SourceTool, f.TotalItems,
				f.RetrievedCount, f.ProcessedCount, f.Modified.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

// openCache returns the configured result cache without opening the store.
func openCache() (*resultcache.Cache, error) {
	svc, err := openService()
	if err != nil {
		return nil, err
	}
	return svc.Cache(), nil
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheReadCmd, cacheMarkCmd, cacheStatusCmd, cacheResetCmd, cacheListCmd)
	cacheCmd.PersistentFlags().BoolVar(&cacheJSON, "json", false, "output as JSON")

	f := cacheReadCmd.Flags()
	f.IntVar(&cacheReadStart, "start", 0, "offset into the eligible items")
	f.IntVar(&cacheReadLimit, "limit", 0, "page size (default 20)")
	f.StringVar(&cacheReadFilterField, "filter-field", "", "only items whose field equals --filter-value")
	f.StringVar(&cacheReadFilterValue, "filter-value", "", "value for --filter-field")
	f.StringSliceVar(&cacheReadFields, "fields", nil, "only return these fields")
	f.BoolVar(&cacheReadAll, "include-retrieved", false, "consider items already read")
	f.BoolVar(&cacheReadUnprocessed, "unprocessed", false, "re-read retrieved items not yet processed")

	cacheResetCmd.Flags().BoolVar(&cacheResetRetrieved, "retrieved", true, "clear retrieved flags")
	cacheResetCmd.Flags().BoolVar(&cacheResetProcessed, "processed", true, "clear processed flags")
	cacheListCmd.Flags().IntVar(&cacheListDays, "days", 0, "look-back window in days (default 7)")
}
