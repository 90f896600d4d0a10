package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/store"
)

var statsJSON bool

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the local mirror database",
	Long: `Initialize the SQLite mirror with the required schema.

It is safe to run multiple times; tables are only created if they don't
already exist.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("initializing database", "path", cfg.DatabasePath())
		st, err := openSQLite()
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("database initialized successfully")
		return printStats(cmd, st)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local mirror statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openSQLite()
		if err != nil {
			return err
		}
		defer st.Close()
		return printStats(cmd, st)
	},
}

func printStats(cmd *cobra.Command, st *store.Store) error {
	stats, err := st.GetStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if statsJSON {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	writeStats(cmd.OutOrStdout(), st.Path(), stats)
	return nil
}

func writeStats(w io.Writer, path string, stats *store.Stats) {
	fmt.Fprintf(w, "Database: %s\n", path)
	fmt.Fprintf(w, "  Messages: %d\n", stats.MessageCount)
	folders := make([]string, 0, len(stats.ByFolder))
	for f := range stats.ByFolder {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	for _, f := range folders {
		fmt.Fprintf(w, "    %-8s %d\n", f+":", stats.ByFolder[f])
	}
	fmt.Fprintf(w, "  Sent without recipient domains: %d\n", stats.MissingDomainCount)
	fmt.Fprintf(w, "  Size: %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
}

func init() {
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}
