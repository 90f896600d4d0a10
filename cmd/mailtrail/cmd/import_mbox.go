package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/importer"
	"github.com/wesm/mailtrail/internal/mailstore"
)

var (
	importMboxFolder         string
	importMboxComputeDomains bool
	importMboxMaxBytes       int
	importMboxJSON           bool
)

var importMboxCmd = &cobra.Command{
	Use:   "import-mbox <export-file>...",
	Short: "Import MBOX exports into the local mirror",
	Long: `Import one or more MBOX files into the SQLite mirror.

Messages from one of [store] owner_addresses go to sent, the rest to the
inbox, unless --folder forces a folder. Messages already present in the
target folder are skipped, so re-running an import is safe.

Examples:
  mailtrail init-db
  mailtrail import-mbox ~/exports/inbox.mbox
  mailtrail import-mbox --folder filed ~/exports/archive-2023.mbox`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var folder mailstore.Folder
		if importMboxFolder != "" {
			f, err := mailstore.ParseFolder(importMboxFolder)
			if err != nil {
				return err
			}
			folder = f
		}

		st, err := openSQLite()
		if err != nil {
			return err
		}
		defer st.Close()

		opts := importer.Options{
			Folder:          folder,
			OwnerAddresses:  cfg.Store.OwnerAddresses,
			ComputeDomains:  importMboxComputeDomains,
			MaxMessageBytes: importMboxMaxBytes,
			Logger:          logger,
		}
		interactive := isTerminal(os.Stderr)
		var results []*importer.Summary
		for _, path := range args {
			if interactive {
				fmt.Fprintf(os.Stderr, "Importing %s...\n", path)
			}
			sum, err := importer.ImportMbox(cmd.Context(), st, path, opts)
			if sum != nil {
				results = append(results, sum)
			}
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; messages imported so far are kept.")
				return err
			}
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			if !importMboxJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processed, %d added, %d skipped, %d errors in %s\n",
					path, sum.Processed, sum.Added, sum.Skipped, sum.Errors, sum.Duration.Round(time.Millisecond))
			}
		}
		if importMboxJSON {
			return printJSON(cmd.OutOrStdout(), results)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importMboxCmd)
	f := importMboxCmd.Flags()
	f.StringVar(&importMboxFolder, "folder", "", "force every message into this folder (inbox, sent, filed)")
	f.BoolVar(&importMboxComputeDomains, "compute-domains", false, "record recipient domains at import time instead of leaving them to backfill")
	f.IntVar(&importMboxMaxBytes, "max-message-bytes", 0, "skip messages larger than this many bytes")
	f.BoolVar(&importMboxJSON, "json", false, "output summaries as JSON")
}
