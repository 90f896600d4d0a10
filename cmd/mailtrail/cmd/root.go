package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/config"
	"github.com/wesm/mailtrail/internal/imap"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/service"
	"github.com/wesm/mailtrail/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailtrail",
	Short: "Search mail by correspondent, thread and topic",
	Long: `mailtrail searches a mailbox by sender and recipient domain, follows
conversation threads across folders, and files large result sets to a
paged cache so that agents can work through them incrementally.

The mailbox is either a local SQLite mirror (populated with import-mbox)
or a live IMAP account, selected by [store] kind in config.toml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// --home influences where config.toml is loaded from, like
		// MAILTRAIL_HOME.
		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.HomeDir, err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openConnector returns the connector for the configured store kind.
func openConnector() mailstore.Connector {
	if cfg.Store.Kind == config.StoreIMAP {
		return imap.Connector(&cfg.Store.IMAP, imap.WithLogger(logger))
	}
	return store.Connector(cfg.DatabasePath())
}

// openService builds the operation layer over the configured store. The
// store session opens lazily on first use.
func openService() (*service.Service, error) {
	svc, err := service.FromConfig(cfg, openConnector(), logger)
	if err != nil {
		return nil, fmt.Errorf("init service: %w", err)
	}
	return svc, nil
}

// openSQLite opens the local mirror and ensures its schema, for commands
// that only make sense against it.
func openSQLite() (*store.Store, error) {
	if cfg.Store.Kind != config.StoreSQLite {
		return nil, fmt.Errorf("this command needs [store] kind = %q, configured kind is %q", config.StoreSQLite, cfg.Store.Kind)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to max terminal cells, flattening line breaks so a
// table row stays on one line.
func truncate(s string, max int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", "", "\t", " ").Replace(s)
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mailtrail/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MAILTRAIL_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
