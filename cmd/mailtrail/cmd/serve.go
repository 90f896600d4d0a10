package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/api"
	mcpserver "github.com/wesm/mailtrail/internal/mcp"
	"github.com/wesm/mailtrail/internal/scheduler"
	"github.com/wesm/mailtrail/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run mailtrail as a daemon with HTTP access and scheduled backfill",
	Long: `Run mailtrail as a long-running daemon. It serves:
  - the MCP tools over streamable HTTP at /mcp
  - a REST API under /api/v1 (search, messages, cache, backfill, scheduler)
  - /healthz for liveness checks

When [server] backfill_schedule is set, recipient domains are backfilled
on that cron schedule:
  [server]
  http_addr = "127.0.0.1:8000"
  api_key = "change-me"
  backfill_schedule = "*/30 * * * *"

Cron format: minute hour day-of-month month day-of-week

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		sched := scheduler.New().WithLogger(logger)
		added, err := sched.AddFromConfig(cfg, func(ctx context.Context) error {
			_, err := svc.Backfill(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if !added {
			return runHTTP(cmd, svc, nil)
		}

		sched.Start()
		defer func() {
			fmt.Fprintln(cmd.OutOrStdout(), "Waiting for running jobs to complete...")
			select {
			case <-sched.Stop().Done():
			case <-time.After(30 * time.Second):
				fmt.Fprintln(cmd.OutOrStdout(), "Shutdown timed out after 30 seconds.")
			}
		}()
		for _, st := range sched.Status() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: next run at %s\n", st.Name, st.NextRun.Local().Format("2006-01-02 15:04:05"))
		}
		return runHTTP(cmd, svc, sched)
	},
}

// runHTTP serves the HTTP API until the command context is cancelled or
// the listener fails. sched may be nil.
func runHTTP(cmd *cobra.Command, svc *service.Service, sched *scheduler.Scheduler) error {
	var jobs api.JobScheduler
	if sched != nil {
		jobs = sched
	}
	srv := api.NewServer(cfg, svc, mcpserver.HTTPHandler(svc), mcpserver.EndpointPath, jobs, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mailtrail listening on %s\n", cfg.Server.HTTPAddr)
	fmt.Fprintf(out, "  MCP endpoint: %s\n", mcpserver.EndpointPath)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Kind)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-cmd.Context().Done():
		logger.Info("shutting down", "reason", cmd.Context().Err())
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
