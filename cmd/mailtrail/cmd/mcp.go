package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/config"
	mcpserver "github.com/wesm/mailtrail/internal/mcp"
)

var mcpTransport string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server exposing the mailtrail
tools: search_emails, get_email_by_id, search_correspondence,
get_email_thread, get_thread_locations, the cache paging tools,
backfill_recipient_domains and triage_email.

The transport is stdio by default. With --transport http (or
MCP_TRANSPORT=http) the server listens on [server] http_addr, overridable
with MCP_HOST and MCP_PORT, and serves the tools at /mcp.

Add to an MCP client config:
  {
    "mcpServers": {
      "mailtrail": {
        "command": "mailtrail",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport := cfg.Server.Transport
		if mcpTransport != "" {
			transport = strings.ToLower(mcpTransport)
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		switch transport {
		case config.TransportStdio:
			logger.Debug("serving MCP over stdio")
			return mcpserver.Serve(cmd.Context(), svc)
		case config.TransportHTTP:
			return runHTTP(cmd, svc, nil)
		default:
			return fmt.Errorf("unknown transport %q (want %s or %s)", transport, config.TransportStdio, config.TransportHTTP)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "", "stdio or http (default from config)")
}
