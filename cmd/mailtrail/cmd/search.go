package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/service"
)

var (
	searchFolder string
	searchDays   int
	searchLimit  int
	searchAfter  string
	searchBefore string
	searchFilter filter.Criteria
	searchOutput outputFlags
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search one folder by sender, recipient, subject and body",
	Long: `Search one mail folder. Structured flags combine with an optional
operator query; the query fills any condition the flags leave unset.

Supported operators:
  from:        Sender address or domain
  to:          Recipient address or domain
  subject:     Subject text
  body:        Body text
  in:          Folder (inbox, sent, filed)
  after:       Messages on or after date (YYYY-MM-DD)
  before:      Messages before date (YYYY-MM-DD)
  newer_than:  Relative window (7d, 2w, 1m)

Bare words search the body.

Examples:
  mailtrail search from:acme.com subject:invoice
  mailtrail search --sender-domain acme.com --days 90
  mailtrail search in:sent to:partner@gmail.com after:2024-01-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		crit := searchFilter
		var err error
		if crit.DateFrom, err = filter.ParseDate("after", searchAfter); err != nil {
			return err
		}
		if crit.DateTo, err = filter.ParseDate("before", searchBefore); err != nil {
			return err
		}
		var folder mailstore.Folder
		if searchFolder != "" {
			if folder, err = mailstore.ParseFolder(searchFolder); err != nil {
				return err
			}
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		interactive := isTerminal(os.Stderr)
		if interactive {
			fmt.Fprint(os.Stderr, "Searching...")
		}
		env, err := svc.SearchEmails(cmd.Context(), service.SearchRequest{
			Query:    strings.Join(args, " "),
			Criteria: crit,
			Folder:   folder,
			Days:     searchDays,
			Limit:    searchLimit,
			Output:   searchOutput.output(),
		})
		if interactive {
			fmt.Fprint(os.Stderr, "\r            \r")
		}
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return printEnvelope(cmd.OutOrStdout(), env, searchOutput.json)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	f := searchCmd.Flags()
	f.StringVar(&searchFolder, "folder", "", "folder to search: inbox, sent or filed (default inbox)")
	f.IntVar(&searchDays, "days", 0, "look-back window in days when no date range is given")
	f.IntVar(&searchLimit, "limit", 0, "maximum number of results")
	f.StringVar(&searchAfter, "after", "", "only messages on or after this date (YYYY-MM-DD)")
	f.StringVar(&searchBefore, "before", "", "only messages on or before this date (YYYY-MM-DD)")
	f.StringVar(&searchFilter.SenderDomain, "sender-domain", "", "sender domain")
	f.StringVar(&searchFilter.SenderAddress, "sender-email", "", "sender address")
	f.StringVar(&searchFilter.RecipientDomain, "recipient-domain", "", "recipient domain")
	f.StringVar(&searchFilter.RecipientAddress, "recipient-email", "", "recipient address")
	f.StringVar(&searchFilter.Subject, "subject", "", "subject contains")
	f.StringVar(&searchFilter.Body, "body", "", "body contains")
	searchOutput.register(searchCmd)
}
