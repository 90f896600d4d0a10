package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/service"
)

var (
	pendingDays   int
	pendingAfter  string
	pendingLimit  int
	pendingJSON   bool
	pendingOutput outputFlags

	batchJSON   bool
	archiveDays int
	archiveJSON bool
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Summarize untriaged inbox mail by sender domain",
	Long: `Summarize inbox messages that have no triage status, grouped by sender
domain with counts and the newest subjects. Domains with the most pending
mail come first.

Only the newest --limit inbox messages are considered; the footer says
when older mail in the window was not scanned.

Examples:
  mailtrail pending
  mailtrail pending --days 7
  mailtrail pending --after 2024-01-01 --limit 1000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := filter.ParseDate("after", pendingAfter)
		if err != nil {
			return err
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Pending(cmd.Context(), service.PendingRequest{
			Days:     pendingDays,
			DateFrom: from,
			Limit:    pendingLimit,
		})
		if err != nil {
			return fmt.Errorf("pending: %w", err)
		}
		if pendingJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printPending(cmd.OutOrStdout(), res)
		return nil
	},
}

func printPending(w io.Writer, res *service.PendingResult) {
	if len(res.Domains) == 0 {
		fmt.Fprintf(w, "No pending mail since %s.\n", res.Since.Format("2006-01-02"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tCOUNT\tLATEST\tCATEGORY\tSUBJECTS")
	fmt.Fprintln(tw, "──────\t─────\t──────\t────────\t────────")
	for _, d := range res.Domains {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			truncate(d.Domain, 30),
			d.Count,
			d.Latest.Local().Format("2006-01-02 15:04"),
			d.Category,
			truncate(strings.Join(d.SampleSubjects, " | "), 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d pending in %d domains (%d messages scanned since %s)\n",
		res.TotalPending, len(res.Domains), res.TotalScanned, res.Since.Format("2006-01-02"))
	if res.ScanTruncated {
		fmt.Fprintln(w, "Older messages were not scanned; raise --limit to include them.")
	}
}

var pendingEmailsCmd = &cobra.Command{
	Use:   "pending-emails <domain>",
	Short: "List untriaged inbox mail from one sender domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := filter.ParseDate("after", pendingAfter)
		if err != nil {
			return err
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		env, err := svc.PendingEmails(cmd.Context(), service.PendingEmailsRequest{
			Domain:   args[0],
			Days:     pendingDays,
			DateFrom: from,
			Limit:    pendingLimit,
			Output:   pendingOutput.output(),
		})
		if err != nil {
			return fmt.Errorf("pending emails: %w", err)
		}
		if !pendingOutput.json {
			printExtra(cmd.OutOrStdout(), env, "domain", "category")
		}
		return printEnvelope(cmd.OutOrStdout(), env, pendingOutput.json)
	},
}

var batchTriageCmd = &cobra.Command{
	Use:   "batch-triage <status> <email-id>...",
	Short: "Set one triage status on several messages",
	Long: fmt.Sprintf(`Set one triage status on several messages. Messages that cannot be
updated are reported and do not stop the batch.

Statuses: %s`, strings.Join(service.TriageStatuses, ", ")),
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.BatchTriage(cmd.Context(), args[1:], args[0])
		if err != nil {
			return fmt.Errorf("batch triage: %w", err)
		}
		if batchJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d messages as %s\n", res.Triaged, res.Status)
		if res.Failed > 0 {
			return fmt.Errorf("batch triage: %d failed: %s", res.Failed, strings.Join(res.FailedIDs, ", "))
		}
		return nil
	},
}

var archiveDomainCmd = &cobra.Command{
	Use:   "archive-domain <domain>",
	Short: "Archive all untriaged inbox mail from a sender domain",
	Long: `Mark every untriaged inbox message from a sender domain inside the
look-back window as archived. Messages that already have a triage status
are left alone.

Example:
  mailtrail archive-domain news.example.com --days 90`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.ArchiveDomain(cmd.Context(), args[0], archiveDays)
		if err != nil {
			return fmt.Errorf("archive domain: %w", err)
		}
		if archiveJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Archived %d messages from %s\n", res.ArchivedCount, res.Domain)
		if res.Truncated {
			fmt.Fprintln(out, "More mail from this domain may remain; run again to continue.")
		}
		if res.Failed > 0 {
			return fmt.Errorf("archive domain: %d failed: %s", res.Failed, strings.Join(res.FailedIDs, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd, pendingEmailsCmd, batchTriageCmd, archiveDomainCmd)
	for _, c := range []*cobra.Command{pendingCmd, pendingEmailsCmd} {
		c.Flags().IntVar(&pendingDays, "days", 0, "look-back window in days when --after is not given")
		c.Flags().StringVar(&pendingAfter, "after", "", "only messages on or after this date (YYYY-MM-DD)")
	}
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 0, "newest inbox messages to scan")
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "output as JSON")
	pendingEmailsCmd.Flags().IntVar(&pendingLimit, "limit", 0, "maximum number of results")
	pendingOutput.register(pendingEmailsCmd)
	batchTriageCmd.Flags().BoolVar(&batchJSON, "json", false, "output as JSON")
	archiveDomainCmd.Flags().IntVar(&archiveDays, "days", 0, "look-back window in days")
	archiveDomainCmd.Flags().BoolVar(&archiveJSON, "json", false, "output as JSON")
}
