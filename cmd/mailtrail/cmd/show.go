package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/service"
)

var (
	showMaxBody int
	showJSON    bool
	triageJSON  bool
	triageClear bool
)

var showCmd = &cobra.Command{
	Use:   "show <email-id>",
	Short: "Show one message with its body",
	Long: `Show one message. The id is either a store id from a listing or an
internet message id such as '<CAFx1@mail.acme.com>'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		d, err := svc.GetEmail(cmd.Context(), args[0], service.GetOptions{
			IncludeBody:        true,
			IncludeAttachments: true,
			MaxBodyLength:      showMaxBody,
		})
		if err != nil {
			return fmt.Errorf("show: %w", err)
		}
		out := cmd.OutOrStdout()
		if showJSON {
			return printJSON(out, d)
		}

		fmt.Fprintf(out, "ID:       %s\n", d.ID)
		if d.InternetMessageID != "" {
			fmt.Fprintf(out, "Message:  %s\n", d.InternetMessageID)
		}
		fmt.Fprintf(out, "Folder:   %s (%s)\n", d.Folder, d.Direction)
		fmt.Fprintf(out, "Date:     %s\n", d.Received.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "From:     %s\n", d.Sender)
		if len(d.To) > 0 {
			fmt.Fprintf(out, "To:       %s\n", strings.Join(d.To, ", "))
		}
		if len(d.Cc) > 0 {
			fmt.Fprintf(out, "Cc:       %s\n", strings.Join(d.Cc, ", "))
		}
		fmt.Fprintf(out, "Subject:  %s\n", d.Subject)
		if d.TriageStatus != "" {
			fmt.Fprintf(out, "Status:   %s\n", d.TriageStatus)
		}
		if len(d.Attachments) > 0 {
			fmt.Fprintf(out, "Attached: %s\n", strings.Join(d.Attachments, ", "))
		}
		if d.Body != nil {
			fmt.Fprintf(out, "\n%s\n", *d.Body)
		}
		return nil
	},
}

var triageCmd = &cobra.Command{
	Use:   "triage <email-id> [status]",
	Short: "Set or clear the triage status of a message",
	Long: fmt.Sprintf(`Set the triage status of a message, replacing any previous status.
With --clear the status is removed and the message is pending again.

Statuses: %s`, strings.Join(service.TriageStatuses, ", ")),
	Args: func(cmd *cobra.Command, args []string) error {
		if triageClear {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		var res *service.TriageResult
		if triageClear {
			res, err = svc.ClearTriage(cmd.Context(), args[0])
		} else {
			res, err = svc.Triage(cmd.Context(), args[0], args[1])
		}
		if err != nil {
			return fmt.Errorf("triage: %w", err)
		}
		if triageJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.Status == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared triage status of %s\n", res.EmailID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as %s\n", res.EmailID, res.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(triageCmd)
	showCmd.Flags().IntVar(&showMaxBody, "max-body", 0, "truncate the body to this many characters")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
	triageCmd.Flags().BoolVar(&triageJSON, "json", false, "output as JSON")
	triageCmd.Flags().BoolVar(&triageClear, "clear", false, "remove the triage status")
}
