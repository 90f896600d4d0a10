package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/service"
)

var (
	threadNoSent  bool
	threadFiled   bool
	threadLimit   int
	threadOutput  outputFlags
	locationsJSON bool
)

var threadCmd = &cobra.Command{
	Use:   "thread <email-id>",
	Short: "Reconstruct the conversation containing a message",
	Long: `Reconstruct the conversation containing a message, oldest first.

The inbox is always searched; sent items are included unless --no-sent is
given and filed mail with --filed. Each message appears once even when
copies exist in several folders.

Examples:
  mailtrail thread 42
  mailtrail thread '<CAFx1@mail.acme.com>' --filed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		env, err := svc.Thread(cmd.Context(), args[0], service.ThreadRequest{
			IncludeSent:  !threadNoSent,
			IncludeFiled: threadFiled,
			Limit:        threadLimit,
			Output:       threadOutput.output(),
		})
		if err != nil {
			return fmt.Errorf("thread: %w", err)
		}
		if !threadOutput.json {
			printExtra(cmd.OutOrStdout(), env, "conversation_topic", "participants")
		}
		return printEnvelope(cmd.OutOrStdout(), env, threadOutput.json)
	},
}

var threadLocationsCmd = &cobra.Command{
	Use:   "thread-locations <email-id>",
	Short: "List where each message of a conversation is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		locs, err := svc.ThreadLocations(cmd.Context(), args[0], service.ThreadRequest{
			IncludeSent:  true,
			IncludeFiled: true,
		})
		if err != nil {
			return fmt.Errorf("thread locations: %w", err)
		}
		out := cmd.OutOrStdout()
		if locationsJSON {
			return printJSON(out, locs)
		}

		fmt.Fprintf(out, "Conversation: %s\n\n", locs.Topic)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFOLDER\tDIRECTION\tRECEIVED")
		for _, l := range locs.Locations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", truncate(l.ID, 24), l.Folder, l.Direction,
				l.Received.Local().Format("2006-01-02 15:04"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if locs.ResultsTruncated {
			fmt.Fprintln(out, "\nSome folders hit the scan limit; the thread may be incomplete.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(threadLocationsCmd)
	threadCmd.Flags().BoolVar(&threadNoSent, "no-sent", false, "exclude sent items")
	threadCmd.Flags().BoolVar(&threadFiled, "filed", false, "include filed mail")
	threadCmd.Flags().IntVar(&threadLimit, "limit", 0, "maximum messages per folder")
	threadOutput.register(threadCmd)
	threadLocationsCmd.Flags().BoolVar(&locationsJSON, "json", false, "output as JSON")
}
