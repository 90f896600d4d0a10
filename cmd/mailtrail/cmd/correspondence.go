package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/service"
)

var (
	corrDomains  []string
	corrContacts []string
	corrAfter    string
	corrBefore   string
	corrDays     int
	corrLimit    int
	corrOutput   outputFlags
)

var correspondenceCmd = &cobra.Command{
	Use:     "correspondence [entity]",
	Aliases: []string{"corr"},
	Short:   "Show all mail exchanged with an organization or contact",
	Long: `Show every message exchanged with a correspondent, received and sent,
newest first. The correspondent is a configured entity, explicit domains and
contacts, or both; explicit identifiers add to the entity's.

Configure entities in config.toml:
  [[entities]]
  name = "Acme"
  domains = ["acme.com", "acme.co.uk"]
  contacts = ["partner@gmail.com"]

Examples:
  mailtrail correspondence acme
  mailtrail correspondence --domain acme.com --days 90
  mailtrail correspondence acme --contact cfo@holding.example --after 2024-01-01`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.CorrespondenceRequest{
			Domains:  corrDomains,
			Contacts: corrContacts,
			Days:     corrDays,
			Limit:    corrLimit,
			Output:   corrOutput.output(),
		}
		if len(args) == 1 {
			req.Entity = args[0]
		}
		var err error
		if req.DateFrom, err = filter.ParseDate("after", corrAfter); err != nil {
			return err
		}
		if req.DateTo, err = filter.ParseDate("before", corrBefore); err != nil {
			return err
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		env, err := svc.Correspondence(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("correspondence: %w", err)
		}
		if !corrOutput.json {
			printExtra(cmd.OutOrStdout(), env, "entity")
		}
		return printEnvelope(cmd.OutOrStdout(), env, corrOutput.json)
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List configured correspondent entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Directory()
		names := dir.Names()
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No entities configured. Add [[entities]] to config.toml.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDOMAINS\tCONTACTS")
		for _, name := range names {
			e, err := dir.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name,
				truncate(strings.Join(e.Domains, ", "), 40),
				truncate(strings.Join(e.Contacts, ", "), 40))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(correspondenceCmd)
	rootCmd.AddCommand(entitiesCmd)
	f := correspondenceCmd.Flags()
	f.StringSliceVar(&corrDomains, "domain", nil, "correspondent domain (repeatable)")
	f.StringSliceVar(&corrContacts, "contact", nil, "correspondent address (repeatable)")
	f.StringVar(&corrAfter, "after", "", "only messages on or after this date (YYYY-MM-DD)")
	f.StringVar(&corrBefore, "before", "", "only messages on or before this date (YYYY-MM-DD)")
	f.IntVar(&corrDays, "days", 0, "look-back window in days when no date range is given")
	f.IntVar(&corrLimit, "limit", 0, "maximum number of results")
	corrOutput.register(correspondenceCmd)
}
