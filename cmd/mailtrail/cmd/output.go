package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/service"
)

// outputFlags are shared by every listing command.
type outputFlags struct {
	json       bool
	autoFile   bool
	outputFile string
	threshold  int
}

func (o *outputFlags) register(c *cobra.Command) {
	c.Flags().BoolVar(&o.json, "json", false, "print the raw result envelope as JSON")
	c.Flags().BoolVar(&o.autoFile, "auto-file", false, "file large results to the cache instead of printing them all")
	c.Flags().StringVar(&o.outputFile, "output-file", "", "write the full result set to this file")
	c.Flags().IntVar(&o.threshold, "auto-file-threshold", 0, "override the auto-file threshold")
}

// output maps the flags onto service output options. Interactive use
// prints everything unless --auto-file is given.
func (o *outputFlags) output() service.Output {
	return service.Output{
		ForceInline: !o.autoFile,
		OutputFile:  o.outputFile,
		Threshold:   o.threshold,
	}
}

// itemString returns a string field of a cache item.
func itemString(it resultcache.Item, key string) string {
	switch v := it[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// itemDate formats an RFC 3339 item field as a short local date.
func itemDate(it resultcache.Item, key string) string {
	t, err := time.Parse(time.RFC3339Nano, itemString(it, key))
	if err != nil {
		return itemString(it, key)
	}
	return t.Local().Format("2006-01-02 15:04")
}

// printEnvelope renders a listing result, as JSON or as a table.
func printEnvelope(w io.Writer, env *resultcache.Envelope, asJSON bool) error {
	if asJSON {
		return printJSON(w, env)
	}
	switch {
	case env.OutputFile != "":
		fmt.Fprintf(w, "Wrote %d results to %s\n", env.Count, env.OutputFile)
		return nil
	case env.AutoFiled:
		printItems(w, env.Preview)
		fmt.Fprintf(w, "\n%s\nFull results: %s (page with 'mailtrail cache read')\n", env.AutoFileReason, env.FullDataFile)
	default:
		if len(env.Items) == 0 {
			fmt.Fprintln(w, "No messages found.")
			return nil
		}
		printItems(w, env.Items)
		fmt.Fprintf(w, "\nShowing %d results\n", env.Count)
	}
	if env.ResultsTruncated {
		fmt.Fprintf(w, "Results truncated at limit %d; narrow the search or raise --limit.\n", env.LimitApplied)
	}
	return nil
}

func printItems(w io.Writer, items []resultcache.Item) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFOLDER\tFROM\tSUBJECT\tSTATUS")
	fmt.Fprintln(tw, "──\t────\t──────\t────\t───────\t──────")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(it.ID(), 24),
			itemDate(it, "received"),
			itemString(it, "folder"),
			truncate(itemString(it, "sender"), 30),
			truncate(itemString(it, "subject"), 50),
			itemString(it, "triage_status"),
		)
	}
	tw.Flush()
}

// printExtra prints selected top-level envelope fields as a header.
func printExtra(w io.Writer, env *resultcache.Envelope, keys ...string) {
	for _, k := range keys {
		v, ok := env.Extra[k]
		if !ok {
			continue
		}
		if list, ok := v.([]string); ok {
			v = strings.Join(list, ", ")
		}
		fmt.Fprintf(w, "%s: %v\n", k, v)
	}
	fmt.Fprintln(w)
}
