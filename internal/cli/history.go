package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Partition string
	Limit     int
	JSON      bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show run-to-run changes",
		Long: `Print the recorded history entries, newest first: record counts,
added and removed listings, price changes and field changes per partition.

Example:
  scraper history --partition de --limit 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Partition, "partition", "p", "", "only show this partition")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "maximum number of entries (0 = all)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the entries as JSON")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return WrapExitError(ExitCommandError, "history tracking is disabled", nil)
	}
	// History only reads; no sink needs to be opened
	cfg.Output.Sinks = nil

	ctx := commandContext(cmd)
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer app.Close()

	entries, err := app.History.Entries(ctx, opts.Partition, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return writeJSON(out, entries)
	}

	tracked, err := app.TrackedPartitions()
	if err != nil {
		log.WithError(err).Warn("[HISTORY] could not list snapshots")
	}
	printHistory(out, entries, tracked)
	return nil
}

func printHistory(w io.Writer, entries []domain.HistoryEntry, tracked []string) {
	if len(tracked) > 0 {
		fmt.Fprintf(w, "tracked partitions: %v\n\n", tracked)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no history entries")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPARTITION\tBEFORE\tAFTER\tADDED\tREMOVED\tPRICE DOWN\tPRICE UP\tFIELDS")
	for _, e := range entries {
		s := e.Summary
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			e.Date, e.Partition, s.TotalBefore, s.TotalAfter, s.RecordsAdded, s.RecordsRemoved,
			s.PriceDrops, s.PriceIncreases, s.FieldChanges)
	}
	_ = tw.Flush()
}
