package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alabenkhlifa/automobile-tn-scrapper/config"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/usecase"
)

// CrawlOptions holds flags for the crawl command.
type CrawlOptions struct {
	*RootOptions
	Partitions   []string
	Strategy     string
	MaxListings  int
	MaxPages     int
	PerPairLimit int
	Makes        []string
	Condition    string
	MinPrice     int
	MaxPrice     int
	NoDetails    bool
	Sinks        []string
	OutputDir    string
	NoHistory    bool
	JSON         bool
}

// NewCrawlCommand creates the crawl command.
func NewCrawlCommand(rootOpts *RootOptions) *cobra.Command {
	return newCrawlCommand(&CrawlOptions{RootOptions: rootOpts})
}

func newCrawlCommand(opts *CrawlOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured partitions once",
		Long: `Crawl every selected partition concurrently, then write the cleaned
records to the configured sinks and record the run in the history.

Example:
  scraper crawl --partitions de,tn --max-listings 50
  scraper crawl --strategy taxonomy --makes bmw,audi --sinks json,csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.Partitions, "partitions", "p", nil, "partitions to crawl (default from config)")
	f.StringVar(&opts.Strategy, "strategy", "", "enumeration strategy (paginated|taxonomy)")
	f.IntVar(&opts.MaxListings, "max-listings", 0, "cards per make search in paginated mode")
	f.IntVar(&opts.MaxPages, "max-pages", 0, "pages per make search (0 = no cap)")
	f.IntVar(&opts.PerPairLimit, "per-pair-limit", 0, "cards per make/model search in taxonomy mode")
	f.StringSliceVar(&opts.Makes, "makes", nil, "restrict the search to these makes")
	f.StringVar(&opts.Condition, "condition", "", "vehicle condition filter (new|used|all)")
	f.IntVar(&opts.MinPrice, "min-price", 0, "minimum price filter")
	f.IntVar(&opts.MaxPrice, "max-price", 0, "maximum price filter")
	f.BoolVar(&opts.NoDetails, "no-details", false, "skip detail pages and keep card data only")
	f.StringSliceVar(&opts.Sinks, "sinks", nil, "output sinks (json|csv|sqlite|postgres|rabbitmq|kafka)")
	f.StringVarP(&opts.OutputDir, "output-dir", "o", "", "directory for file sinks")
	f.BoolVar(&opts.NoHistory, "no-history", false, "do not record the run in the history")
	f.BoolVar(&opts.JSON, "json", false, "print the run result as JSON")

	return cmd
}

// apply copies the flags the user set onto cfg
func (o *CrawlOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("partitions") {
		cfg.Crawl.Partitions = o.Partitions
	}
	if changed("strategy") {
		cfg.Crawl.Strategy = o.Strategy
	}
	if changed("max-listings") {
		cfg.Crawl.MaxListings = o.MaxListings
	}
	if changed("max-pages") {
		cfg.Crawl.MaxPages = o.MaxPages
	}
	if changed("per-pair-limit") {
		cfg.Crawl.PerPairLimit = o.PerPairLimit
	}
	if changed("makes") {
		cfg.Crawl.Makes = o.Makes
	}
	if changed("condition") {
		cfg.Crawl.Condition = o.Condition
	}
	if changed("min-price") {
		cfg.Crawl.MinPrice = o.MinPrice
	}
	if changed("max-price") {
		cfg.Crawl.MaxPrice = o.MaxPrice
	}
	if o.NoDetails {
		cfg.Crawl.DetailPages = false
	}
	if changed("sinks") {
		cfg.Output.Sinks = o.Sinks
	}
	if changed("output-dir") {
		cfg.Output.Dir = o.OutputDir
	}
	if o.NoHistory {
		cfg.History.Enabled = false
	}
}

func runCrawl(cmd *cobra.Command, opts *CrawlOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	opts.apply(cmd, cfg)
	if err := validated(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start crawler", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.WithError(closeErr).Error("error closing crawler")
		}
	}()

	run, err := app.Crawls.Run(ctx, usecase.CrawlRequest{Partitions: cfg.Crawl.Partitions})
	if run == nil {
		return WrapExitError(ExitCommandError, "crawl failed", err)
	}
	if err != nil {
		log.WithError(err).Warn("[CRAWL] run result not cached")
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		if err := writeJSON(out, run); err != nil {
			return err
		}
	} else {
		printRunSummary(out, run)
	}

	if run.RecordCount() == 0 {
		return WrapExitError(ExitFailure, "crawl produced no records", nil)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRunSummary writes one row per partition plus the run totals
func printRunSummary(w io.Writer, run *domain.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tRECORDS\tCARDS\tDETAILS\tATTEMPTED\tRATE LIMITED\tERROR")
	for _, p := range run.Partitions {
		problem := p.Error
		if len(p.SinkErrors) > 0 {
			problem = strings.TrimSpace(problem + " " + strings.Join(p.SinkErrors, "; "))
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%v\t%s\n",
			p.Partition, len(p.Records), p.CardsCollected, p.DetailsMerged,
			p.Stats.Attempted, p.RateLimited, problem)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d records, %d requests, %d rate limited\n",
		run.ID, run.RecordCount(), run.Totals.Attempted, run.Totals.RateLimited)
	if run.Advice != "" {
		fmt.Fprintf(w, "advice: %s\n", run.Advice)
	}
}
