package handlers

import (
	"fmt"
	"strings"
	"time"

	"storyline/internal/config"
	"storyline/internal/pipeline"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the command that runs the daily batch
func NewRunCmd() *cobra.Command {
	var (
		opts    runOptions
		stages  string
		locales string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily batch",
		Long: `Run every stage of the daily batch in order:

  ingest → search → rank → crawl → postprocess → thread → brief

A stage that fails on some items records warnings and the run continues.
Only a fatal condition (no feed items at all, storage failure, missing
configuration) stops the run and makes the command exit non-zero.

Examples:
  # Full batch
  storyline run

  # Selection and scoring only, no writes and no paid calls
  storyline run --dry-run

  # Rerun the tail of the batch with Korean and English briefings
  storyline run --stages thread,brief --locales en,ko`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Locales = parseList(locales)
			selected := parseList(stages)
			if len(selected) == 0 {
				selected = defaultStages
			}
			return runStages(cmd, opts, selected)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Select and score without writes or paid calls")
	cmd.Flags().BoolVar(&opts.SkipSynthesis, "skip-synthesis", false, "Generate briefing text without audio")
	cmd.Flags().BoolVar(&opts.SkipPersist, "skip-persist", false, "Generate briefings without storing them")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "Per-request delay for search and crawl (overrides config)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Items processed in parallel (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items per stage (0 = all)")
	cmd.Flags().StringVar(&locales, "locales", "", "Comma separated briefing locales (overrides config)")
	cmd.Flags().StringVar(&stages, "stages", "", "Comma separated stages to run, in pipeline order")

	return cmd
}

// NewIngestCmd creates the ingest stage command
func NewIngestCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull configured feeds into new feed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"ingest"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Fetch and normalize without storing")
	return cmd
}

// NewSearchCmd creates the candidate search stage command
func NewSearchCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find candidate articles for unsearched items",
		Long: `Search a secondary surface for articles about each unsearched item.

Use --mark-searched-from-store to flag items that already have stored
candidates without searching again, e.g. after an interrupted run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"search"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Search without storing candidates")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "Pause between items (overrides config)")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Search provider: google_news, duckduckgo or mock")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items to search (0 = all)")
	cmd.Flags().BoolVar(&opts.MarkSearchedFromStore, "mark-searched-from-store", false, "Only flag items that already have candidates")
	return cmd
}

// NewRankCmd creates the ranking stage command
func NewRankCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Score candidates against their feed item and keep the top ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"rank"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Score with the local embedder without storing ranks")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items to rank (0 = all)")
	return cmd
}

// NewCrawlCmd creates the crawl stage command
func NewCrawlCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch ranked candidates and keep the first relevant article per item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"crawl"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Fetch and score without storing outcomes or calling the verifier")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "Per-request delay (overrides config)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Items crawled in parallel (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items to crawl (0 = all)")
	return cmd
}

// NewPostprocessCmd creates the post-processing stage command
func NewPostprocessCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "postprocess",
		Short: "Mark items processed and refresh domain reputation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"postprocess"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report what would be settled without writing")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items to settle (0 = all)")
	cmd.Flags().BoolVar(&opts.MarkProcessedFromStore, "mark-processed-from-store", false, "Settle every item that already has a winning crawl")
	return cmd
}

// NewThreadCmd creates the threading stage command
func NewThreadCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Group processed items into story threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"thread"})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Group with the local embedder without writing threads")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum items to thread (0 = all)")
	return cmd
}

// NewBriefCmd creates the briefing stage command
func NewBriefCmd() *cobra.Command {
	var (
		opts    runOptions
		date    string
		locales string
	)
	cmd := &cobra.Command{
		Use:   "brief",
		Short: "Generate the daily briefing for each locale",
		Long: `Generate one briefing per locale from the items of the briefing window.

Running it again for the same day replaces that day's briefing; use
--regenerate to include items an earlier run already briefed.

Examples:
  storyline brief
  storyline brief --date 2026-03-10 --regenerate --locales en,ja
  storyline brief --skip-synthesis --skip-persist`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
				opts.Date = d
			}
			opts.Locales = parseList(locales)
			return runStages(cmd, opts, []string{"brief"})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Briefing day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&locales, "locales", "", "Comma separated locales (overrides config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Collect and select only")
	cmd.Flags().BoolVar(&opts.SkipSynthesis, "skip-synthesis", false, "Generate text without audio")
	cmd.Flags().BoolVar(&opts.SkipPersist, "skip-persist", false, "Do not store briefings or audio")
	cmd.Flags().BoolVar(&opts.Regenerate, "regenerate", false, "Include items already briefed")
	return cmd
}

// NewPruneCmd creates the prune command
func NewPruneCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale junk items that never produced an article",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, []string{"prune"})
		},
	}
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "Retention window (overrides config, e.g. 720h)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report without deleting")
	return cmd
}

func runStages(cmd *cobra.Command, opts runOptions, stages []string) error {
	a, err := newApp(config.Get(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	p, err := pipeline.New(a.steps(), a.analytics).WithOutput(out).Select(stages)
	if err != nil {
		return err
	}
	if opts.DryRun {
		fmt.Fprintf(out, "Dry run: %s\n\n", strings.Join(p.Names(), ", "))
	}

	report, err := p.Run(cmd.Context())
	fmt.Fprintln(out, renderReport(report))
	return err
}
