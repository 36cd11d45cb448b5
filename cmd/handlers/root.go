package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storyline/internal/config"
	"storyline/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storyline",
		Short: "Storyline turns news feeds into threaded stories and a daily spoken briefing.",
		Long: `Storyline runs a daily batch over headline feeds:

  ingest → search → rank → crawl → postprocess → thread → brief

Each stage persists its output before the next starts, so any stage can be
rerun on its own. Use 'storyline run' for the whole batch.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.storyline.yaml or $HOME/.storyline.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewSearchCmd())
	rootCmd.AddCommand(NewRankCmd())
	rootCmd.AddCommand(NewCrawlCmd())
	rootCmd.AddCommand(NewPostprocessCmd())
	rootCmd.AddCommand(NewThreadCmd())
	rootCmd.AddCommand(NewBriefCmd())
	rootCmd.AddCommand(NewPruneCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

// Execute runs the root command. The process exits non-zero only when a
// command returns an error, which for pipeline commands means a fatal stage.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads the config file and environment, then rebuilds the logger
// from the logging section.
func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	level := cfg.Logging.Level
	if cfg.App.Debug {
		level = "debug"
	}
	logger.Configure(logger.Options{Level: level, Format: cfg.Logging.Format})
	return nil
}
