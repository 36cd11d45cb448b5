package ingest

import (
	"context"
	"fmt"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"
	"storyline/internal/persistence"
)

// Prune deletes junk items older than retention that never produced a
// successful crawl. A dry run only reports the cutoff.
func Prune(ctx context.Context, store persistence.Repositories, retention time.Duration, junkPaths []string, dryRun bool) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary("prune")
	summary.DryRun = dryRun
	defer func() { summary.Duration = time.Since(start) }()

	before := time.Now().UTC().Add(-retention)
	if dryRun {
		logger.Info("Dry run: prune skipped", "before", before.Format(time.RFC3339), "junk_paths", len(junkPaths))
		return summary, nil
	}
	n, err := store.FeedItems().DeleteStale(ctx, before, junkPaths)
	if err != nil {
		return summary, core.Fatal("prune", fmt.Errorf("delete stale items: %w", err))
	}
	summary.Processed = n
	logger.Info("Pruned stale items", "deleted", n, "before", before.Format(time.RFC3339))
	return summary, nil
}
