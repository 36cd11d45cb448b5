package ranking

import (
	"context"
	"fmt"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"
	"storyline/internal/persistence"
)

const stageName = "rank"

// Stage ranks the candidates of every searched, unprocessed item once.
type Stage struct {
	store  persistence.Repositories
	ranker *Ranker
	limit  int
	dryRun bool
}

// NewStage creates the ranking stage.
func NewStage(store persistence.Repositories, ranker *Ranker, limit int, dryRun bool) *Stage {
	return &Stage{store: store, ranker: ranker, limit: limit, dryRun: dryRun}
}

// Run replaces each item's raw candidates with its ranked top-K. Items whose
// candidates already carry positions are left alone.
func (s *Stage) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = s.dryRun
	defer func() { summary.Duration = time.Since(start) }()

	items, err := s.store.FeedItems().ListUnprocessed(ctx, s.limit)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list unprocessed items: %w", err))
	}

	for _, item := range items {
		if !item.Searched {
			continue
		}
		candidates, err := s.store.Candidates().ListForItem(ctx, item.ID)
		if err != nil {
			return summary, core.Fatal(stageName, fmt.Errorf("list candidates for %s: %w", item.ID, err))
		}
		if len(candidates) == 0 || alreadyRanked(candidates) {
			continue
		}
		summary.Processed++

		kept, scored, err := s.ranker.Rank(ctx, item, candidates)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logger.Warn("Ranking failed, candidates left unranked", "item_id", item.ID, "error", err.Error())
			summary.AddError(core.Capability(stageName, err))
			continue
		}
		summary.Created += len(kept)
		summary.Skipped += len(scored) - len(kept)

		for _, sc := range scored {
			logger.Debug("Candidate scored", "item_id", item.ID, "title", sc.Candidate.Title,
				"score", sc.Score, "included", sc.Included, "reason", sc.Reason)
		}
		if s.dryRun {
			continue
		}
		if err := s.store.Candidates().ReplaceForItem(ctx, item.ID, kept); err != nil {
			return summary, core.Fatal(stageName, fmt.Errorf("save ranked candidates for %s: %w", item.ID, err))
		}
	}

	logger.Info("Candidate ranking completed", "items", summary.Processed, "kept", summary.Created, "discarded", summary.Skipped)
	return summary, nil
}

func alreadyRanked(candidates []core.SearchCandidate) bool {
	for _, c := range candidates {
		if c.RankPosition > 0 {
			return true
		}
	}
	return false
}
