package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"storyline/internal/core"
	"storyline/internal/fetch"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const stageName = "search"

// Options controls one search stage run.
type Options struct {
	MaxResults    int
	MaxTerms      int
	Concurrency   int           // items searched at once; default 1
	ItemDelay     time.Duration // minimum spacing between item starts
	QueryDelay    time.Duration // pause between queries of one item
	SinceTime     time.Duration
	Language      string
	Region        string
	Limit         int
	DryRun        bool
	MarkFromStore bool // only flag items that already have candidates
}

// Searcher is the candidate search stage.
type Searcher struct {
	store    persistence.Repositories
	provider Provider
	policy   retry.Policy
	queries  *QueryBuilder
	opts     Options
}

// NewSearcher creates the stage.
func NewSearcher(store persistence.Repositories, provider Provider, policy retry.Policy, opts Options) *Searcher {
	return &Searcher{
		store:    store,
		provider: provider,
		policy:   policy,
		queries:  NewQueryBuilder(opts.MaxTerms),
		opts:     opts,
	}
}

// Run searches every unsearched item and records its candidates. Failed queries are
// logged and skipped; an item whose every query failed stays unsearched for the next run.
func (s *Searcher) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = s.opts.DryRun
	defer func() { summary.Duration = time.Since(start) }()

	items, err := s.store.FeedItems().ListUnsearched(ctx, s.opts.Limit)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list unsearched items: %w", err))
	}
	logger.Info("Starting candidate search", "items", len(items), "provider", s.provider.GetName(), "dry_run", s.opts.DryRun)

	if s.opts.MarkFromStore {
		return summary, s.markFromStore(ctx, items, summary)
	}

	concurrency := s.opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var spacing *rate.Limiter
	if s.opts.ItemDelay > 0 {
		spacing = rate.NewLimiter(rate.Every(s.opts.ItemDelay), 1)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, item := range items {
		g.Go(func() error {
			if spacing != nil {
				if err := spacing.Wait(gctx); err != nil {
					return err
				}
			}
			queries := s.queries.Queries(item)
			if s.opts.DryRun {
				logger.Info("Would search", "item_id", item.ID, "queries", strings.Join(queries, " | "))
				mu.Lock()
				summary.Processed++
				mu.Unlock()
				return nil
			}

			candidates, err := s.searchItem(gctx, item, queries)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("Search failed for item", "item_id", item.ID, "title", item.Title, "error", err.Error())
				mu.Lock()
				summary.Processed++
				summary.AddError(fmt.Errorf("item %s: %w", item.ID, err))
				mu.Unlock()
				return nil
			}

			if err := s.store.Candidates().ReplaceForItem(gctx, item.ID, candidates); err != nil {
				return core.Fatal(stageName, fmt.Errorf("save candidates for %s: %w", item.ID, err))
			}
			if err := s.store.FeedItems().MarkSearched(gctx, []string{item.ID}); err != nil {
				return core.Fatal(stageName, fmt.Errorf("mark searched %s: %w", item.ID, err))
			}
			mu.Lock()
			summary.Processed++
			summary.Created += len(candidates)
			if len(candidates) == 0 {
				summary.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	logger.Info("Candidate search completed", "processed", summary.Processed, "candidates", summary.Created, "failed", summary.Failed)
	return summary, nil
}

// searchItem runs the queries in order until one returns results. Errors only
// surface when no query succeeded at all.
func (s *Searcher) searchItem(ctx context.Context, item core.FeedItem, queries []string) ([]core.SearchCandidate, error) {
	if len(queries) == 0 {
		return nil, ErrEmptyQuery
	}

	cfg := Config{
		MaxResults: s.opts.MaxResults,
		SinceTime:  s.opts.SinceTime,
		Language:   s.opts.Language,
		Region:     s.opts.Region,
	}

	var errs []error
	succeeded := false
	for i, query := range queries {
		if i > 0 {
			if err := pause(ctx, s.opts.QueryDelay); err != nil {
				return nil, err
			}
		}

		var results []Result
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			results, err = s.provider.Search(ctx, query, cfg)
			if errors.Is(err, ErrBlocked) || errors.Is(err, ErrEmptyQuery) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			logger.Debug("Search query failed", "item_id", item.ID, "query", query, "error", err.Error())
			errs = append(errs, fmt.Errorf("query %q: %w", query, err))
			continue
		}
		succeeded = true

		if candidates := toCandidates(item, results, s.provider.GetName()); len(candidates) > 0 {
			return candidates, nil
		}
	}

	if !succeeded {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// toCandidates drops results that point back at the item's own link and repeats.
func toCandidates(item core.FeedItem, results []Result, provider string) []core.SearchCandidate {
	own := ""
	if c, err := fetch.Canonicalize(item.Link); err == nil {
		own = c
	}

	seen := make(map[string]bool)
	now := time.Now().UTC()
	var out []core.SearchCandidate
	for _, r := range results {
		if r.URL == "" || r.Title == "" || seen[r.URL] {
			continue
		}
		if c, err := fetch.Canonicalize(r.URL); err == nil && c == own {
			continue
		}
		seen[r.URL] = true
		out = append(out, core.SearchCandidate{
			ID:         uuid.NewString(),
			FeedItemID: item.ID,
			Title:      r.Title,
			URL:        r.URL,
			Provider:   provider,
			CreatedAt:  now,
		})
	}
	return out
}

// markFromStore flags items whose candidates were already recorded by an earlier run.
func (s *Searcher) markFromStore(ctx context.Context, items []core.FeedItem, summary *core.StageSummary) error {
	var ids []string
	for _, item := range items {
		summary.Processed++
		candidates, err := s.store.Candidates().ListForItem(ctx, item.ID)
		if err != nil {
			return core.Fatal(stageName, fmt.Errorf("list candidates for %s: %w", item.ID, err))
		}
		if len(candidates) == 0 {
			summary.Skipped++
			continue
		}
		ids = append(ids, item.ID)
	}
	if s.opts.DryRun || len(ids) == 0 {
		return nil
	}
	if err := s.store.FeedItems().MarkSearched(ctx, ids); err != nil {
		return core.Fatal(stageName, fmt.Errorf("mark searched: %w", err))
	}
	summary.Updated = len(ids)
	logger.Info("Marked items searched from store", "count", len(ids))
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
