// Package postprocess settles crawled items and refreshes domain reputations.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/reputation"
)

const stageName = "postprocess"

// Options controls one post-processing run.
type Options struct {
	Limit         int
	DryRun        bool
	MarkFromStore bool          // settle any item that already has a winner, ignoring unfinished siblings
	Window        time.Duration // crawl history domain counters are recounted from; 0 keeps stored counters
}

// Stage marks items processed once their crawl outcome is final.
type Stage struct {
	store persistence.Repositories
	cfg   reputation.Config
	opts  Options
}

// NewStage creates the stage.
func NewStage(store persistence.Repositories, cfg reputation.Config, opts Options) *Stage {
	return &Stage{store: store, cfg: cfg, opts: opts}
}

// Run flips processed on every searched item whose candidates all reached a
// terminal crawl status, then re-evaluates the reputation of each domain those
// items touched. Already processed items are never listed, so reruns do nothing.
func (s *Stage) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = s.opts.DryRun
	defer func() { summary.Duration = time.Since(start) }()

	items, err := s.store.FeedItems().ListUnprocessed(ctx, s.opts.Limit)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list unprocessed items: %w", err))
	}

	var ready []string
	domains := make(map[string]bool)
	for _, item := range items {
		if !item.Searched {
			continue
		}
		summary.Processed++

		done, touched, err := s.settled(ctx, item.ID)
		if err != nil {
			return summary, core.Fatal(stageName, err)
		}
		if !done {
			summary.Skipped++
			continue
		}
		ready = append(ready, item.ID)
		for _, d := range touched {
			domains[d] = true
		}
	}

	if s.opts.DryRun {
		summary.Updated = len(ready)
		logger.Info("Would mark items processed", "count", len(ready), "domains", len(domains))
		return summary, nil
	}

	refreshed, err := s.refreshDomains(ctx, domains)
	if err != nil {
		return summary, core.Fatal(stageName, err)
	}

	if len(ready) > 0 {
		n, err := s.store.FeedItems().MarkProcessed(ctx, ready)
		if err != nil {
			return summary, core.Fatal(stageName, fmt.Errorf("mark processed: %w", err))
		}
		summary.Updated = n
	}

	logger.Info("Post-processing completed", "processed", summary.Updated, "waiting", summary.Skipped, "domains_refreshed", refreshed)
	return summary, nil
}

// settled reports whether every candidate of the item has a terminal result and
// returns the domains its attempts touched.
func (s *Stage) settled(ctx context.Context, itemID string) (bool, []string, error) {
	candidates, err := s.store.Candidates().ListForItem(ctx, itemID)
	if err != nil {
		return false, nil, fmt.Errorf("list candidates for %s: %w", itemID, err)
	}
	results, err := s.store.CrawlResults().ListForItem(ctx, itemID)
	if err != nil {
		return false, nil, fmt.Errorf("list crawl results for %s: %w", itemID, err)
	}

	terminal := make(map[string]bool, len(results))
	won := false
	var touched []string
	for _, r := range results {
		if r.Status.Terminal() {
			terminal[r.CandidateURL] = true
		}
		if r.Status == core.CrawlSuccess {
			won = true
		}
		if r.Domain != "" {
			touched = append(touched, r.Domain)
		}
	}

	if won && s.opts.MarkFromStore {
		return true, touched, nil
	}
	for _, c := range candidates {
		if !terminal[c.URL] {
			return false, nil, nil
		}
	}
	return true, touched, nil
}

// refreshDomains recounts each domain's counters from the crawl history inside
// the window and re-evaluates its block decision with the current thresholds.
// Crawl results are upserted per candidate, so a crawl rerun is never counted
// twice. A domain with no history in the window keeps its stored counters.
func (s *Stage) refreshDomains(ctx context.Context, domains map[string]bool) (int, error) {
	tallies, err := s.recount(ctx, domains)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	sort.Strings(names)

	n := 0
	for _, d := range names {
		tally, counted := tallies[d]
		rep, err := s.store.Domains().Get(ctx, d)
		switch {
		case errors.Is(err, core.ErrNotFound):
			if !counted {
				continue
			}
			rep = &core.DomainReputation{Domain: d}
		case err != nil:
			return n, fmt.Errorf("load reputation %s: %w", d, err)
		}
		if counted {
			rep.Successes, rep.Attempts, rep.FailureCounts = tally.Successes, tally.Attempts, tally.FailureCounts
		}

		wasBlocked := rep.Blocked
		reputation.Evaluate(rep, s.cfg)
		rep.UpdatedAt = time.Now().UTC()
		if err := s.store.Domains().Upsert(ctx, rep); err != nil {
			return n, fmt.Errorf("save reputation %s: %w", d, err)
		}
		switch {
		case rep.Blocked && !wasBlocked:
			logger.Warn("Domain blocked", "domain", d, "lower_bound", rep.LowerBound, "attempts", rep.Attempts)
		case !rep.Blocked && wasBlocked:
			logger.Info("Domain unblocked", "domain", d, "lower_bound", rep.LowerBound, "attempts", rep.Attempts)
		}
		n++
	}
	return n, nil
}

// recount tallies the crawl outcomes of the given domains recorded inside the window.
func (s *Stage) recount(ctx context.Context, domains map[string]bool) (map[string]*core.DomainReputation, error) {
	if s.opts.Window <= 0 || len(domains) == 0 {
		return nil, nil
	}
	results, err := s.store.CrawlResults().ListSince(ctx, time.Now().UTC().Add(-s.opts.Window))
	if err != nil {
		return nil, fmt.Errorf("list recent crawl results: %w", err)
	}

	tallies := make(map[string]*core.DomainReputation)
	for _, r := range results {
		if !domains[r.Domain] {
			continue
		}
		t, ok := tallies[r.Domain]
		if !ok {
			t = &core.DomainReputation{Domain: r.Domain, FailureCounts: map[core.FailureReason]int{}}
			tallies[r.Domain] = t
		}
		reputation.Apply(t, r.Status, r.Reason)
	}
	return tallies, nil
}
