package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyline/internal/core"
	"storyline/internal/embedding"
	"storyline/internal/fetch"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/reputation"
	"storyline/internal/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const stageName = "crawl"

// Resolver follows a candidate's redirects to its canonical URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (fetch.Resolution, error)
}

// Fetcher downloads a page and extracts its text.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Verifier is the secondary judgment used for uncertain scores.
type Verifier interface {
	Verify(ctx context.Context, source, candidate string) (*core.VerificationResult, error)
}

// Options controls one crawl run.
type Options struct {
	Concurrency      int
	ContentBudget    int
	MinContentLength int
	Limit            int
	DryRun           bool
}

// Crawler is the crawl and quality validation stage.
type Crawler struct {
	store      persistence.Repositories
	resolver   Resolver
	fetcher    Fetcher
	gate       *reputation.Gate
	embedder   embedding.Embedder
	verifier   Verifier // nil disables verification
	policy     retry.Policy
	thresholds Thresholds
	opts       Options
}

// NewCrawler wires the stage.
func NewCrawler(store persistence.Repositories, resolver Resolver, fetcher Fetcher, gate *reputation.Gate,
	embedder embedding.Embedder, verifier Verifier, policy retry.Policy, thresholds Thresholds, opts Options) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ContentBudget <= 0 {
		opts.ContentBudget = 800
	}
	return &Crawler{
		store:      store,
		resolver:   resolver,
		fetcher:    fetcher,
		gate:       gate,
		embedder:   embedder,
		verifier:   verifier,
		policy:     policy,
		thresholds: thresholds,
		opts:       opts,
	}
}

// Run crawls every searched, unprocessed item that has ranked candidates and no
// settled outcome yet. Items run concurrently up to the configured limit; the
// candidates of one item always run sequentially in rank order.
func (c *Crawler) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = c.opts.DryRun
	defer func() { summary.Duration = time.Since(start) }()

	items, err := c.store.FeedItems().ListUnprocessed(ctx, c.opts.Limit)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list unprocessed items: %w", err))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, item := range items {
		if !item.Searched {
			continue
		}
		g.Go(func() error {
			outcome, err := c.crawlItem(gctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case core.IsFatal(err):
				return err
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("Crawl failed for item", "item_id", item.ID, "error", err.Error())
				summary.AddError(fmt.Errorf("item %s: %w", item.ID, err))
			case outcome == nil:
				// nothing to do for this item
			default:
				summary.Processed++
				summary.Created += outcome.attempts
				if outcome.success {
					summary.Updated++
				} else {
					summary.Skipped++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if !c.opts.DryRun && c.gate != nil {
		n, err := c.gate.Flush(ctx, nil)
		if err != nil {
			return summary, core.Fatal(stageName, err)
		}
		logger.Debug("Domain reputations saved", "domains", n)
	}

	logger.Info("Crawl completed", "items", summary.Processed, "winners", summary.Updated,
		"without_winner", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

type itemOutcome struct {
	attempts int
	success  bool
}

// crawlItem runs the reducer for one item and saves its attempts. A nil outcome
// means the item had nothing left to crawl.
func (c *Crawler) crawlItem(ctx context.Context, item core.FeedItem) (*itemOutcome, error) {
	candidates, err := c.store.Candidates().ListForItem(ctx, item.ID)
	if err != nil {
		return nil, core.Fatal(stageName, fmt.Errorf("list candidates for %s: %w", item.ID, err))
	}
	ranked := candidates[:0:0]
	for _, cand := range candidates {
		if cand.RankPosition > 0 {
			ranked = append(ranked, cand)
		}
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	settled, err := c.settled(ctx, item.ID, ranked)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, nil
	}

	reducer := NewReducer(item.ID, ranked)
	a := &attempter{Crawler: c, item: item, seen: make(map[string]string)}
	for {
		idx, ok := reducer.Next()
		if !ok {
			break
		}
		res, err := a.attempt(ctx, reducer.Pending(idx))
		if err != nil {
			return nil, err
		}
		reducer.Record(idx, res)
	}

	results := reducer.Results()
	winner, won := reducer.Winner()
	if c.opts.DryRun {
		logOutcome(item, results)
		return &itemOutcome{attempts: len(results), success: won}, nil
	}

	if err := c.store.CrawlResults().SaveAttempts(ctx, item.ID, results); err != nil {
		return nil, core.Fatal(stageName, fmt.Errorf("save attempts for %s: %w", item.ID, err))
	}
	if won && winner.Verification != nil {
		if err := c.store.FeedItems().SetImportance(ctx, item.ID, winner.Verification.Importance); err != nil {
			return nil, core.Fatal(stageName, fmt.Errorf("set importance for %s: %w", item.ID, err))
		}
	}
	logOutcome(item, results)
	return &itemOutcome{attempts: len(results), success: won}, nil
}

// settled reports whether the item already has a winner or a terminal result for
// every ranked candidate.
func (c *Crawler) settled(ctx context.Context, itemID string, ranked []core.SearchCandidate) (bool, error) {
	existing, err := c.store.CrawlResults().ListForItem(ctx, itemID)
	if err != nil {
		return false, core.Fatal(stageName, fmt.Errorf("list crawl results for %s: %w", itemID, err))
	}
	done := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.Status == core.CrawlSuccess {
			return true, nil
		}
		if r.Status.Terminal() {
			done[r.CandidateURL] = true
		}
	}
	for _, cand := range ranked {
		if !done[cand.URL] {
			return false, nil
		}
	}
	return true, nil
}

func logOutcome(item core.FeedItem, results []core.CrawlResult) {
	for _, r := range results {
		logger.Debug("Crawl attempt", "item_id", item.ID, "order", r.AttemptOrder, "url", r.CandidateURL,
			"status", string(r.Status), "reason", string(r.Reason), "relevance", r.RelevanceScore,
			"weighted", r.WeightedScore)
	}
}

// attempter carries the per-item state of a crawl: the lazily embedded source
// headline and the canonical URLs already tried.
type attempter struct {
	*Crawler
	item   core.FeedItem
	source []float64
	seen   map[string]string // canonical URL -> candidate URL
}

// attempt resolves, gates, fetches and scores one candidate. Only fatal,
// capability and context errors are returned; other failures become the result.
func (a *attempter) attempt(ctx context.Context, res core.CrawlResult) (core.CrawlResult, error) {
	res.ID = uuid.NewString()
	res.AttemptedAt = time.Now().UTC()

	resolution, err := a.resolver.Resolve(ctx, res.CandidateURL)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return failed(res, fetch.Classify(err), err), nil
	}
	res.ResolvedURL = resolution.CanonicalURL
	res.Domain = resolution.Domain
	res.URLHash = resolution.Hash

	if prior, dup := a.seen[resolution.CanonicalURL]; dup {
		res.Status = core.CrawlSkipped
		res.Reason = core.ReasonSuperseded
		res.Detail = "same canonical url as " + prior
		return res, nil
	}
	a.seen[resolution.CanonicalURL] = res.CandidateURL

	if a.gate != nil {
		allowed, err := a.gate.Allow(ctx, res.Domain)
		if err != nil {
			return res, core.Fatal(stageName, err)
		}
		if !allowed {
			res.Status = core.CrawlSkipped
			res.Reason = core.ReasonBlocked
			res.Detail = "domain blocked by reputation"
			return res, nil
		}
	}

	res, err = a.fetchAndScore(ctx, res)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		return res, err
	}
	if a.gate != nil {
		if err := a.gate.Record(ctx, res.Domain, res.Status, res.Reason); err != nil {
			return res, core.Fatal(stageName, err)
		}
	}
	return res, nil
}

// fetchAndScore returns an error only when relevance cannot be computed at all;
// the item is then left for a later run instead of blaming the domain.
func (a *attempter) fetchAndScore(ctx context.Context, res core.CrawlResult) (core.CrawlResult, error) {
	var page *fetch.Page
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = a.fetcher.Fetch(ctx, res.ResolvedURL)
		if err != nil && !retryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return failed(res, fetch.Classify(err), err), nil
	}

	if n := len([]rune(page.Text)); n < a.opts.MinContentLength {
		return failed(res, core.ReasonTooShort, fmt.Errorf("%d characters, need %d", n, a.opts.MinContentLength)), nil
	}
	if fetch.IsPaywalled(page.Text) {
		return failed(res, core.ReasonPaywall, fetch.ErrPaywall), nil
	}

	res.Title = page.Title
	res.Content = fetch.Truncate(page.Text, a.opts.ContentBudget)

	score, err := a.relevance(ctx, res)
	if err != nil {
		return res, core.Capability(stageName, err)
	}
	res.RelevanceScore = score
	res.WeightedScore = WeightedScore(score, res.AttemptOrder)

	switch a.thresholds.Zone(score) {
	case ZoneAccept:
		res.Status = core.CrawlSuccess
	case ZoneReject:
		return failed(res, core.ReasonMismatch, fmt.Errorf("relevance %.3f below %.2f", score, a.thresholds.Reject)), nil
	default:
		if !a.decideUncertain(ctx, &res) {
			return failed(res, core.ReasonMismatch, fmt.Errorf("relevance %.3f not confirmed", score)), nil
		}
		res.Status = core.CrawlSuccess
	}
	return res, nil
}

// decideUncertain escalates to verification. When the verifier is absent or
// unavailable the embedding-only fallback decides.
func (a *attempter) decideUncertain(ctx context.Context, res *core.CrawlResult) bool {
	if a.verifier == nil || a.opts.DryRun {
		return a.thresholds.Fallback(res.RelevanceScore)
	}
	candidate := res.Title + "\n\n" + res.Content
	v, err := a.verifier.Verify(ctx, a.item.HeadlineText(), candidate)
	if err != nil {
		logger.Warn("Verification unavailable, using embedding score", "item_id", a.item.ID,
			"url", res.ResolvedURL, "error", err.Error())
		return a.thresholds.Fallback(res.RelevanceScore)
	}
	v.CrawlResultID = res.ID
	res.Verification = v
	return a.thresholds.Verified(v)
}

func (a *attempter) relevance(ctx context.Context, res core.CrawlResult) (float64, error) {
	if a.source == nil {
		v, err := a.embedder.Embed(ctx, a.item.HeadlineText())
		if err != nil {
			return 0, fmt.Errorf("embed headline: %w", err)
		}
		a.source = v
	}
	text := res.Content
	if res.Title != "" {
		text = res.Title + "\n" + res.Content
	}
	v, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed content: %w", err)
	}
	return embedding.CosineSimilarity(a.source, v), nil
}

func failed(res core.CrawlResult, reason core.FailureReason, err error) core.CrawlResult {
	res.Status = core.CrawlFailed
	res.Reason = reason
	res.Content = ""
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}

// retryable separates transport failures from answers that will not change.
func retryable(err error) bool {
	var httpErr *fetch.HTTPError
	switch {
	case errors.Is(err, fetch.ErrPaywall), errors.Is(err, fetch.ErrParse), errors.Is(err, fetch.ErrInvalidURL):
		return false
	case errors.As(err, &httpErr):
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	return true
}
