package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"storyline/internal/core"
	"storyline/internal/fetch"
	"storyline/internal/persistence"
	"storyline/internal/reputation"
	"storyline/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZones(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  Zone
	}{
		{0.95, ZoneAccept},
		{0.6, ZoneAccept},
		{0.59, ZoneUncertain},
		{0.35, ZoneUncertain},
		{0.34, ZoneReject},
		{0, ZoneReject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Zone(tt.score), "score %.2f", tt.score)
	}

	assert.True(t, th.Verified(&core.VerificationResult{SameEvent: true, Relevance: 2}))
	assert.True(t, th.Verified(&core.VerificationResult{Relevance: 6}))
	assert.False(t, th.Verified(&core.VerificationResult{Relevance: 5.9}))
	assert.False(t, th.Verified(nil))
}

func TestWeightedScore(t *testing.T) {
	assert.InDelta(t, 0.8, WeightedScore(0.8, 1), 1e-9)
	assert.InDelta(t, 0.72, WeightedScore(0.8, 3), 1e-9)
	assert.InDelta(t, 0.6, WeightedScore(0.8, 20), 1e-9)
}

func rankedCandidates(n int) []core.SearchCandidate {
	out := make([]core.SearchCandidate, n)
	for i := range out {
		out[i] = core.SearchCandidate{
			ID:           fmt.Sprintf("c%d", i+1),
			URL:          fmt.Sprintf("https://news.google.com/rss/articles/%d", i+1),
			RankPosition: i + 1,
			RankScore:    0.9 - 0.1*float64(i),
		}
	}
	return out
}

func TestReducerFirstSuccessWins(t *testing.T) {
	cands := rankedCandidates(3)
	// Input order must not matter, only rank position.
	r := NewReducer("item", []core.SearchCandidate{cands[2], cands[0], cands[1]})

	idx, ok := r.Next()
	require.True(t, ok)
	first := r.Pending(idx)
	assert.Equal(t, 1, first.AttemptOrder)
	first.Status, first.Reason, first.Detail = core.CrawlFailed, core.ReasonTimeout, "deadline"
	r.Record(idx, first)

	idx, ok = r.Next()
	require.True(t, ok)
	second := r.Pending(idx)
	assert.Equal(t, 2, second.AttemptOrder)
	second.Status = core.CrawlSuccess
	second.ResolvedURL = "https://reuters.com/fed"
	r.Record(idx, second)

	_, ok = r.Next()
	assert.False(t, ok, "no attempts after a winner")
	assert.True(t, r.Complete())

	results := r.Results()
	require.Len(t, results, 3)
	successes := 0
	for _, res := range results {
		if res.Status == core.CrawlSuccess {
			successes++
			continue
		}
		assert.Equal(t, core.CrawlSkipped, res.Status)
		assert.Equal(t, core.ReasonSuperseded, res.Reason)
		assert.Contains(t, res.Detail, "https://reuters.com/fed")
	}
	assert.Equal(t, 1, successes)
	assert.Contains(t, results[0].Detail, "earlier outcome timeout")
	assert.Equal(t, 3, results[2].AttemptOrder)
	assert.InDelta(t, WeightedScore(0.7, 3), results[2].WeightedScore, 1e-9, "unfetched siblings keep a weighted score")

	winner, ok := r.Winner()
	require.True(t, ok)
	assert.Equal(t, 2, winner.AttemptOrder)
}

func TestReducerDemotesLateSuccess(t *testing.T) {
	r := NewReducer("item", rankedCandidates(2))
	r.Record(0, core.CrawlResult{Status: core.CrawlSuccess})
	r.Record(1, core.CrawlResult{Status: core.CrawlSuccess})

	results := r.Results()
	assert.Equal(t, core.CrawlSuccess, results[0].Status)
	assert.Equal(t, core.CrawlSkipped, results[1].Status)
}

func TestReducerWithoutWinnerKeepsFailures(t *testing.T) {
	r := NewReducer("item", rankedCandidates(2))
	for {
		idx, ok := r.Next()
		if !ok {
			break
		}
		r.Record(idx, core.CrawlResult{Status: core.CrawlFailed, Reason: core.ReasonHTTPError})
	}
	_, won := r.Winner()
	assert.False(t, won)
	for _, res := range r.Results() {
		assert.Equal(t, core.CrawlFailed, res.Status)
	}
}

// fakes

type fakeResolver struct {
	byURL map[string]fetch.Resolution
	errs  map[string]error
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string) (fetch.Resolution, error) {
	if err, ok := f.errs[rawURL]; ok {
		return fetch.Resolution{}, err
	}
	if r, ok := f.byURL[rawURL]; ok {
		return r, nil
	}
	return fetch.Resolution{}, fmt.Errorf("resolve %s: %w", rawURL, fetch.ErrInvalidURL)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetch.Page
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if p, ok := f.pages[rawURL]; ok {
		return p, nil
	}
	return nil, &fetch.HTTPError{URL: rawURL, StatusCode: 404}
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// markerEmbedder maps the headline to the x axis and page text to a vector
// chosen by a marker word, so each page lands in a known zone.
type markerEmbedder struct{ err error }

func (m markerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	switch {
	case strings.Contains(text, "MATCH"):
		return []float64{1, 0, 0}, nil // 1.0, accept
	case strings.Contains(text, "MAYBE"):
		return []float64{0.5, 0.8660254, 0}, nil // 0.5, uncertain upper half
	case strings.Contains(text, "WEAK"):
		return []float64{0.4, 0.9165151, 0}, nil // 0.4, uncertain lower half
	case strings.Contains(text, "NOPE"):
		return []float64{0, 1, 0}, nil // 0, reject
	}
	return []float64{1, 0, 0}, nil
}

type fakeVerifier struct {
	result *core.VerificationResult
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, source, candidate string) (*core.VerificationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := *f.result
	return &v, nil
}

func page(marker string) *fetch.Page {
	return &fetch.Page{Title: "Story", Text: marker + " " + strings.Repeat("body text ", 20)}
}

type env struct {
	store    *persistence.MemoryStore
	resolver *fakeResolver
	fetcher  *fakeFetcher
	item     core.FeedItem
}

// newEnv seeds one searched item with n ranked candidates resolving to https://site<i>.test/a.
func newEnv(t *testing.T, n int) *env {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	item := &core.FeedItem{Title: "Fed Holds Rates Steady", Link: "https://feed.test/1", ContentHash: "h1", PublishedAt: time.Now().UTC()}
	_, err := store.FeedItems().Upsert(ctx, item)
	require.NoError(t, err)
	require.NoError(t, store.FeedItems().MarkSearched(ctx, []string{item.ID}))

	cands := rankedCandidates(n)
	resolver := &fakeResolver{byURL: map[string]fetch.Resolution{}, errs: map[string]error{}}
	for i := range cands {
		cands[i].FeedItemID = item.ID
		canonical := fmt.Sprintf("https://site%d.test/a", i+1)
		resolver.byURL[cands[i].URL] = fetch.Resolution{
			Original: cands[i].URL, CanonicalURL: canonical, Domain: fmt.Sprintf("site%d.test", i+1), Hash: fetch.HashURL(canonical),
		}
	}
	require.NoError(t, store.Candidates().ReplaceForItem(ctx, item.ID, cands))

	return &env{
		store:    store,
		resolver: resolver,
		fetcher:  &fakeFetcher{pages: map[string]*fetch.Page{}, errs: map[string]error{}},
		item:     *item,
	}
}

func (e *env) crawler(verifier Verifier, emb markerEmbedder) *Crawler {
	var v Verifier
	if fv, ok := verifier.(*fakeVerifier); ok && fv != nil {
		v = fv
	}
	gate := reputation.NewGate(reputation.DefaultConfig(), e.store.Domains())
	return NewCrawler(e.store, e.resolver, e.fetcher, gate, emb, v, retry.Once("crawl"),
		DefaultThresholds(), Options{Concurrency: 2, ContentBudget: 800, MinContentLength: 50})
}

func (e *env) results(t *testing.T) map[int]core.CrawlResult {
	t.Helper()
	list, err := e.store.CrawlResults().ListForItem(context.Background(), e.item.ID)
	require.NoError(t, err)
	out := make(map[int]core.CrawlResult, len(list))
	for _, r := range list {
		out[r.AttemptOrder] = r
	}
	return out
}

func TestCrawlerStopsAtFirstSuccess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 3)
	e.resolver.errs["https://news.google.com/rss/articles/1"] = fetch.ErrSearchSurface
	e.fetcher.pages["https://site2.test/a"] = page("MATCH")
	e.fetcher.pages["https://site3.test/a"] = page("MATCH")

	summary, err := e.crawler(nil, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Updated)

	assert.Equal(t, []string{"https://site2.test/a"}, e.fetcher.Calls(), "third candidate must never be fetched")

	results := e.results(t)
	require.Len(t, results, 3)
	assert.Equal(t, core.CrawlSkipped, results[1].Status)
	assert.Contains(t, results[1].Detail, string(core.ReasonResolveFailed))
	assert.Equal(t, core.CrawlSuccess, results[2].Status)
	assert.Equal(t, "site2.test", results[2].Domain)
	assert.InDelta(t, 1.0, results[2].RelevanceScore, 1e-6)
	assert.LessOrEqual(t, len([]rune(results[2].Content)), 800)
	assert.Equal(t, core.CrawlSkipped, results[3].Status)
	assert.Equal(t, core.ReasonSuperseded, results[3].Reason)

	rep, err := e.store.Domains().Get(ctx, "site2.test")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Successes)
	assert.Equal(t, 1, rep.Attempts)
}

func TestCrawlerRejectThenAccept(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2)
	e.fetcher.pages["https://site1.test/a"] = page("NOPE")
	e.fetcher.pages["https://site2.test/a"] = page("MATCH")
	verifier := &fakeVerifier{result: &core.VerificationResult{SameEvent: true}}

	_, err := e.crawler(verifier, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, verifier.calls, "clear zones never escalate")
	results := e.results(t)
	assert.Equal(t, core.CrawlSkipped, results[1].Status)
	assert.Contains(t, results[1].Detail, string(core.ReasonMismatch))
	assert.Equal(t, core.CrawlSuccess, results[2].Status)

	rep, err := e.store.Domains().Get(ctx, "site1.test")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FailureCounts[core.ReasonMismatch])
	assert.Equal(t, 0, rep.Attempts, "mismatch is content shape and never scored")
}

func TestCrawlerUncertainEscalatesToVerification(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1)
	e.fetcher.pages["https://site1.test/a"] = page("WEAK")
	verifier := &fakeVerifier{result: &core.VerificationResult{Relevance: 8, Importance: core.ImportanceMustRead, Keywords: []string{"fed"}}}

	_, err := e.crawler(verifier, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, verifier.calls)
	res := e.results(t)[1]
	assert.Equal(t, core.CrawlSuccess, res.Status)
	require.NotNil(t, res.Verification)
	assert.Equal(t, 8.0, res.Verification.Relevance)

	item, err := e.store.FeedItems().Get(ctx, e.item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ImportanceMustRead, item.Importance)
}

func TestCrawlerVerificationRejects(t *testing.T) {
	e := newEnv(t, 1)
	e.fetcher.pages["https://site1.test/a"] = page("MAYBE")
	verifier := &fakeVerifier{result: &core.VerificationResult{Relevance: 3}}

	_, err := e.crawler(verifier, markerEmbedder{}).Run(context.Background())
	require.NoError(t, err)

	res := e.results(t)[1]
	assert.Equal(t, core.CrawlFailed, res.Status)
	assert.Equal(t, core.ReasonMismatch, res.Reason)
}

func TestCrawlerVerificationUnavailableFallsBack(t *testing.T) {
	e := newEnv(t, 2)
	e.fetcher.pages["https://site1.test/a"] = page("WEAK")
	e.fetcher.pages["https://site2.test/a"] = page("MAYBE")
	verifier := &fakeVerifier{err: core.Capability("verify", errors.New("model unavailable"))}

	summary, err := e.crawler(verifier, markerEmbedder{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed)

	results := e.results(t)
	assert.Equal(t, core.CrawlSkipped, results[1].Status, "0.4 falls in the lower half and is rejected, then superseded")
	assert.Equal(t, core.CrawlSuccess, results[2].Status, "0.5 falls in the upper half and is accepted")
}

func TestCrawlerContentShapeFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 3)
	e.fetcher.pages["https://site1.test/a"] = &fetch.Page{Text: "too short"}
	e.fetcher.errs["https://site2.test/a"] = fetch.ErrPaywall
	e.fetcher.errs["https://site3.test/a"] = &fetch.HTTPError{URL: "https://site3.test/a", StatusCode: 503}

	summary, err := e.crawler(nil, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped, "item ends without a winner")

	results := e.results(t)
	assert.Equal(t, core.ReasonTooShort, results[1].Reason)
	assert.Equal(t, core.ReasonPaywall, results[2].Reason)
	assert.Equal(t, core.ReasonHTTPError, results[3].Reason)
	for _, r := range results {
		assert.Equal(t, core.CrawlFailed, r.Status)
	}

	short, _ := e.store.Domains().Get(ctx, "site1.test")
	broken, _ := e.store.Domains().Get(ctx, "site3.test")
	assert.Equal(t, 0, short.Attempts)
	assert.Equal(t, 1, broken.Attempts)
}

func TestCrawlerSkipsBlockedDomain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2)
	require.NoError(t, e.store.Domains().Upsert(ctx, &core.DomainReputation{Domain: "site1.test", Attempts: 20, Successes: 2, Blocked: true}))
	e.fetcher.pages["https://site2.test/a"] = page("MATCH")

	_, err := e.crawler(nil, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://site2.test/a"}, e.fetcher.Calls())
	results := e.results(t)
	assert.Contains(t, results[1].Detail, string(core.ReasonBlocked))
	assert.Equal(t, core.CrawlSuccess, results[2].Status)
}

func TestCrawlerRerunIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1)
	e.fetcher.pages["https://site1.test/a"] = page("MATCH")

	_, err := e.crawler(nil, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)
	summary, err := e.crawler(nil, markerEmbedder{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Len(t, e.fetcher.Calls(), 1)
	assert.Len(t, e.results(t), 1)
}

func TestCrawlerEmbeddingOutageLeavesItemForLater(t *testing.T) {
	e := newEnv(t, 1)
	e.fetcher.pages["https://site1.test/a"] = page("MATCH")

	summary, err := e.crawler(nil, markerEmbedder{err: errors.New("embedding service down")}).Run(context.Background())
	require.NoError(t, err, "capability errors are not fatal")
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, e.results(t))
}

func TestCrawlerDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 1)
	e.fetcher.pages["https://site1.test/a"] = page("MATCH")

	gate := reputation.NewGate(reputation.DefaultConfig(), e.store.Domains())
	c := NewCrawler(e.store, e.resolver, e.fetcher, gate, markerEmbedder{}, nil, retry.Once("crawl"),
		DefaultThresholds(), Options{MinContentLength: 50, DryRun: true})
	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Empty(t, e.results(t))

	_, err = e.store.Domains().Get(ctx, "site1.test")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
