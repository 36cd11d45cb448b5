package postprocess

import (
	"context"
	"testing"
	"time"

	"storyline/internal/core"
	"storyline/internal/persistence"
	"storyline/internal/reputation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *persistence.MemoryStore, id string, searched bool, urls ...string) {
	t.Helper()
	ctx := context.Background()
	item := &core.FeedItem{
		ID:          id,
		Title:       "Headline " + id,
		Link:        "https://feed.test/" + id,
		ContentHash: "hash-" + id,
		PublishedAt: time.Now().Add(-time.Hour),
	}
	_, err := store.FeedItems().Upsert(ctx, item)
	require.NoError(t, err)
	if searched {
		require.NoError(t, store.FeedItems().MarkSearched(ctx, []string{id}))
	}
	var candidates []core.SearchCandidate
	for i, u := range urls {
		candidates = append(candidates, core.SearchCandidate{
			ID: id + "-c" + string(rune('a'+i)), FeedItemID: id, URL: u, RankPosition: i + 1, RankScore: 0.8,
		})
	}
	if len(candidates) > 0 {
		require.NoError(t, store.Candidates().ReplaceForItem(ctx, id, candidates))
	}
}

func TestRunMarksSettledItems(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	seed(t, store, "done", true, "https://a.test/1", "https://b.test/1")
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "done", []core.CrawlResult{
		{CandidateURL: "https://a.test/1", Status: core.CrawlFailed, Reason: core.ReasonTimeout, Domain: "a.test", AttemptOrder: 1},
		{CandidateURL: "https://b.test/1", Status: core.CrawlSuccess, Domain: "b.test", AttemptOrder: 2},
	}))

	seed(t, store, "partial", true, "https://a.test/2", "https://c.test/2")
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "partial", []core.CrawlResult{
		{CandidateURL: "https://a.test/2", Status: core.CrawlFailed, Reason: core.ReasonHTTPError, Domain: "a.test", AttemptOrder: 1},
	}))

	seed(t, store, "headline-only", true)
	seed(t, store, "unsearched", false)

	summary, err := NewStage(store, reputation.DefaultConfig(), Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)

	for id, want := range map[string]bool{"done": true, "headline-only": true, "partial": false, "unsearched": false} {
		item, err := store.FeedItems().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, item.Processed, id)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seed(t, store, "x", true)

	stage := NewStage(store, reputation.DefaultConfig(), Options{})
	first, err := stage.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)

	second, err := stage.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.Updated)
}

func TestRunRefreshesReputation(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	// Counted under an older, looser floor: 2 of 20 is far below the default.
	require.NoError(t, store.Domains().Upsert(ctx, &core.DomainReputation{
		Domain: "flaky.test", Successes: 2, Attempts: 20, LowerBound: 0.5,
	}))
	seed(t, store, "i", true, "https://flaky.test/a")
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "i", []core.CrawlResult{
		{CandidateURL: "https://flaky.test/a", Status: core.CrawlFailed, Reason: core.ReasonTimeout, Domain: "flaky.test", AttemptOrder: 1},
	}))

	_, err := NewStage(store, reputation.DefaultConfig(), Options{}).Run(ctx)
	require.NoError(t, err)

	rep, err := store.Domains().Get(ctx, "flaky.test")
	require.NoError(t, err)
	assert.True(t, rep.Blocked)
	assert.InDelta(t, 0.0279, rep.LowerBound, 0.001)
}

func TestRunRecountsReputationInWindow(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	// Crawl reruns counted the same failures again and blocked the domain.
	require.NoError(t, store.Domains().Upsert(ctx, &core.DomainReputation{
		Domain: "steady.test", Successes: 1, Attempts: 12, Blocked: true,
	}))

	recent := time.Now().Add(-time.Hour)
	outcomes := []core.CrawlResult{
		{Status: core.CrawlSuccess, AttemptedAt: recent},
		{Status: core.CrawlSuccess, AttemptedAt: recent},
		{Status: core.CrawlFailed, Reason: core.ReasonTimeout, AttemptedAt: recent},
		{Status: core.CrawlFailed, Reason: core.ReasonTooShort, AttemptedAt: recent},
		{Status: core.CrawlFailed, Reason: core.ReasonTimeout, AttemptedAt: time.Now().Add(-60 * 24 * time.Hour)},
	}
	for i, res := range outcomes {
		id := string(rune('a' + i))
		url := "https://steady.test/" + id
		seed(t, store, id, true, url)
		res.CandidateURL, res.Domain, res.AttemptOrder = url, "steady.test", 1
		require.NoError(t, store.CrawlResults().SaveAttempts(ctx, id, []core.CrawlResult{res}))
	}

	_, err := NewStage(store, reputation.DefaultConfig(), Options{Window: 30 * 24 * time.Hour}).Run(ctx)
	require.NoError(t, err)

	rep, err := store.Domains().Get(ctx, "steady.test")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Successes)
	assert.Equal(t, 3, rep.Attempts, "content-shape failures and attempts outside the window are not scored")
	assert.Equal(t, 1, rep.FailureCounts[core.ReasonTimeout])
	assert.Equal(t, 1, rep.FailureCounts[core.ReasonTooShort])
	assert.False(t, rep.Blocked)
	assert.InDelta(t, reputation.WilsonLowerBound(2, 3, reputation.DefaultZ), rep.LowerBound, 1e-9)
}

func TestMarkFromStore(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()

	// Legacy rows: a winner was stored without its sibling's outcome.
	seed(t, store, "legacy", true, "https://a.test/1", "https://b.test/1")
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "legacy", []core.CrawlResult{
		{CandidateURL: "https://a.test/1", Status: core.CrawlSuccess, Domain: "a.test", AttemptOrder: 1},
	}))

	summary, err := NewStage(store, reputation.DefaultConfig(), Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Updated)

	summary, err = NewStage(store, reputation.DefaultConfig(), Options{MarkFromStore: true}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seed(t, store, "x", true)

	summary, err := NewStage(store, reputation.DefaultConfig(), Options{DryRun: true}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Updated)

	item, err := store.FeedItems().Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, item.Processed)
}
