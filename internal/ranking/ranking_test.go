package ranking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"storyline/internal/core"
	"storyline/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors per text and a default for anything else.
type fakeEmbedder struct {
	vectors map[string][]float64
	calls   int
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func TestRankFedExample(t *testing.T) {
	item := core.FeedItem{ID: "i1", Title: "Fed Holds Rates Steady"}
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Fed Holds Rates Steady":                {1, 0.1, 0},
		"Federal Reserve keeps rates unchanged": {0.9, 0.5, 0},
		"Local team wins championship":          {0, 0.2, 1},
	}}
	candidates := []core.SearchCandidate{
		{ID: "c2", Title: "Local team wins championship", URL: "https://b.test"},
		{ID: "c1", Title: "Federal Reserve keeps rates unchanged", URL: "https://a.test"},
	}

	kept, scored, err := NewRanker(emb, 5, 0.3).Rank(context.Background(), item, candidates)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "c1", kept[0].ID)
	assert.Equal(t, 1, kept[0].RankPosition)
	assert.InDelta(t, 0.9, kept[0].RankScore, 0.05)
	assert.Len(t, scored, 2)
	assert.False(t, scored[1].Included)
}

func TestSelectProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		scored := make([]Scored, n)
		for i := range scored {
			scored[i] = Scored{
				Candidate: core.SearchCandidate{ID: fmt.Sprint(i), Title: fmt.Sprintf("t%d", rng.Intn(4)), URL: fmt.Sprintf("https://x.test/%d", i)},
				Score:     float64(rng.Intn(10)) / 10,
			}
		}
		topK := 1 + rng.Intn(6)

		kept := Select(scored, topK, 0.3)

		require.LessOrEqual(t, len(kept), topK)
		for i, c := range kept {
			assert.Greater(t, c.RankScore, 0.3)
			assert.Equal(t, i+1, c.RankPosition)
			if i > 0 {
				assert.GreaterOrEqual(t, kept[i-1].RankScore, c.RankScore)
			}
		}
	}
}

func TestSelectIsDeterministicAcrossInputOrder(t *testing.T) {
	base := []Scored{
		{Candidate: core.SearchCandidate{ID: "a", Title: "Same", URL: "https://b.test"}, Score: 0.7},
		{Candidate: core.SearchCandidate{ID: "b", Title: "Same", URL: "https://a.test"}, Score: 0.7},
		{Candidate: core.SearchCandidate{ID: "c", Title: "Other", URL: "https://c.test"}, Score: 0.7},
		{Candidate: core.SearchCandidate{ID: "d", Title: "Top", URL: "https://d.test"}, Score: 0.9},
	}
	reversed := make([]Scored, len(base))
	for i := range base {
		reversed[len(base)-1-i] = base[i]
	}

	first := Select(append([]Scored(nil), base...), 5, 0.3)
	second := Select(reversed, 5, 0.3)

	ids := func(c []core.SearchCandidate) []string {
		out := make([]string, len(c))
		for i := range c {
			out[i] = c[i].ID
		}
		return out
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(first))
	assert.Equal(t, ids(first), ids(second))
}

func TestSelectExcludesFloorAndCapsTopK(t *testing.T) {
	scored := []Scored{
		{Candidate: core.SearchCandidate{ID: "1"}, Score: 0.95},
		{Candidate: core.SearchCandidate{ID: "2"}, Score: 0.85},
		{Candidate: core.SearchCandidate{ID: "3"}, Score: 0.75},
		{Candidate: core.SearchCandidate{ID: "4"}, Score: 0.3},
		{Candidate: core.SearchCandidate{ID: "5"}, Score: 0.1},
	}
	kept := Select(scored, 2, 0.3)
	require.Len(t, kept, 2)
	assert.Equal(t, "outside top 2", scored[2].Reason)
	assert.False(t, scored[3].Included)
}

func seed(t *testing.T, store *persistence.MemoryStore, searched bool) core.FeedItem {
	t.Helper()
	ctx := context.Background()
	item := &core.FeedItem{Title: "Fed Holds Rates Steady", Link: "https://feed.test/1", ContentHash: "h1", PublishedAt: time.Now().UTC()}
	_, err := store.FeedItems().Upsert(ctx, item)
	require.NoError(t, err)
	if searched {
		require.NoError(t, store.FeedItems().MarkSearched(ctx, []string{item.ID}))
	}
	require.NoError(t, store.Candidates().ReplaceForItem(ctx, item.ID, []core.SearchCandidate{
		{ID: "good", FeedItemID: item.ID, Title: "Federal Reserve keeps rates unchanged", URL: "https://a.test"},
		{ID: "bad", FeedItemID: item.ID, Title: "Local team wins championship", URL: "https://b.test"},
	}))
	return *item
}

func fedEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float64{
		"Fed Holds Rates Steady":                {1, 0.1, 0},
		"Federal Reserve keeps rates unchanged": {0.9, 0.5, 0},
		"Local team wins championship":          {0, 0.2, 1},
	}}
}

func TestStageRanksOnce(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	item := seed(t, store, true)
	emb := fedEmbedder()

	summary, err := NewStage(store, NewRanker(emb, 5, 0.3), 0, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Skipped)

	candidates, _ := store.Candidates().ListForItem(ctx, item.ID)
	require.Len(t, candidates, 1)
	assert.Equal(t, "good", candidates[0].ID)
	assert.Equal(t, 1, candidates[0].RankPosition)

	calls := emb.calls
	summary, err = NewStage(store, NewRanker(emb, 5, 0.3), 0, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, calls, emb.calls, "ranked items must not be re-embedded")
}

func TestStageDryRunAndUnsearched(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	item := seed(t, store, false)

	summary, err := NewStage(store, NewRanker(fedEmbedder(), 5, 0.3), 0, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed, "unsearched items are not ranked")

	require.NoError(t, store.FeedItems().MarkSearched(ctx, []string{item.ID}))
	summary, err = NewStage(store, NewRanker(fedEmbedder(), 5, 0.3), 0, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	candidates, _ := store.Candidates().ListForItem(ctx, item.ID)
	assert.Len(t, candidates, 2, "dry run must not rewrite candidates")
}

func TestStageEmbeddingFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seed(t, store, true)

	summary, err := NewStage(store, NewRanker(&fakeEmbedder{err: errors.New("quota")}, 5, 0.3), 0, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, core.IsFatal(summary.Errors))
}
