package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storyline/internal/config"
	"storyline/internal/core"
	"storyline/internal/fetch"
	"storyline/internal/persistence"
	"storyline/internal/retry"
)

func TestProviderTypeStringValues(t *testing.T) {
	expected := map[ProviderType]string{
		ProviderTypeGoogleNews: "google_news",
		ProviderTypeDuckDuckGo: "duckduckgo",
		ProviderTypeMock:       "mock",
	}
	for providerType, value := range expected {
		if string(providerType) != value {
			t.Errorf("Expected %s to be %s", providerType, value)
		}
	}
}

func TestProviderFactory(t *testing.T) {
	factory := NewProviderFactory(config.Search{Timeout: "5s"})

	for _, pt := range factory.GetAvailableProviders() {
		provider, err := factory.CreateProvider(pt)
		if err != nil {
			t.Fatalf("CreateProvider(%s): %v", pt, err)
		}
		if provider.GetName() != string(pt) {
			t.Errorf("Expected provider name %s, got %s", pt, provider.GetName())
		}
	}

	provider, err := factory.CreateProvider("serpapi")
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", err)
	}
	if provider != nil {
		t.Error("Expected nil provider when creation fails")
	}
}

func TestMockProviderSearch(t *testing.T) {
	provider := NewMockProvider()

	results, err := provider.Search(context.Background(), "test query", Config{MaxResults: 2})
	if err != nil {
		t.Fatalf("Expected no error from mock search, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for _, result := range results {
		if !strings.Contains(result.Title, "test query") {
			t.Errorf("Expected title to echo the query, got %q", result.Title)
		}
	}

	custom := []Result{{URL: "https://custom.com/a", Title: "Custom"}}
	provider.SetQueryResults("exact", custom)
	results, _ = provider.Search(context.Background(), "exact", Config{})
	if len(results) != 1 || results[0].Title != "Custom" {
		t.Errorf("Expected registered results, got %+v", results)
	}

	if got := provider.Queries(); len(got) != 2 || got[1] != "exact" {
		t.Errorf("Unexpected recorded queries: %v", got)
	}
}

func TestMockProviderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMockProvider().Search(ctx, "q", Config{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestQueryBuilderTerms(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  []string
	}{
		{
			name:  "exchange ticker drops matching company name",
			title: "Apple (NASDAQ: AAPL) shares jump after Tim Cook unveils new iPhone",
			want:  []string{"AAPL", "Tim Cook"},
		},
		{
			name:  "bare ticker drops spelled out name",
			title: "AMD: Advanced Micro Devices beats estimates",
			want:  []string{"AMD"},
		},
		{
			name:  "entities split on stopwords",
			title: "Nvidia and Microsoft expand AI partnership",
			want:  []string{"Nvidia", "Microsoft"},
		},
		{
			name:  "capped at four terms",
			title: "$AAPL $MSFT $NVDA $TSLA $AMZN rally",
			want:  []string{"AAPL", "MSFT", "NVDA", "TSLA"},
		},
		{
			name:  "title case carries no entity signal",
			title: "Fed Holds Rates Steady",
			want:  nil,
		},
	}

	b := NewQueryBuilder(4)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Terms(tt.title)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Terms(%q) = %v, want %v", tt.title, got, tt.want)
			}
		})
	}
}

func TestQueriesFallBackToTitle(t *testing.T) {
	b := NewQueryBuilder(4)

	got := b.Queries(core.FeedItem{Title: "Apple (NASDAQ: AAPL) shares jump after Tim Cook unveils new iPhone"})
	if len(got) != 2 {
		t.Fatalf("Expected entity query plus title, got %v", got)
	}
	if got[0] != `"AAPL" OR "Tim Cook"` {
		t.Errorf("Unexpected entity query %q", got[0])
	}

	got = b.Queries(core.FeedItem{Title: `Fed Holds "Rates" Steady`})
	if len(got) != 1 || got[0] != "Fed Holds Rates Steady" {
		t.Errorf("Expected only the plain title, got %v", got)
	}
}

func TestSplitPublisher(t *testing.T) {
	title, publisher := splitPublisher("Fed holds rates - steady as expected - Reuters")
	if title != "Fed holds rates - steady as expected" || publisher != "Reuters" {
		t.Errorf("Unexpected split: %q / %q", title, publisher)
	}
	title, publisher = splitPublisher("No publisher here")
	if title != "No publisher here" || publisher != "" {
		t.Errorf("Unexpected split: %q / %q", title, publisher)
	}
}

const googleNewsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Google News</title>
<item><title>Federal Reserve keeps rates unchanged - Reuters</title>
<link>https://news.google.com/rss/articles/abc?oc=5</link>
<pubDate>Mon, 06 Oct 2025 12:00:00 GMT</pubDate>
<description>&lt;a href="https://news.google.com/rss/articles/abc"&gt;Federal Reserve keeps rates unchanged&lt;/a&gt;&amp;nbsp;&lt;font color="#6f6f6f"&gt;Reuters&lt;/font&gt;</description></item>
<item><title>Fed pauses again - AP News</title>
<link>https://news.google.com/rss/articles/def?oc=5</link>
<pubDate>Mon, 06 Oct 2025 13:00:00 GMT</pubDate></item>
</channel></rss>`

func TestGoogleNewsProviderSearch(t *testing.T) {
	var gotQuery, gotCeid string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCeid = r.URL.Query().Get("ceid")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(googleNewsFeed))
	}))
	defer server.Close()

	provider := NewGoogleNewsProvider(server.URL, 5*time.Second)
	results, err := provider.Search(context.Background(), `"Fed"`, Config{MaxResults: 5, SinceTime: 24 * time.Hour, Language: "en", Region: "us"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotQuery != `"Fed" when:24h` {
		t.Errorf("Unexpected q parameter %q", gotQuery)
	}
	if gotCeid != "US:en" {
		t.Errorf("Unexpected ceid parameter %q", gotCeid)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.Title != "Federal Reserve keeps rates unchanged" || first.Source != "Reuters" {
		t.Errorf("Unexpected first result: %+v", first)
	}
	if first.Rank != 1 || results[1].Rank != 2 {
		t.Errorf("Unexpected ranks: %d, %d", first.Rank, results[1].Rank)
	}
	if strings.Contains(first.Snippet, "<") {
		t.Errorf("Expected markup stripped from snippet, got %q", first.Snippet)
	}
	if first.PublishedAt.IsZero() {
		t.Error("Expected published time to be parsed")
	}
}

func TestGoogleNewsProviderRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewGoogleNewsProvider(server.URL, 5*time.Second).Search(context.Background(), "q", Config{})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

const duckDuckGoPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.reuters.com%2Fmarkets%2Ffed-holds&amp;rut=abc">Fed holds   rates</a></h2>
  <a class="result__snippet" href="#">The Federal Reserve kept rates unchanged.</a>
</div>
<div class="result result--ad"><a class="result__a" href="https://ads.example.com/x">Ad</a></div>
<div class="result"><a class="result__a" href="https://apnews.com/article/fed">Fed pauses</a></div>
</body></html>`

func TestDuckDuckGoProviderSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "fed" {
			t.Errorf("Unexpected query %q", r.URL.Query().Get("q"))
		}
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer server.Close()

	provider := NewDuckDuckGoProvider(server.URL, 5*time.Second, fetch.NewPoliteness(0))
	results, err := provider.Search(context.Background(), "fed", Config{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected ads skipped and 2 results, got %d", len(results))
	}
	if results[0].URL != "https://www.reuters.com/markets/fed-holds" {
		t.Errorf("Expected decoded redirect, got %q", results[0].URL)
	}
	if results[0].Title != "Fed holds rates" || results[0].Domain != "reuters.com" {
		t.Errorf("Unexpected first result: %+v", results[0])
	}
	if results[1].Domain != "apnews.com" || results[1].Rank != 2 {
		t.Errorf("Unexpected second result: %+v", results[1])
	}
}

func TestExtractFinalURL(t *testing.T) {
	cases := map[string]string{
		"/l/?uddg=https%3A%2F%2Fexample.com%2Fa": "https://example.com/a",
		"https://example.com/direct":             "https://example.com/direct",
		"javascript:void(0)":                     "",
	}
	for in, want := range cases {
		if got := extractFinalURL(in); got != want {
			t.Errorf("extractFinalURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func seedItems(t *testing.T, store *persistence.MemoryStore, titles ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(titles))
	base := time.Now().UTC()
	for i, title := range titles {
		item := &core.FeedItem{
			Title:       title,
			Link:        fmt.Sprintf("https://feed.test/story/%d", i),
			ContentHash: fmt.Sprintf("hash-%d", i),
			PublishedAt: base.Add(-time.Duration(i) * time.Minute),
		}
		if _, err := store.FeedItems().Upsert(context.Background(), item); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func TestSearcherRecordsCandidates(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store, "Apple (NASDAQ: AAPL) shares jump after Tim Cook unveils new iPhone")

	provider := NewMockProvider()
	provider.SetQueryResults(`"AAPL" OR "Tim Cook"`, []Result{
		{URL: "https://news.google.com/rss/articles/1", Title: "Apple stock rises on iPhone launch"},
		{URL: "https://news.google.com/rss/articles/1", Title: "Duplicate"},
		{URL: "https://feed.test/story/0", Title: "Same story, own link"},
		{URL: "https://news.google.com/rss/articles/2", Title: "Tim Cook shows new phone"},
	})

	summary, err := NewSearcher(store, provider, retry.Once("search"), Options{MaxResults: 10}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 1 || summary.Created != 2 {
		t.Errorf("Unexpected summary: %s", summary)
	}

	candidates, _ := store.Candidates().ListForItem(ctx, ids[0])
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Provider != "mock" || candidates[0].FeedItemID != ids[0] {
		t.Errorf("Unexpected candidate: %+v", candidates[0])
	}

	item, _ := store.FeedItems().Get(ctx, ids[0])
	if !item.Searched {
		t.Error("Expected item to be marked searched")
	}
	if q := provider.Queries(); len(q) != 1 {
		t.Errorf("Expected the title fallback to be skipped, got queries %v", q)
	}
}

func TestSearcherFallsBackToTitleQuery(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store, "Apple (NASDAQ: AAPL) shares jump after Tim Cook unveils new iPhone")

	provider := NewMockProvider()
	provider.SetQueryResults(`"AAPL" OR "Tim Cook"`, nil)

	if _, err := NewSearcher(store, provider, retry.Once("search"), Options{}).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q := provider.Queries(); len(q) != 2 || !strings.HasPrefix(q[1], "Apple (NASDAQ") {
		t.Errorf("Expected title fallback query, got %v", q)
	}
	candidates, _ := store.Candidates().ListForItem(ctx, ids[0])
	if len(candidates) != 3 {
		t.Errorf("Expected default mock results for the fallback, got %d", len(candidates))
	}
}

func TestSearcherLeavesFailedItemsUnsearched(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store, "Fed Holds Rates Steady", "Nvidia and Microsoft expand AI partnership")

	provider := NewMockProvider()
	provider.FailQuery("Fed Holds Rates Steady", ErrRateLimited)

	summary, err := NewSearcher(store, provider, retry.Once("search"), Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Query errors must not abort the stage: %v", err)
	}
	if summary.Failed != 1 || summary.Processed != 2 {
		t.Errorf("Unexpected summary: %s", summary)
	}

	failed, _ := store.FeedItems().Get(ctx, ids[0])
	ok, _ := store.FeedItems().Get(ctx, ids[1])
	if failed.Searched {
		t.Error("Expected failed item to stay unsearched")
	}
	if !ok.Searched {
		t.Error("Expected second item to be searched")
	}
}

// slowProvider holds each query briefly and records the peak number in flight.
type slowProvider struct {
	*MockProvider
	hold time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *slowProvider) Search(ctx context.Context, query string, cfg Config) ([]Result, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	select {
	case <-time.After(p.hold):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.MockProvider.Search(ctx, query, cfg)
}

func TestSearcherSearchesItemsConcurrently(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store,
		"Fed Holds Rates Steady",
		"Nvidia and Microsoft expand AI partnership",
		"Apple unveils new iPhone lineup",
		"Tesla recalls Model Y vehicles",
		"Amazon opens new warehouse in Ohio",
		"Google settles antitrust case",
	)
	provider := &slowProvider{MockProvider: NewMockProvider(), hold: 50 * time.Millisecond}

	summary, err := NewSearcher(store, provider, retry.Once("search"), Options{Concurrency: 3}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != len(ids) || summary.Failed != 0 {
		t.Errorf("Unexpected summary: %s", summary)
	}
	if provider.peak < 2 || provider.peak > 3 {
		t.Errorf("Expected between 2 and 3 searches in flight, peak was %d", provider.peak)
	}
	for _, id := range ids {
		item, _ := store.FeedItems().Get(ctx, id)
		if !item.Searched {
			t.Errorf("Expected item %s to be searched", id)
		}
	}
}

func TestSearcherSpacesItemStarts(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedItems(t, store, "Fed Holds Rates Steady", "Apple unveils new iPhone lineup", "Tesla recalls Model Y vehicles")

	start := time.Now()
	_, err := NewSearcher(store, NewMockProvider(), retry.Once("search"), Options{Concurrency: 3, ItemDelay: 40 * time.Millisecond}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Expected item starts to be spaced by the delay, run took %v", elapsed)
	}
}

func TestSearcherDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store, "Fed Holds Rates Steady")
	provider := NewMockProvider()

	summary, err := NewSearcher(store, provider, retry.Once("search"), Options{DryRun: true}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.DryRun || summary.Processed != 1 {
		t.Errorf("Unexpected summary: %s", summary)
	}
	if len(provider.Queries()) != 0 {
		t.Error("Dry run must not call the search surface")
	}
	item, _ := store.FeedItems().Get(ctx, ids[0])
	if item.Searched {
		t.Error("Dry run must not flip flags")
	}
}

func TestSearcherMarkFromStore(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	ids := seedItems(t, store, "First headline here", "Second headline here")
	_ = store.Candidates().ReplaceForItem(ctx, ids[0], []core.SearchCandidate{{ID: "c1", FeedItemID: ids[0], URL: "https://x.test/a", Title: "A"}})

	provider := NewMockProvider()
	summary, err := NewSearcher(store, provider, retry.Once("search"), Options{MarkFromStore: true}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Updated != 1 || summary.Skipped != 1 {
		t.Errorf("Unexpected summary: %s", summary)
	}
	if len(provider.Queries()) != 0 {
		t.Error("Marking from store must not search")
	}
	first, _ := store.FeedItems().Get(ctx, ids[0])
	second, _ := store.FeedItems().Get(ctx, ids[1])
	if !first.Searched || second.Searched {
		t.Errorf("Unexpected flags: first=%v second=%v", first.Searched, second.Searched)
	}
}
