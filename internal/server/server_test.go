package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storyline/internal/config"
	"storyline/internal/core"
	"storyline/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) *persistence.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	items := []core.FeedItem{
		{ID: "a", Title: "Fed holds rates", Link: "https://feed.example/a", ContentHash: "1", Category: "business", PublishedAt: day.Add(8 * time.Hour), ThreadID: "t1", Importance: core.ImportanceMustRead},
		{ID: "b", Title: "Markets react to Fed", Link: "https://feed.example/b", ContentHash: "2", Category: "business", PublishedAt: day.Add(10 * time.Hour), ThreadID: "t1"},
		{ID: "c", Title: "Storm nears coast", Link: "https://feed.example/c", ContentHash: "3", Category: "world", PublishedAt: day.Add(-30 * time.Hour)},
	}
	for i := range items {
		_, err := store.FeedItems().Upsert(ctx, &items[i])
		require.NoError(t, err)
	}
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "a", []core.CrawlResult{{
		CandidateURL: "https://news.example/fed",
		ResolvedURL:  "https://news.example/fed",
		Domain:       "news.example",
		AttemptOrder: 1,
		Status:       core.CrawlSuccess,
	}}))
	require.NoError(t, store.Threads().Upsert(ctx, &core.StoryThread{
		ID: "t1", Title: "Fed rate decision", MemberCount: 2, FirstSeen: day, LastSeen: day, Active: true,
	}))
	require.NoError(t, store.Domains().Upsert(ctx, &core.DomainReputation{Domain: "news.example", Successes: 5, Attempts: 5}))
	require.NoError(t, store.Domains().Upsert(ctx, &core.DomainReputation{Domain: "paywall.example", Attempts: 20, Blocked: true}))
	require.NoError(t, store.Briefings().Upsert(ctx, &core.Briefing{
		Date: day, Locale: "en", Narrative: "The Fed held rates.", SourceItemCount: 2, ItemIDs: []string{"a", "b"},
	}))
	return store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(seed(t), nil, config.Server{})
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListItemsFilters(t *testing.T) {
	s := New(seed(t), nil, config.Server{})

	rec := get(t, s, "/api/items?category=Business&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ItemsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "b", resp.Items[0].ID, "newest first")

	rec = get(t, s, "/api/items?since=2026-03-10")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 2)

	rec = get(t, s, "/api/items?until=2026-03-10T00:00:00Z")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "c", resp.Items[0].ID)
}

func TestListItemsRejectsBadParams(t *testing.T) {
	s := New(seed(t), nil, config.Server{})
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/items?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/items?since=yesterday").Code)
}

func TestGetItem(t *testing.T) {
	s := New(seed(t), nil, config.Server{})
	assert.Equal(t, http.StatusOK, get(t, s, "/api/items/a").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/items/zzz").Code)
}

func TestThreadTimeline(t *testing.T) {
	s := New(seed(t), nil, config.Server{})

	rec := get(t, s, "/api/threads/t1/timeline")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TimelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Fed rate decision", resp.Thread.Title)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "a", resp.Entries[0].ItemID, "oldest first")
	assert.Equal(t, "news.example", resp.Entries[0].Domain)
	assert.Equal(t, core.ImportanceMustRead, resp.Entries[0].Importance)
	assert.Empty(t, resp.Entries[1].ArticleURL, "headline-only member")

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/threads/missing/timeline").Code)
}

func TestListDomains(t *testing.T) {
	s := New(seed(t), nil, config.Server{})
	var domains []core.DomainReputation

	require.NoError(t, json.Unmarshal(get(t, s, "/api/domains").Body.Bytes(), &domains))
	assert.Len(t, domains, 2)
	require.NoError(t, json.Unmarshal(get(t, s, "/api/domains?blocked=true").Body.Bytes(), &domains))
	require.Len(t, domains, 1)
	assert.Equal(t, "paywall.example", domains[0].Domain)
}

func TestBriefingFormats(t *testing.T) {
	s := New(seed(t), nil, config.Server{})

	rec := get(t, s, "/api/briefings/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	var b core.Briefing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "The Fed held rates.", b.Narrative)

	rec = get(t, s, "/api/briefings/2026-03-10?format=html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "<h1")
	assert.Contains(t, rec.Body.String(), "The Fed held rates.")

	rec = get(t, s, "/api/briefings/2026-03-10?format=md")
	assert.Contains(t, rec.Body.String(), "# Briefing 2026-03-10 (en)")

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/briefings/latest?locale=ja").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/briefings/march").Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	s := New(seed(t), nil, config.Server{CORSOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimelineQuery(t *testing.T) {
	query, args, err := timelineQuery("t1")
	require.NoError(t, err)
	assert.Contains(t, query, "LEFT JOIN crawl_results c ON c.feed_item_id = f.id AND c.status = $1")
	assert.Contains(t, query, "WHERE f.thread_id = $2")
	assert.Equal(t, []interface{}{"success", "t1"}, args)
}
