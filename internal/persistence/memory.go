package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storyline/internal/core"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for dry runs and tests. It honors the
// same natural-key upsert rules as the Postgres store.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]core.FeedItem
	byHash     map[string]string
	candidates map[string][]core.SearchCandidate
	crawls     map[string][]core.CrawlResult
	domains    map[string]core.DomainReputation
	threads    map[string]core.StoryThread
	briefings  map[string]core.Briefing
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]core.FeedItem),
		byHash:     make(map[string]string),
		candidates: make(map[string][]core.SearchCandidate),
		crawls:     make(map[string][]core.CrawlResult),
		domains:    make(map[string]core.DomainReputation),
		threads:    make(map[string]core.StoryThread),
		briefings:  make(map[string]core.Briefing),
	}
}

func (m *MemoryStore) FeedItems() FeedItemRepository       { return memoryItems{m} }
func (m *MemoryStore) Candidates() CandidateRepository     { return memoryCandidates{m} }
func (m *MemoryStore) CrawlResults() CrawlResultRepository { return memoryCrawls{m} }
func (m *MemoryStore) Domains() DomainRepository           { return memoryDomains{m} }
func (m *MemoryStore) Threads() ThreadRepository           { return memoryThreads{m} }
func (m *MemoryStore) Briefings() BriefingRepository       { return memoryBriefings{m} }

func (m *MemoryStore) Close() error                   { return nil }
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// BeginTx returns a transaction that writes straight through. Rollback is a no-op,
// so callers must validate before writing, exactly as they do for Postgres.
func (m *MemoryStore) BeginTx(ctx context.Context) (Transaction, error) {
	return memoryTx{m}, nil
}

type memoryTx struct{ *MemoryStore }

func (memoryTx) Commit() error   { return nil }
func (memoryTx) Rollback() error { return nil }

type memoryItems struct{ m *MemoryStore }

func (r memoryItems) Upsert(ctx context.Context, item *core.FeedItem) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if id, ok := r.m.byHash[item.ContentHash]; ok {
		item.ID = id
		return false, nil
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	stored := *item
	stored.Embedding = nil
	r.m.items[item.ID] = stored
	r.m.byHash[item.ContentHash] = item.ID
	return true, nil
}

func (r memoryItems) Get(ctx context.Context, id string) (*core.FeedItem, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	item, ok := r.m.items[id]
	if !ok {
		return nil, fmt.Errorf("feed item %s: %w", id, core.ErrNotFound)
	}
	return &item, nil
}

func (r memoryItems) ExistingTitles(ctx context.Context, titles []string) (map[string]bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	want := make(map[string]bool, len(titles))
	for _, t := range titles {
		want[t] = true
	}
	found := make(map[string]bool)
	for _, item := range r.m.items {
		if want[item.Title] {
			found[item.Title] = true
		}
	}
	return found, nil
}

func (r memoryItems) filter(limit int, keep func(core.FeedItem) bool) []core.FeedItem {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []core.FeedItem
	for _, item := range r.m.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r memoryItems) ListUnsearched(ctx context.Context, limit int) ([]core.FeedItem, error) {
	return r.filter(limit, func(i core.FeedItem) bool { return !i.Searched }), nil
}

func (r memoryItems) ListUnprocessed(ctx context.Context, limit int) ([]core.FeedItem, error) {
	return r.filter(limit, func(i core.FeedItem) bool { return i.Searched && !i.Processed }), nil
}

func (r memoryItems) ListUnthreaded(ctx context.Context, since time.Time, limit int) ([]core.FeedItem, error) {
	return r.filter(limit, func(i core.FeedItem) bool {
		return i.Processed && i.ThreadID == "" && !i.PublishedAt.Before(since)
	}), nil
}

func (r memoryItems) ListUnbriefed(ctx context.Context, since, until time.Time) ([]core.FeedItem, error) {
	return r.filter(0, func(i core.FeedItem) bool {
		return !i.Briefed && !i.PublishedAt.Before(since) && i.PublishedAt.Before(until)
	}), nil
}

func (r memoryItems) ListByThread(ctx context.Context, threadID string) ([]core.FeedItem, error) {
	items := r.filter(0, func(i core.FeedItem) bool { return i.ThreadID == threadID })
	sort.Slice(items, func(i, j int) bool { return items[i].PublishedAt.Before(items[j].PublishedAt) })
	return items, nil
}

func (r memoryItems) List(ctx context.Context, opts ListOptions) ([]core.FeedItem, error) {
	items := r.filter(0, func(i core.FeedItem) bool {
		if opts.Category != "" && i.Category != opts.Category {
			return false
		}
		if !opts.Since.IsZero() && i.PublishedAt.Before(opts.Since) {
			return false
		}
		if !opts.Until.IsZero() && !i.PublishedAt.Before(opts.Until) {
			return false
		}
		return true
	})
	if opts.Offset >= len(items) {
		return nil, nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

func (r memoryItems) update(ids []string, apply func(*core.FeedItem) bool) int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	changed := 0
	for _, id := range ids {
		item, ok := r.m.items[id]
		if !ok {
			continue
		}
		if apply(&item) {
			changed++
			r.m.items[id] = item
		}
	}
	return changed
}

func (r memoryItems) MarkSearched(ctx context.Context, ids []string) error {
	r.update(ids, func(i *core.FeedItem) bool { i.Searched = true; return true })
	return nil
}

func (r memoryItems) MarkProcessed(ctx context.Context, ids []string) (int, error) {
	return r.update(ids, func(i *core.FeedItem) bool {
		if i.Processed {
			return false
		}
		i.Processed = true
		return true
	}), nil
}

func (r memoryItems) MarkBriefed(ctx context.Context, ids []string) (int, error) {
	return r.update(ids, func(i *core.FeedItem) bool {
		if i.Briefed {
			return false
		}
		i.Briefed = true
		return true
	}), nil
}

func (r memoryItems) AssignThread(ctx context.Context, itemID, threadID string) error {
	if r.update([]string{itemID}, func(i *core.FeedItem) bool { i.ThreadID = threadID; return true }) == 0 {
		return fmt.Errorf("feed item %s: %w", itemID, core.ErrNotFound)
	}
	return nil
}

func (r memoryItems) SetImportance(ctx context.Context, itemID string, tier core.ImportanceTier) error {
	r.update([]string{itemID}, func(i *core.FeedItem) bool { i.Importance = tier; return true })
	return nil
}

func (r memoryItems) DeleteStale(ctx context.Context, before time.Time, junkPaths []string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	deleted := 0
	for id, item := range r.m.items {
		if !item.PublishedAt.Before(before) || !matchesAny(item.Link, junkPaths) || hasSuccess(r.m.crawls[id]) {
			continue
		}
		delete(r.m.items, id)
		delete(r.m.byHash, item.ContentHash)
		delete(r.m.candidates, id)
		delete(r.m.crawls, id)
		deleted++
	}
	return deleted, nil
}

func matchesAny(link string, fragments []string) bool {
	lower := strings.ToLower(link)
	for _, f := range fragments {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func hasSuccess(results []core.CrawlResult) bool {
	for _, r := range results {
		if r.Status == core.CrawlSuccess {
			return true
		}
	}
	return false
}

type memoryCandidates struct{ m *MemoryStore }

func (r memoryCandidates) ReplaceForItem(ctx context.Context, itemID string, candidates []core.SearchCandidate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.candidates[itemID] = append([]core.SearchCandidate(nil), candidates...)
	return nil
}

func (r memoryCandidates) ListForItem(ctx context.Context, itemID string) ([]core.SearchCandidate, error) {
	r.m.mu.RLock()
	out := append([]core.SearchCandidate(nil), r.m.candidates[itemID]...)
	r.m.mu.RUnlock()
	sortCandidates(out)
	return out, nil
}

// sortCandidates puts ranked candidates first in position order, then unranked ones by insertion.
func sortCandidates(c []core.SearchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		pi, pj := c[i].RankPosition, c[j].RankPosition
		if (pi == 0) != (pj == 0) {
			return pi != 0
		}
		return pi < pj
	})
}

type memoryCrawls struct{ m *MemoryStore }

func (r memoryCrawls) SaveAttempts(ctx context.Context, itemID string, results []core.CrawlResult) error {
	winners := 0
	for _, res := range results {
		if res.Status == core.CrawlSuccess {
			winners++
		}
	}
	if winners > 1 {
		return fmt.Errorf("item %s: %d successful crawl results, at most one allowed", itemID, winners)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	existing := append([]core.CrawlResult(nil), r.m.crawls[itemID]...)
	index := make(map[string]int, len(existing))
	for i, e := range existing {
		index[e.CandidateURL] = i
	}
	for _, res := range results {
		res.FeedItemID = itemID
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		if i, ok := index[res.CandidateURL]; ok {
			res.ID = existing[i].ID
			existing[i] = res
			continue
		}
		index[res.CandidateURL] = len(existing)
		existing = append(existing, res)
	}
	if hasMultipleSuccess(existing) {
		return fmt.Errorf("item %s already has a successful crawl result", itemID)
	}
	r.m.crawls[itemID] = existing
	return nil
}

func hasMultipleSuccess(results []core.CrawlResult) bool {
	n := 0
	for _, r := range results {
		if r.Status == core.CrawlSuccess {
			n++
		}
	}
	return n > 1
}

func (r memoryCrawls) ListForItem(ctx context.Context, itemID string) ([]core.CrawlResult, error) {
	r.m.mu.RLock()
	out := append([]core.CrawlResult(nil), r.m.crawls[itemID]...)
	r.m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptOrder < out[j].AttemptOrder })
	return out, nil
}

func (r memoryCrawls) SuccessForItem(ctx context.Context, itemID string) (*core.CrawlResult, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, res := range r.m.crawls[itemID] {
		if res.Status == core.CrawlSuccess {
			return &res, nil
		}
	}
	return nil, fmt.Errorf("successful crawl for %s: %w", itemID, core.ErrNotFound)
}

func (r memoryCrawls) ListSince(ctx context.Context, since time.Time) ([]core.CrawlResult, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []core.CrawlResult
	for _, results := range r.m.crawls {
		for _, res := range results {
			if !res.AttemptedAt.Before(since) {
				out = append(out, res)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeedItemID != out[j].FeedItemID {
			return out[i].FeedItemID < out[j].FeedItemID
		}
		return out[i].AttemptOrder < out[j].AttemptOrder
	})
	return out, nil
}

type memoryDomains struct{ m *MemoryStore }

func (r memoryDomains) Get(ctx context.Context, domain string) (*core.DomainReputation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	rep, ok := r.m.domains[domain]
	if !ok {
		return nil, fmt.Errorf("domain %s: %w", domain, core.ErrNotFound)
	}
	rep.FailureCounts = copyCounts(rep.FailureCounts)
	return &rep, nil
}

func (r memoryDomains) Upsert(ctx context.Context, rep *core.DomainReputation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored := *rep
	stored.FailureCounts = copyCounts(rep.FailureCounts)
	r.m.domains[rep.Domain] = stored
	return nil
}

func (r memoryDomains) List(ctx context.Context) ([]core.DomainReputation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]core.DomainReputation, 0, len(r.m.domains))
	for _, rep := range r.m.domains {
		rep.FailureCounts = copyCounts(rep.FailureCounts)
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func copyCounts(in map[core.FailureReason]int) map[core.FailureReason]int {
	out := make(map[core.FailureReason]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memoryThreads struct{ m *MemoryStore }

func (r memoryThreads) Get(ctx context.Context, id string) (*core.StoryThread, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", id, core.ErrNotFound)
	}
	t.Centroid = append([]float64(nil), t.Centroid...)
	return &t, nil
}

func (r memoryThreads) ListActive(ctx context.Context) ([]core.StoryThread, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []core.StoryThread
	for _, t := range r.m.threads {
		if t.Active {
			t.Centroid = append([]float64(nil), t.Centroid...)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memoryThreads) Upsert(ctx context.Context, thread *core.StoryThread) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored := *thread
	stored.Centroid = append([]float64(nil), thread.Centroid...)
	r.m.threads[thread.ID] = stored
	return nil
}

func (r memoryThreads) DeactivateStale(ctx context.Context, before time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for id, t := range r.m.threads {
		if t.Active && t.LastSeen.Before(before) {
			t.Active = false
			r.m.threads[id] = t
			n++
		}
	}
	return n, nil
}

type memoryBriefings struct{ m *MemoryStore }

func briefingKey(date time.Time, locale string) string {
	return core.BriefingDate(date).Format("2006-01-02") + "/" + locale
}

func (r memoryBriefings) Upsert(ctx context.Context, b *core.Briefing) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := briefingKey(b.Date, b.Locale)
	now := time.Now().UTC()
	if existing, ok := r.m.briefings[key]; ok {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
	} else {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
	}
	b.Date = core.BriefingDate(b.Date)
	b.UpdatedAt = now
	r.m.briefings[key] = *b
	return nil
}

func (r memoryBriefings) Get(ctx context.Context, date time.Time, locale string) (*core.Briefing, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	b, ok := r.m.briefings[briefingKey(date, locale)]
	if !ok {
		return nil, fmt.Errorf("briefing %s: %w", briefingKey(date, locale), core.ErrNotFound)
	}
	return &b, nil
}

func (r memoryBriefings) Latest(ctx context.Context, locale string) (*core.Briefing, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var latest *core.Briefing
	for _, b := range r.m.briefings {
		if b.Locale != locale {
			continue
		}
		if latest == nil || b.Date.After(latest.Date) {
			b := b
			latest = &b
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("briefing for %s: %w", locale, core.ErrNotFound)
	}
	return latest, nil
}

// Count returns the number of stored briefings. Used by tests.
func (m *MemoryStore) Count() (items, briefings int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), len(m.briefings)
}
