package threading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyline/internal/core"
	"storyline/internal/embedding"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/vectorstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const stageName = "thread"

// Titler names a new thread from its members' headlines.
type Titler interface {
	TitleThread(ctx context.Context, headlines []string) (string, error)
}

// Options tunes threading. Zero values fall back to DefaultOptions.
type Options struct {
	MergeThreshold     float64
	DriftTolerance     float64
	InactivityWindow   time.Duration
	Lookback           time.Duration
	GroupingSimilarity float64
	Resolution         float64
	Concurrency        int
	Limit              int
	DryRun             bool
}

// DefaultOptions returns the standard threading parameters.
func DefaultOptions() Options {
	return Options{
		MergeThreshold:     0.62,
		DriftTolerance:     0.03,
		InactivityWindow:   7 * 24 * time.Hour,
		Lookback:           72 * time.Hour,
		GroupingSimilarity: 0.62,
		Resolution:         1.0,
		Concurrency:        4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MergeThreshold <= 0 {
		o.MergeThreshold = d.MergeThreshold
	}
	if o.DriftTolerance <= 0 {
		o.DriftTolerance = d.DriftTolerance
	}
	if o.InactivityWindow <= 0 {
		o.InactivityWindow = d.InactivityWindow
	}
	if o.Lookback <= 0 {
		o.Lookback = d.Lookback
	}
	if o.GroupingSimilarity <= 0 {
		o.GroupingSimilarity = d.GroupingSimilarity
	}
	if o.Resolution <= 0 {
		o.Resolution = d.Resolution
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

// Threader runs the threading stage.
type Threader struct {
	store    persistence.Store
	vectors  vectorstore.VectorStore
	embedder embedding.Embedder
	titler   Titler
	opts     Options
	now      func() time.Time
}

// NewThreader creates a Threader. A nil titler names groups after their first headline.
func NewThreader(store persistence.Store, vectors vectorstore.VectorStore, embedder embedding.Embedder, titler Titler, opts Options) *Threader {
	return &Threader{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		titler:   titler,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type article struct {
	item   core.FeedItem
	vector []float64
	thread string
}

// Run deactivates stale threads, then embeds every processed, unthreaded item,
// merges it into the best active thread or groups it with other unmatched items
// into new threads. Items whose embedding or titling fails stay unthreaded.
func (t *Threader) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = t.opts.DryRun
	defer func() { summary.Duration = time.Since(start) }()

	now := t.now()
	if !t.opts.DryRun {
		n, err := t.store.Threads().DeactivateStale(ctx, now.Add(-t.opts.InactivityWindow))
		if err != nil {
			return summary, core.Fatal(stageName, fmt.Errorf("deactivate stale threads: %w", err))
		}
		if n > 0 {
			logger.Info("Deactivated stale threads", "count", n)
		}
	}

	active, err := t.store.Threads().ListActive(ctx)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list active threads: %w", err))
	}
	items, err := t.store.FeedItems().ListUnthreaded(ctx, now.Add(-t.opts.Lookback), t.opts.Limit)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("list unthreaded items: %w", err))
	}
	summary.Processed = len(items)
	if len(items) == 0 {
		return summary, nil
	}

	arena := NewArena(active)
	articles := make([]article, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for i, item := range items {
		g.Go(func() error {
			vec, stored := t.storedVector(gctx, item.ID)
			if vec == nil {
				var err error
				vec, err = t.embedItem(gctx, item)
				if err != nil {
					if core.IsFatal(err) || gctx.Err() != nil {
						return err
					}
					logger.Warn("Embedding failed, item left unthreaded", "item_id", item.ID, "error", err.Error())
					mu.Lock()
					summary.AddError(core.Capability(stageName, err))
					mu.Unlock()
					return nil
				}
			}
			if !t.opts.DryRun && !stored {
				if err := t.vectors.Store(gctx, item.ID, vec); err != nil {
					return core.Fatal(stageName, fmt.Errorf("store embedding for %s: %w", item.ID, err))
				}
			}

			a := article{item: item, vector: vec}
			if m, ok := t.match(gctx, arena, item.ID, vec, now); ok && m.Similarity >= t.opts.MergeThreshold {
				if arena.Merge(m, vec, seenAt(item, now), t.opts.MergeThreshold, t.opts.DriftTolerance) {
					a.thread = m.ThreadID
					logger.Debug("Merged into thread", "item_id", item.ID, "thread_id", m.ThreadID, "similarity", m.Similarity)
				}
			}
			articles[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	merged := 0
	var unmatched []string
	vectors := make(map[string][]float64)
	byID := make(map[string]*article, len(articles))
	for i := range articles {
		a := &articles[i]
		if a.vector == nil {
			continue
		}
		byID[a.item.ID] = a
		if a.thread != "" {
			merged++
			continue
		}
		unmatched = append(unmatched, a.item.ID)
		vectors[a.item.ID] = a.vector
	}
	summary.Updated = merged

	for _, group := range Group(unmatched, vectors, t.opts.GroupingSimilarity, t.opts.Resolution) {
		members := make([]*article, len(group))
		for k, id := range group {
			members[k] = byID[id]
		}
		title, err := t.title(ctx, members)
		if err != nil {
			logger.Warn("Thread titling failed, group left unthreaded", "size", len(members), "error", err.Error())
			summary.AddError(core.Capability(stageName, err))
			continue
		}
		thread := newThread(title, members, now)
		arena.Add(thread)
		for _, a := range members {
			a.thread = thread.ID
		}
		summary.Created++
	}

	for _, a := range articles {
		if a.vector != nil && a.thread == "" {
			summary.Skipped++
		}
	}

	if t.opts.DryRun {
		logger.Info("Threading dry run", "merged", merged, "new_threads", summary.Created)
		return summary, nil
	}

	err = persistence.WithTx(ctx, t.store, func(repos persistence.Repositories) error {
		for _, th := range arena.Dirty() {
			if err := repos.Threads().Upsert(ctx, &th); err != nil {
				return fmt.Errorf("save thread %s: %w", th.ID, err)
			}
		}
		for _, a := range articles {
			if a.thread == "" {
				continue
			}
			if err := repos.FeedItems().AssignThread(ctx, a.item.ID, a.thread); err != nil {
				return fmt.Errorf("assign %s to thread: %w", a.item.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return summary, core.Fatal(stageName, err)
	}
	if d, ok := t.vectors.(describer); ok {
		for _, a := range articles {
			if a.vector != nil {
				d.Describe(a.item.ID, a.item.Title, a.thread, a.item.PublishedAt)
			}
		}
	}

	embeddings := int64(-1)
	if stats, err := t.vectors.Stats(ctx); err != nil {
		logger.Warn("Vector store stats unavailable", "error", err.Error())
	} else {
		embeddings = stats.TotalEmbeddings
	}
	logger.Info("Story threading completed", "items", len(items), "merged", merged, "new_threads", summary.Created, "unthreaded", summary.Skipped, "embeddings", embeddings)
	return summary, nil
}

// describer is implemented by vector stores that keep item metadata themselves
// instead of reading it from the feed item table.
type describer interface {
	Describe(itemID, title, threadID string, published time.Time)
}

// storedVector returns an embedding saved by an earlier run. Dry runs always embed.
func (t *Threader) storedVector(ctx context.Context, itemID string) ([]float64, bool) {
	if t.opts.DryRun {
		return nil, false
	}
	vec, err := t.vectors.Get(ctx, itemID)
	switch {
	case err == nil && len(vec) > 0:
		return vec, true
	case err != nil && !errors.Is(err, vectorstore.ErrNoEmbedding) && !errors.Is(err, core.ErrNotFound):
		logger.Warn("Stored embedding unreadable, embedding again", "item_id", itemID, "error", err.Error())
	}
	return nil, false
}

// match picks the thread for an article. Threads that the article's nearest
// stored neighbors already belong to are preferred; when none of them clears
// the merge threshold every active thread is scanned.
func (t *Threader) match(ctx context.Context, arena *Arena, itemID string, vec []float64, now time.Time) (Match, bool) {
	query := vectorstore.DefaultSearchQuery(vec)
	query.SimilarityThreshold = t.opts.MergeThreshold
	query.Since = now.Add(-t.opts.InactivityWindow)
	query.ExcludeIDs = []string{itemID}

	neighbors, err := t.vectors.Search(ctx, query)
	if err != nil {
		logger.Warn("Neighbor search failed, scanning all threads", "item_id", itemID, "error", err.Error())
		return arena.Best(vec)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, n := range neighbors {
		if n.ThreadID != "" && !seen[n.ThreadID] {
			seen[n.ThreadID] = true
			ids = append(ids, n.ThreadID)
		}
	}
	if m, ok := arena.BestAmong(vec, ids); ok && m.Similarity >= t.opts.MergeThreshold {
		logger.Debug("Thread chosen from neighbors", "item_id", itemID, "thread_id", m.ThreadID, "neighbors", len(neighbors))
		return m, true
	}
	return arena.Best(vec)
}

// embedItem embeds the winning crawl when one exists and the headline otherwise.
func (t *Threader) embedItem(ctx context.Context, item core.FeedItem) ([]float64, error) {
	text := item.HeadlineText()
	res, err := t.store.CrawlResults().SuccessForItem(ctx, item.ID)
	switch {
	case err == nil && res.Content != "":
		text = res.Title + "\n" + res.Content
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return nil, core.Fatal(stageName, fmt.Errorf("load crawl result for %s: %w", item.ID, err))
	}
	return t.embedder.Embed(ctx, text)
}

func (t *Threader) title(ctx context.Context, members []*article) (string, error) {
	if len(members) == 1 || t.titler == nil {
		return members[0].item.Title, nil
	}
	headlines := make([]string, len(members))
	for i, a := range members {
		headlines[i] = a.item.Title
	}
	return t.titler.TitleThread(ctx, headlines)
}

func newThread(title string, members []*article, now time.Time) core.StoryThread {
	vecs := make([][]float64, len(members))
	th := core.StoryThread{
		ID:          uuid.NewString(),
		Title:       title,
		MemberCount: len(members),
		Active:      true,
	}
	for i, a := range members {
		vecs[i] = a.vector
		seen := seenAt(a.item, now)
		if th.FirstSeen.IsZero() || seen.Before(th.FirstSeen) {
			th.FirstSeen = seen
		}
		if seen.After(th.LastSeen) {
			th.LastSeen = seen
		}
	}
	th.Centroid = embedding.Mean(vecs)
	return th
}

func seenAt(item core.FeedItem, now time.Time) time.Time {
	if item.PublishedAt.IsZero() {
		return now
	}
	return item.PublishedAt
}
