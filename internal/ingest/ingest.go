// Package ingest pulls headline feeds, normalizes their items and stores the new ones.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"storyline/internal/config"
	"storyline/internal/core"
	"storyline/internal/fetch"
	"storyline/internal/logger"
	"storyline/internal/persistence"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

const stageName = "ingest"

// Options configures normalization and the stage's writes.
type Options struct {
	JunkPaths       []string
	MinTitleLength  int
	MaxItemsPerFeed int
	Concurrency     int
	DryRun          bool
}

// Stage ingests every configured feed.
type Stage struct {
	store   persistence.Repositories
	fetcher Fetcher
	sources []config.FeedSource
	opts    Options
	now     func() time.Time
}

// NewStage creates the ingest stage.
func NewStage(store persistence.Repositories, fetcher Fetcher, sources []config.FeedSource, opts Options) *Stage {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Stage{store: store, fetcher: fetcher, sources: sources, opts: opts, now: time.Now}
}

// Run fetches the feeds, drops junk and duplicates and upserts the remaining
// items. An unreachable feed is logged and skipped; ingesting nothing at all
// is fatal because no later stage has work.
func (s *Stage) Run(ctx context.Context) (*core.StageSummary, error) {
	start := time.Now()
	summary := core.NewStageSummary(stageName)
	summary.DryRun = s.opts.DryRun
	defer func() { summary.Duration = time.Since(start) }()

	fetched := s.fetchAll(ctx, summary)
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}

	items := s.normalize(fetched, summary)
	if len(items) == 0 {
		return summary, core.Fatal(stageName, core.ErrNoItems)
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}
	existing, err := s.store.FeedItems().ExistingTitles(ctx, titles)
	if err != nil {
		return summary, core.Fatal(stageName, fmt.Errorf("check existing titles: %w", err))
	}

	for i := range items {
		item := &items[i]
		if existing[item.Title] {
			summary.Skipped++
			continue
		}
		if s.opts.DryRun {
			summary.Created++
			continue
		}
		created, err := s.store.FeedItems().Upsert(ctx, item)
		if err != nil {
			return summary, core.Fatal(stageName, fmt.Errorf("store item %q: %w", item.Title, err))
		}
		if created {
			summary.Created++
		} else {
			summary.Skipped++
		}
	}

	logger.Info("Ingest completed", "feeds", len(s.sources), "items", summary.Processed,
		"created", summary.Created, "skipped", summary.Skipped, "failed_feeds", summary.Failed)
	return summary, nil
}

type fetchedFeed struct {
	source config.FeedSource
	feed   *gofeed.Feed
}

// fetchAll fetches every source concurrently and returns the feeds that
// responded, in configuration order.
func (s *Stage) fetchAll(ctx context.Context, summary *core.StageSummary) []fetchedFeed {
	results := make([]*gofeed.Feed, len(s.sources))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, src := range s.sources {
		g.Go(func() error {
			feed, err := s.fetcher.Fetch(gctx, src.URL)
			if err != nil {
				logger.Warn("Feed unreachable, continuing", "feed", src.Name, "url", src.URL, "error", err.Error())
				mu.Lock()
				summary.AddError(fmt.Errorf("feed %s: %w", src.Name, err))
				mu.Unlock()
				return nil
			}
			results[i] = feed
			return nil
		})
	}
	_ = g.Wait()

	var out []fetchedFeed
	for i, feed := range results {
		if feed != nil {
			out = append(out, fetchedFeed{source: s.sources[i], feed: feed})
		}
	}
	return out
}

// normalize converts feed entries into items, dropping junk, unusable entries
// and duplicates by content hash or exact title within the batch.
func (s *Stage) normalize(feeds []fetchedFeed, summary *core.StageSummary) []core.FeedItem {
	seenHash := make(map[string]bool)
	seenTitle := make(map[string]bool)
	now := s.now().UTC()

	var items []core.FeedItem
	for _, f := range feeds {
		entries := f.feed.Items
		if s.opts.MaxItemsPerFeed > 0 && len(entries) > s.opts.MaxItemsPerFeed {
			entries = entries[:s.opts.MaxItemsPerFeed]
		}
		for _, entry := range entries {
			summary.Processed++
			item, ok := s.toItem(f.source, entry, now)
			if !ok || seenHash[item.ContentHash] || seenTitle[item.Title] {
				summary.Skipped++
				continue
			}
			seenHash[item.ContentHash] = true
			seenTitle[item.Title] = true
			items = append(items, item)
		}
	}
	return items
}

func (s *Stage) toItem(src config.FeedSource, entry *gofeed.Item, now time.Time) (core.FeedItem, bool) {
	title := CleanText(entry.Title)
	if title == "" || utf8.RuneCountInString(title) < s.opts.MinTitleLength {
		return core.FeedItem{}, false
	}
	link := strings.TrimSpace(entry.Link)
	if IsJunk(link, s.opts.JunkPaths) {
		logger.Debug("Dropping junk item", "feed", src.Name, "link", link)
		return core.FeedItem{}, false
	}
	canonical, err := fetch.Canonicalize(link)
	if err != nil {
		return core.FeedItem{}, false
	}

	category, subcategory := Classify(canonical, src.Category)
	item := core.FeedItem{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonical)).String(),
		Title:       title,
		Description: CleanText(entry.Description),
		Link:        link,
		ContentHash: fetch.HashURL(canonical),
		Source:      src.Name,
		Category:    category,
		Subcategory: subcategory,
		Slug:        Slug(title),
		PublishedAt: now,
	}
	switch {
	case entry.PublishedParsed != nil:
		item.PublishedAt = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		item.PublishedAt = entry.UpdatedParsed.UTC()
	}
	return item, true
}
