package briefing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/narrative"
)

// Story is a collected item with the text the narrator works from.
type Story struct {
	Item    core.FeedItem
	Crawl   *core.CrawlResult // nil for headline-only items
	Summary string
	Source  string
}

// Importance is the item's tier, taken from verification when the item carries none.
func (s Story) Importance() core.ImportanceTier {
	if s.Item.Importance != "" {
		return s.Item.Importance
	}
	if s.Crawl != nil && s.Crawl.Verification != nil {
		return s.Crawl.Verification.Importance
	}
	return ""
}

// Qualifies reports whether the story clears the quality bar: it either has an
// accepted crawl or is an important enough headline on its own.
func (s Story) Qualifies() bool {
	if s.Crawl != nil {
		return true
	}
	switch s.Importance() {
	case core.ImportanceMustRead, core.ImportanceWorthReading:
		return true
	}
	return false
}

func (s Story) narrative() narrative.Story {
	return narrative.Story{
		ID:         s.Item.ID,
		Title:      s.Item.Title,
		Summary:    s.Summary,
		Category:   s.Item.Category,
		Source:     s.Source,
		Importance: s.Importance(),
	}
}

func (s Story) candidate() llm.CurationCandidate {
	return llm.CurationCandidate{
		ID:         s.Item.ID,
		Title:      s.Item.Title,
		Summary:    s.Summary,
		Category:   s.Item.Category,
		Importance: string(s.Importance()),
	}
}

func tierRank(t core.ImportanceTier) int {
	switch t {
	case core.ImportanceMustRead:
		return 0
	case core.ImportanceWorthReading:
		return 1
	case core.ImportanceOptional:
		return 2
	}
	return 3
}

// collect loads the window's items and keeps those that clear the quality bar,
// most important and most recent first.
func (g *Generator) collect(ctx context.Context, w window) ([]Story, int, error) {
	var (
		items []core.FeedItem
		err   error
	)
	if g.opts.Regenerate {
		items, err = g.store.FeedItems().List(ctx, listWindow(w))
	} else {
		items, err = g.store.FeedItems().ListUnbriefed(ctx, w.since, w.until)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}

	var stories []Story
	for _, item := range items {
		s := Story{Item: item, Summary: item.Description, Source: item.Source}
		winner, err := g.store.CrawlResults().SuccessForItem(ctx, item.ID)
		switch {
		case err == nil:
			s.Crawl = winner
			if winner.Content != "" {
				s.Summary = winner.Content
			}
			if winner.Domain != "" {
				s.Source = winner.Domain
			}
		case !errors.Is(err, core.ErrNotFound):
			return nil, 0, fmt.Errorf("load crawl of %s: %w", item.ID, err)
		}
		if s.Qualifies() {
			stories = append(stories, s)
		}
	}

	sort.SliceStable(stories, func(i, j int) bool {
		ri, rj := tierRank(stories[i].Importance()), tierRank(stories[j].Importance())
		if ri != rj {
			return ri < rj
		}
		pi, pj := stories[i].Item.PublishedAt, stories[j].Item.PublishedAt
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return stories[i].Item.ID < stories[j].Item.ID
	})
	return stories, len(items), nil
}
