package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyline/internal/core"
	"storyline/internal/persistence"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// TimelineEntry is one thread member with the article that backs it, if any.
type TimelineEntry struct {
	ItemID      string              `json:"item_id" db:"id"`
	Title       string              `json:"title" db:"title"`
	Link        string              `json:"link" db:"link"`
	Source      string              `json:"source" db:"source"`
	PublishedAt time.Time           `json:"published_at" db:"published_at"`
	Importance  core.ImportanceTier `json:"importance,omitempty" db:"-"`
	ArticleURL  string              `json:"article_url,omitempty" db:"-"`
	Domain      string              `json:"domain,omitempty" db:"-"`
}

// Timeline lists a thread's members in publication order.
type Timeline interface {
	Timeline(ctx context.Context, threadID string) ([]TimelineEntry, error)
}

type storeTimeline struct {
	repos persistence.Repositories
}

// NewStoreTimeline builds timelines from repository calls, one success lookup per member.
func NewStoreTimeline(repos persistence.Repositories) Timeline {
	return &storeTimeline{repos: repos}
}

func (t *storeTimeline) Timeline(ctx context.Context, threadID string) ([]TimelineEntry, error) {
	items, err := t.repos.FeedItems().ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(items))
	for _, item := range items {
		e := TimelineEntry{
			ItemID:      item.ID,
			Title:       item.Title,
			Link:        item.Link,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
			Importance:  item.Importance,
		}
		win, err := t.repos.CrawlResults().SuccessForItem(ctx, item.ID)
		switch {
		case err == nil:
			e.ArticleURL = win.ResolvedURL
			e.Domain = win.Domain
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SQLTimeline reads a timeline with a single join.
type SQLTimeline struct {
	db *sqlx.DB
}

// NewSQLTimeline wraps a Postgres pool.
func NewSQLTimeline(db *sql.DB) *SQLTimeline {
	return &SQLTimeline{db: sqlx.NewDb(db, "postgres")}
}

type timelineRow struct {
	TimelineEntry
	Importance  sql.NullString `db:"importance"`
	ResolvedURL sql.NullString `db:"resolved_url"`
	Domain      sql.NullString `db:"domain"`
}

func (t *SQLTimeline) Timeline(ctx context.Context, threadID string) ([]TimelineEntry, error) {
	query, args, err := timelineQuery(threadID)
	if err != nil {
		return nil, err
	}
	var rows []timelineRow
	if err := t.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load timeline %s: %w", threadID, err)
	}
	entries := make([]TimelineEntry, len(rows))
	for i, r := range rows {
		e := r.TimelineEntry
		e.Importance = core.ImportanceTier(r.Importance.String)
		e.ArticleURL = r.ResolvedURL.String
		e.Domain = r.Domain.String
		entries[i] = e
	}
	return entries, nil
}

func timelineQuery(threadID string) (string, []interface{}, error) {
	return sq.Select("f.id", "f.title", "f.link", "f.source", "f.published_at", "f.importance",
		"c.resolved_url", "c.domain").
		From("feed_items f").
		LeftJoin("crawl_results c ON c.feed_item_id = f.id AND c.status = ?", string(core.CrawlSuccess)).
		Where(sq.Eq{"f.thread_id": threadID}).
		OrderBy("f.published_at", "f.id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
