package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyline/internal/core"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const feedItemColumns = `id, title, description, link, content_hash, source, category, subcategory,
	published_at, searched, processed, briefed, thread_id, slug, importance, created_at`

// postgresFeedItemRepo implements FeedItemRepository for PostgreSQL
type postgresFeedItemRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresFeedItemRepo) query() querier { return conn(r.db, r.tx) }

func (r *postgresFeedItemRepo) Upsert(ctx context.Context, item *core.FeedItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO feed_items (` + feedItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id
	`
	var id string
	err := r.query().QueryRowContext(ctx, query,
		item.ID, item.Title, item.Description, item.Link, item.ContentHash, item.Source,
		item.Category, nullString(item.Subcategory), item.PublishedAt, item.Searched,
		item.Processed, item.Briefed, nullString(item.ThreadID), nullString(item.Slug),
		nullString(string(item.Importance)), item.CreatedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to insert feed item: %w", err)
	}

	if err := r.query().QueryRowContext(ctx,
		`SELECT id FROM feed_items WHERE content_hash = $1`, item.ContentHash,
	).Scan(&item.ID); err != nil {
		return false, fmt.Errorf("failed to load existing feed item: %w", err)
	}
	return false, nil
}

func (r *postgresFeedItemRepo) Get(ctx context.Context, id string) (*core.FeedItem, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+feedItemColumns+` FROM feed_items WHERE id = $1`, id)
	item, err := scanFeedItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed item %s: %w", id, core.ErrNotFound)
	}
	return item, err
}

func (r *postgresFeedItemRepo) ExistingTitles(ctx context.Context, titles []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(titles) == 0 {
		return found, nil
	}
	rows, err := r.query().QueryContext(ctx, `SELECT DISTINCT title FROM feed_items WHERE title = ANY($1)`, pq.Array(titles))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		found[title] = true
	}
	return found, rows.Err()
}

func (r *postgresFeedItemRepo) ListUnsearched(ctx context.Context, limit int) ([]core.FeedItem, error) {
	return r.list(ctx, `WHERE searched = FALSE ORDER BY published_at DESC, id LIMIT $1`, orAll(limit))
}

func (r *postgresFeedItemRepo) ListUnprocessed(ctx context.Context, limit int) ([]core.FeedItem, error) {
	return r.list(ctx, `WHERE searched = TRUE AND processed = FALSE ORDER BY published_at DESC, id LIMIT $1`, orAll(limit))
}

func (r *postgresFeedItemRepo) ListUnthreaded(ctx context.Context, since time.Time, limit int) ([]core.FeedItem, error) {
	return r.list(ctx, `WHERE processed = TRUE AND thread_id IS NULL AND published_at >= $1
		ORDER BY published_at DESC, id LIMIT $2`, since, orAll(limit))
}

func (r *postgresFeedItemRepo) ListUnbriefed(ctx context.Context, since, until time.Time) ([]core.FeedItem, error) {
	return r.list(ctx, `WHERE briefed = FALSE AND published_at >= $1 AND published_at < $2
		ORDER BY published_at DESC, id`, since, until)
}

func (r *postgresFeedItemRepo) ListByThread(ctx context.Context, threadID string) ([]core.FeedItem, error) {
	return r.list(ctx, `WHERE thread_id = $1 ORDER BY published_at, id`, threadID)
}

func (r *postgresFeedItemRepo) List(ctx context.Context, opts ListOptions) ([]core.FeedItem, error) {
	builder := sq.Select(feedItemColumns).From("feed_items").PlaceholderFormat(sq.Dollar)
	if opts.Category != "" {
		builder = builder.Where(sq.Eq{"category": opts.Category})
	}
	if !opts.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"published_at": opts.Since})
	}
	if !opts.Until.IsZero() {
		builder = builder.Where(sq.Lt{"published_at": opts.Until})
	}
	builder = builder.OrderBy("published_at DESC", "id")
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeedItems(rows)
}

func (r *postgresFeedItemRepo) list(ctx context.Context, clause string, args ...interface{}) ([]core.FeedItem, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT `+feedItemColumns+` FROM feed_items `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeedItems(rows)
}

func (r *postgresFeedItemRepo) MarkSearched(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.query().ExecContext(ctx, `UPDATE feed_items SET searched = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (r *postgresFeedItemRepo) MarkProcessed(ctx context.Context, ids []string) (int, error) {
	return r.flip(ctx, "processed", ids)
}

func (r *postgresFeedItemRepo) MarkBriefed(ctx context.Context, ids []string) (int, error) {
	return r.flip(ctx, "briefed", ids)
}

// flip sets a lifecycle flag only where it is still false
func (r *postgresFeedItemRepo) flip(ctx context.Context, column string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE feed_items SET %[1]s = TRUE WHERE id = ANY($1) AND %[1]s = FALSE`, column)
	result, err := r.query().ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *postgresFeedItemRepo) AssignThread(ctx context.Context, itemID, threadID string) error {
	result, err := r.query().ExecContext(ctx, `UPDATE feed_items SET thread_id = $2 WHERE id = $1`, itemID, threadID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("feed item %s: %w", itemID, core.ErrNotFound)
	}
	return nil
}

func (r *postgresFeedItemRepo) SetImportance(ctx context.Context, itemID string, tier core.ImportanceTier) error {
	_, err := r.query().ExecContext(ctx, `UPDATE feed_items SET importance = $2 WHERE id = $1`, itemID, string(tier))
	return err
}

func (r *postgresFeedItemRepo) DeleteStale(ctx context.Context, before time.Time, junkPaths []string) (int, error) {
	if len(junkPaths) == 0 {
		return 0, nil
	}
	patterns := make([]string, 0, len(junkPaths))
	for _, p := range junkPaths {
		if p != "" {
			patterns = append(patterns, "%"+p+"%")
		}
	}
	query := `
		DELETE FROM feed_items f
		WHERE f.published_at < $1
		  AND f.link ILIKE ANY($2)
		  AND NOT EXISTS (
			SELECT 1 FROM crawl_results c WHERE c.feed_item_id = f.id AND c.status = 'success'
		  )
	`
	result, err := r.query().ExecContext(ctx, query, before, pq.Array(patterns))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func orAll(limit int) interface{} {
	if limit <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedItem(row rowScanner) (*core.FeedItem, error) {
	var item core.FeedItem
	var subcategory, threadID, slug, importance sql.NullString
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Link, &item.ContentHash, &item.Source,
		&item.Category, &subcategory, &item.PublishedAt, &item.Searched, &item.Processed,
		&item.Briefed, &threadID, &slug, &importance, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Subcategory = subcategory.String
	item.ThreadID = threadID.String
	item.Slug = slug.String
	item.Importance = core.ImportanceTier(importance.String)
	return &item, nil
}

func scanFeedItems(rows *sql.Rows) ([]core.FeedItem, error) {
	var items []core.FeedItem
	for rows.Next() {
		item, err := scanFeedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
