package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"storyline/internal/core"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// postgresCandidateRepo implements CandidateRepository for PostgreSQL
type postgresCandidateRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresCandidateRepo) query() querier { return conn(r.db, r.tx) }

func (r *postgresCandidateRepo) ReplaceForItem(ctx context.Context, itemID string, candidates []core.SearchCandidate) error {
	if _, err := r.query().ExecContext(ctx, `DELETE FROM search_candidates WHERE feed_item_id = $1`, itemID); err != nil {
		return fmt.Errorf("failed to clear candidates: %w", err)
	}

	query := `
		INSERT INTO search_candidates (id, feed_item_id, title, url, provider, rank_score, rank_position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (feed_item_id, url) DO UPDATE SET
			title = EXCLUDED.title,
			rank_score = EXCLUDED.rank_score,
			rank_position = EXCLUDED.rank_position
	`
	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		if _, err := r.query().ExecContext(ctx, query,
			c.ID, itemID, c.Title, c.URL, c.Provider, c.RankScore, c.RankPosition, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert candidate %s: %w", c.URL, err)
		}
	}
	return nil
}

func (r *postgresCandidateRepo) ListForItem(ctx context.Context, itemID string) ([]core.SearchCandidate, error) {
	query := `
		SELECT id, feed_item_id, title, url, provider, rank_score, rank_position, created_at
		FROM search_candidates
		WHERE feed_item_id = $1
		ORDER BY (rank_position = 0), rank_position, created_at, id
	`
	rows, err := r.query().QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SearchCandidate
	for rows.Next() {
		var c core.SearchCandidate
		if err := rows.Scan(&c.ID, &c.FeedItemID, &c.Title, &c.URL, &c.Provider,
			&c.RankScore, &c.RankPosition, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// postgresCrawlResultRepo implements CrawlResultRepository for PostgreSQL
type postgresCrawlResultRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresCrawlResultRepo) query() querier { return conn(r.db, r.tx) }

const crawlResultColumns = `c.id, c.feed_item_id, c.candidate_url, c.attempt_order, c.resolved_url, c.domain,
	c.url_hash, c.status, c.title, c.content, c.relevance_score, c.weighted_score, c.reason, c.detail,
	c.attempted_at, v.same_event, v.relevance, v.importance, v.keywords`

// SaveAttempts writes non-winning rows before the winner so the partial unique
// index on successful rows is never transiently violated.
func (r *postgresCrawlResultRepo) SaveAttempts(ctx context.Context, itemID string, results []core.CrawlResult) error {
	ordered := make([]*core.CrawlResult, len(results))
	for i := range results {
		ordered[i] = &results[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Status != core.CrawlSuccess && ordered[j].Status == core.CrawlSuccess
	})

	query := `
		INSERT INTO crawl_results (id, feed_item_id, candidate_url, attempt_order, resolved_url, domain,
			url_hash, status, title, content, relevance_score, weighted_score, reason, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (feed_item_id, candidate_url) DO UPDATE SET
			attempt_order = EXCLUDED.attempt_order,
			resolved_url = EXCLUDED.resolved_url,
			domain = EXCLUDED.domain,
			url_hash = EXCLUDED.url_hash,
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			relevance_score = EXCLUDED.relevance_score,
			weighted_score = EXCLUDED.weighted_score,
			reason = EXCLUDED.reason,
			detail = EXCLUDED.detail,
			attempted_at = EXCLUDED.attempted_at
		RETURNING id
	`
	for _, res := range ordered {
		res.FeedItemID = itemID
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		if res.AttemptedAt.IsZero() {
			res.AttemptedAt = time.Now().UTC()
		}
		if err := r.query().QueryRowContext(ctx, query,
			res.ID, itemID, res.CandidateURL, res.AttemptOrder, res.ResolvedURL, res.Domain,
			res.URLHash, string(res.Status), res.Title, res.Content, res.RelevanceScore,
			res.WeightedScore, string(res.Reason), res.Detail, res.AttemptedAt,
		).Scan(&res.ID); err != nil {
			return fmt.Errorf("failed to save crawl result %s: %w", res.CandidateURL, err)
		}

		if res.Verification != nil {
			if err := r.saveVerification(ctx, res.ID, res.Verification); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *postgresCrawlResultRepo) saveVerification(ctx context.Context, crawlResultID string, v *core.VerificationResult) error {
	v.CrawlResultID = crawlResultID
	query := `
		INSERT INTO verification_results (crawl_result_id, same_event, relevance, importance, keywords)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (crawl_result_id) DO UPDATE SET
			same_event = EXCLUDED.same_event,
			relevance = EXCLUDED.relevance,
			importance = EXCLUDED.importance,
			keywords = EXCLUDED.keywords
	`
	keywords := v.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := r.query().ExecContext(ctx, query, crawlResultID, v.SameEvent, v.Relevance, string(v.Importance), pq.Array(keywords))
	if err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return nil
}

func (r *postgresCrawlResultRepo) ListForItem(ctx context.Context, itemID string) ([]core.CrawlResult, error) {
	return r.list(ctx, `WHERE c.feed_item_id = $1 ORDER BY c.attempt_order, c.id`, itemID)
}

func (r *postgresCrawlResultRepo) SuccessForItem(ctx context.Context, itemID string) (*core.CrawlResult, error) {
	results, err := r.list(ctx, `WHERE c.feed_item_id = $1 AND c.status = 'success'`, itemID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("successful crawl for %s: %w", itemID, core.ErrNotFound)
	}
	return &results[0], nil
}

func (r *postgresCrawlResultRepo) ListSince(ctx context.Context, since time.Time) ([]core.CrawlResult, error) {
	return r.list(ctx, `WHERE c.attempted_at >= $1 ORDER BY c.feed_item_id, c.attempt_order`, since)
}

func (r *postgresCrawlResultRepo) list(ctx context.Context, clause string, args ...interface{}) ([]core.CrawlResult, error) {
	query := `SELECT ` + crawlResultColumns + `
		FROM crawl_results c
		LEFT JOIN verification_results v ON v.crawl_result_id = c.id ` + clause
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CrawlResult
	for rows.Next() {
		res, err := scanCrawlResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scanCrawlResult(row rowScanner) (*core.CrawlResult, error) {
	var res core.CrawlResult
	var status, reason string
	var sameEvent sql.NullBool
	var relevance sql.NullFloat64
	var importance sql.NullString
	var keywords []string

	err := row.Scan(
		&res.ID, &res.FeedItemID, &res.CandidateURL, &res.AttemptOrder, &res.ResolvedURL, &res.Domain,
		&res.URLHash, &status, &res.Title, &res.Content, &res.RelevanceScore, &res.WeightedScore,
		&reason, &res.Detail, &res.AttemptedAt, &sameEvent, &relevance, &importance, pq.Array(&keywords),
	)
	if err != nil {
		return nil, err
	}
	res.Status = core.CrawlStatus(status)
	res.Reason = core.FailureReason(reason)
	if sameEvent.Valid {
		res.Verification = &core.VerificationResult{
			CrawlResultID: res.ID,
			SameEvent:     sameEvent.Bool,
			Relevance:     relevance.Float64,
			Importance:    core.ImportanceTier(importance.String),
			Keywords:      keywords,
		}
	}
	return &res, nil
}
