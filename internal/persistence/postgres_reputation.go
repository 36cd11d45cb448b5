package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storyline/internal/core"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// postgresDomainRepo implements DomainRepository for PostgreSQL
type postgresDomainRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresDomainRepo) query() querier { return conn(r.db, r.tx) }

const domainColumns = `domain, successes, attempts, failure_counts, blocked, lower_bound, updated_at`

func (r *postgresDomainRepo) Get(ctx context.Context, domain string) (*core.DomainReputation, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domain_reputation WHERE domain = $1`, domain)
	rep, err := scanDomain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("domain %s: %w", domain, core.ErrNotFound)
	}
	return rep, err
}

func (r *postgresDomainRepo) Upsert(ctx context.Context, rep *core.DomainReputation) error {
	counts := rep.FailureCounts
	if counts == nil {
		counts = map[core.FailureReason]int{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal failure counts: %w", err)
	}
	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO domain_reputation (` + domainColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain) DO UPDATE SET
			successes = EXCLUDED.successes,
			attempts = EXCLUDED.attempts,
			failure_counts = EXCLUDED.failure_counts,
			blocked = EXCLUDED.blocked,
			lower_bound = EXCLUDED.lower_bound,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.query().ExecContext(ctx, query,
		rep.Domain, rep.Successes, rep.Attempts, countsJSON, rep.Blocked, rep.LowerBound, rep.UpdatedAt,
	)
	return err
}

func (r *postgresDomainRepo) List(ctx context.Context) ([]core.DomainReputation, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT `+domainColumns+` FROM domain_reputation ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.DomainReputation
	for rows.Next() {
		rep, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func scanDomain(row rowScanner) (*core.DomainReputation, error) {
	var rep core.DomainReputation
	var countsJSON []byte
	if err := row.Scan(&rep.Domain, &rep.Successes, &rep.Attempts, &countsJSON,
		&rep.Blocked, &rep.LowerBound, &rep.UpdatedAt); err != nil {
		return nil, err
	}
	rep.FailureCounts = map[core.FailureReason]int{}
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &rep.FailureCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure counts: %w", err)
		}
	}
	return &rep, nil
}

// postgresThreadRepo implements ThreadRepository for PostgreSQL
type postgresThreadRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresThreadRepo) query() querier { return conn(r.db, r.tx) }

const threadColumns = `id, title, centroid::text, member_count, first_seen, last_seen, active`

func (r *postgresThreadRepo) Get(ctx context.Context, id string) (*core.StoryThread, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+threadColumns+` FROM story_threads WHERE id = $1`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, core.ErrNotFound)
	}
	return t, err
}

func (r *postgresThreadRepo) ListActive(ctx context.Context) ([]core.StoryThread, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT `+threadColumns+` FROM story_threads WHERE active = TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.StoryThread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *postgresThreadRepo) Upsert(ctx context.Context, t *core.StoryThread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var centroid sql.NullString
	if len(t.Centroid) > 0 {
		centroid = sql.NullString{String: FormatVector(t.Centroid), Valid: true}
	}

	query := `
		INSERT INTO story_threads (id, title, centroid, member_count, first_seen, last_seen, active)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			centroid = EXCLUDED.centroid,
			member_count = EXCLUDED.member_count,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			active = EXCLUDED.active
	`
	_, err := r.query().ExecContext(ctx, query, t.ID, t.Title, centroid, t.MemberCount, t.FirstSeen, t.LastSeen, t.Active)
	return err
}

func (r *postgresThreadRepo) DeactivateStale(ctx context.Context, before time.Time) (int, error) {
	result, err := r.query().ExecContext(ctx, `UPDATE story_threads SET active = FALSE WHERE active = TRUE AND last_seen < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func scanThread(row rowScanner) (*core.StoryThread, error) {
	var t core.StoryThread
	var centroid sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &centroid, &t.MemberCount, &t.FirstSeen, &t.LastSeen, &t.Active); err != nil {
		return nil, err
	}
	if centroid.Valid {
		v, err := ParseVector(centroid.String)
		if err != nil {
			return nil, err
		}
		t.Centroid = v
	}
	return &t, nil
}

// postgresBriefingRepo implements BriefingRepository for PostgreSQL
type postgresBriefingRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r *postgresBriefingRepo) query() querier { return conn(r.db, r.tx) }

const briefingColumns = `id, briefing_date, locale, narrative, chapters, sentences, audio_ref, audio_duration,
	source_item_count, item_ids, created_at, updated_at`

func (r *postgresBriefingRepo) Upsert(ctx context.Context, b *core.Briefing) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Date = core.BriefingDate(b.Date)
	chapters, err := json.Marshal(nonNilChapters(b.Chapters))
	if err != nil {
		return fmt.Errorf("failed to marshal chapters: %w", err)
	}
	sentences, err := json.Marshal(nonNilSentences(b.Sentences))
	if err != nil {
		return fmt.Errorf("failed to marshal sentences: %w", err)
	}
	itemIDs := b.ItemIDs
	if itemIDs == nil {
		itemIDs = []string{}
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO briefings (` + briefingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (briefing_date, locale) DO UPDATE SET
			narrative = EXCLUDED.narrative,
			chapters = EXCLUDED.chapters,
			sentences = EXCLUDED.sentences,
			audio_ref = EXCLUDED.audio_ref,
			audio_duration = EXCLUDED.audio_duration,
			source_item_count = EXCLUDED.source_item_count,
			item_ids = EXCLUDED.item_ids,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	return r.query().QueryRowContext(ctx, query,
		b.ID, b.Date, b.Locale, b.Narrative, chapters, sentences, b.AudioRef, b.AudioDuration,
		b.SourceItemCount, pq.Array(itemIDs), now,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *postgresBriefingRepo) Get(ctx context.Context, date time.Time, locale string) (*core.Briefing, error) {
	row := r.query().QueryRowContext(ctx,
		`SELECT `+briefingColumns+` FROM briefings WHERE briefing_date = $1 AND locale = $2`,
		core.BriefingDate(date), locale)
	b, err := scanBriefing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("briefing %s/%s: %w", core.BriefingDate(date).Format("2006-01-02"), locale, core.ErrNotFound)
	}
	return b, err
}

func (r *postgresBriefingRepo) Latest(ctx context.Context, locale string) (*core.Briefing, error) {
	row := r.query().QueryRowContext(ctx,
		`SELECT `+briefingColumns+` FROM briefings WHERE locale = $1 ORDER BY briefing_date DESC LIMIT 1`, locale)
	b, err := scanBriefing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("briefing for %s: %w", locale, core.ErrNotFound)
	}
	return b, err
}

func scanBriefing(row rowScanner) (*core.Briefing, error) {
	var b core.Briefing
	var chapters, sentences []byte
	if err := row.Scan(&b.ID, &b.Date, &b.Locale, &b.Narrative, &chapters, &sentences, &b.AudioRef,
		&b.AudioDuration, &b.SourceItemCount, pq.Array(&b.ItemIDs), &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(chapters, &b.Chapters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chapters: %w", err)
	}
	if err := json.Unmarshal(sentences, &b.Sentences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sentences: %w", err)
	}
	b.Date = core.BriefingDate(b.Date)
	return &b, nil
}

func nonNilChapters(c []core.Chapter) []core.Chapter {
	if c == nil {
		return []core.Chapter{}
	}
	return c
}

func nonNilSentences(s []core.Sentence) []core.Sentence {
	if s == nil {
		return []core.Sentence{}
	}
	return s
}
