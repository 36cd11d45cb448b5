package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyline/internal/core"
	"storyline/internal/persistence"

	"github.com/lib/pq"
)

// PgVector implements VectorStore on the feed_items.embedding pgvector column
type PgVector struct {
	db         *sql.DB
	dimensions int
}

// NewPgVector creates a pgvector-backed store
func NewPgVector(db *sql.DB, dimensions int) *PgVector {
	return &PgVector{db: db, dimensions: dimensions}
}

// Store writes the embedding onto the item row
func (p *PgVector) Store(ctx context.Context, itemID string, embedding []float64) error {
	if p.dimensions > 0 && len(embedding) != p.dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(embedding), p.dimensions)
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE feed_items SET embedding = $1::vector WHERE id = $2`,
		persistence.FormatVector(embedding), itemID)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("feed item %s: %w", itemID, core.ErrNotFound)
	}
	return nil
}

// Get reads an item's embedding
func (p *PgVector) Get(ctx context.Context, itemID string) ([]float64, error) {
	var text sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT embedding::text FROM feed_items WHERE id = $1`, itemID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed item %s: %w", itemID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !text.Valid {
		return nil, ErrNoEmbedding
	}
	return persistence.ParseVector(text.String)
}

// Search finds similar items using the cosine distance operator
func (p *PgVector) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	query.applyDefaults()

	args := []interface{}{persistence.FormatVector(query.Embedding), query.SimilarityThreshold, query.Limit}
	var filters []string
	if !query.Since.IsZero() {
		args = append(args, query.Since)
		filters = append(filters, fmt.Sprintf("AND (f.published_at IS NULL OR f.published_at >= $%d)", len(args)))
	}
	if len(query.ExcludeIDs) > 0 {
		args = append(args, pq.Array(query.ExcludeIDs))
		filters = append(filters, fmt.Sprintf("AND NOT (f.id = ANY($%d))", len(args)))
	}

	sqlQuery := fmt.Sprintf(`
		SELECT
			f.id,
			f.title,
			COALESCE(f.thread_id, ''),
			1 - (f.embedding <=> $1::vector) AS similarity,
			f.embedding <=> $1::vector AS distance
		FROM feed_items f
		WHERE f.embedding IS NOT NULL
		  AND 1 - (f.embedding <=> $1::vector) >= $2
		  %s
		ORDER BY f.embedding <=> $1::vector, f.id
		LIMIT $3
	`, strings.Join(filters, "\n\t\t  "))

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ItemID, &r.Title, &r.ThreadID, &r.Similarity, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

// Stats counts stored embeddings and reports the index in use
func (p *PgVector) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{EmbeddingDimensions: p.dimensions, IndexType: "none"}
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items WHERE embedding IS NOT NULL`,
	).Scan(&stats.TotalEmbeddings); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	var indexDef string
	err := p.db.QueryRowContext(ctx, `
		SELECT indexdef FROM pg_indexes
		WHERE tablename = 'feed_items' AND indexname LIKE '%embedding%'
		LIMIT 1
	`).Scan(&indexDef)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get index info: %w", err)
	case strings.Contains(indexDef, "hnsw"):
		stats.IndexType = "hnsw"
	case strings.Contains(indexDef, "ivfflat"):
		stats.IndexType = "ivfflat"
	default:
		stats.IndexType = "unknown"
	}
	return stats, nil
}
