// Package ranking scores search candidates against their source headline.
package ranking

import (
	"context"
	"fmt"
	"sort"

	"storyline/internal/core"
	"storyline/internal/embedding"
)

const (
	DefaultTopK     = 5
	DefaultMinScore = 0.3
)

// Scored is one candidate with its similarity to the source headline.
type Scored struct {
	Candidate core.SearchCandidate `json:"candidate"`
	Score     float64              `json:"score"`
	Included  bool                 `json:"included"`
	Reason    string               `json:"reason"`
}

// Ranker embeds headlines and candidate titles in the same space and keeps the best matches.
type Ranker struct {
	embedder embedding.Embedder
	topK     int
	minScore float64
}

// NewRanker creates a ranker. Non-positive topK selects the default.
func NewRanker(embedder embedding.Embedder, topK int, minScore float64) *Ranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Ranker{embedder: embedder, topK: topK, minScore: minScore}
}

// Score embeds the item's headline text and every candidate title.
func (r *Ranker) Score(ctx context.Context, item core.FeedItem, candidates []core.SearchCandidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	source, err := r.embedder.Embed(ctx, item.HeadlineText())
	if err != nil {
		return nil, fmt.Errorf("embed headline %s: %w", item.ID, err)
	}

	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = c.Title
	}
	vectors, err := embedding.EmbedAll(ctx, r.embedder, titles)
	if err != nil {
		return nil, fmt.Errorf("embed candidate titles for %s: %w", item.ID, err)
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{Candidate: c, Score: embedding.CosineSimilarity(source, vectors[i])}
	}
	return scored, nil
}

// Rank scores the candidates and returns the kept ones with rank score and 1-based position set.
func (r *Ranker) Rank(ctx context.Context, item core.FeedItem, candidates []core.SearchCandidate) ([]core.SearchCandidate, []Scored, error) {
	scored, err := r.Score(ctx, item, candidates)
	if err != nil {
		return nil, nil, err
	}
	kept := Select(scored, r.topK, r.minScore)
	return kept, scored, nil
}

// Select sorts by descending score and keeps at most topK candidates scoring above
// minScore. Ties break on title then URL so the order never depends on input order.
// The Included and Reason fields of scored are filled in place.
func Select(scored []Scored, topK int, minScore float64) []core.SearchCandidate {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.Title != b.Candidate.Title {
			return a.Candidate.Title < b.Candidate.Title
		}
		return a.Candidate.URL < b.Candidate.URL
	})

	var kept []core.SearchCandidate
	for i := range scored {
		s := &scored[i]
		switch {
		case s.Score <= minScore:
			s.Reason = fmt.Sprintf("score %.3f at or below floor %.2f", s.Score, minScore)
		case len(kept) >= topK:
			s.Reason = fmt.Sprintf("outside top %d", topK)
		default:
			s.Included = true
			s.Reason = fmt.Sprintf("rank %d", len(kept)+1)
			c := s.Candidate
			c.RankScore = s.Score
			c.RankPosition = len(kept) + 1
			kept = append(kept, c)
		}
	}
	return kept
}
