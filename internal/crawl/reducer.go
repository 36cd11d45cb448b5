package crawl

import (
	"fmt"
	"sort"
	"time"

	"storyline/internal/core"
)

// Reducer folds ordered crawl attempts for one item into its final results.
// The first success wins; every sibling is then marked skipped with a reference
// to the winner, whether it was never tried or had already failed.
type Reducer struct {
	itemID  string
	results []core.CrawlResult
	winner  int
}

// NewReducer seeds one pending result per candidate in rank order. Attempt order
// and a rank-based weighted score are recorded up front so that candidates never
// fetched still carry them.
func NewReducer(itemID string, candidates []core.SearchCandidate) *Reducer {
	ordered := append([]core.SearchCandidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RankPosition < ordered[j].RankPosition
	})

	results := make([]core.CrawlResult, len(ordered))
	for i, c := range ordered {
		order := c.RankPosition
		if order <= 0 {
			order = i + 1
		}
		results[i] = core.CrawlResult{
			FeedItemID:    itemID,
			CandidateURL:  c.URL,
			AttemptOrder:  order,
			Status:        core.CrawlPending,
			WeightedScore: WeightedScore(c.RankScore, order),
		}
	}
	return &Reducer{itemID: itemID, results: results, winner: -1}
}

// Next returns the index of the next pending attempt, or false once a winner
// exists or every candidate has an outcome.
func (r *Reducer) Next() (int, bool) {
	if r.winner >= 0 {
		return 0, false
	}
	for i := range r.results {
		if r.results[i].Status == core.CrawlPending {
			return i, true
		}
	}
	return 0, false
}

// Pending returns the attempt at idx for the caller to fill in.
func (r *Reducer) Pending(idx int) core.CrawlResult {
	return r.results[idx]
}

// Record stores the outcome of attempt idx. A success after a winner already
// exists is demoted to skipped.
func (r *Reducer) Record(idx int, result core.CrawlResult) {
	result.FeedItemID = r.itemID
	result.CandidateURL = r.results[idx].CandidateURL
	result.AttemptOrder = r.results[idx].AttemptOrder
	if result.AttemptedAt.IsZero() {
		result.AttemptedAt = time.Now().UTC()
	}

	if result.Status == core.CrawlSuccess && r.winner >= 0 {
		r.results[idx] = supersede(result, r.results[r.winner])
		return
	}
	r.results[idx] = result
	if result.Status != core.CrawlSuccess {
		return
	}

	r.winner = idx
	for i := range r.results {
		if i != idx {
			r.results[i] = supersede(r.results[i], result)
		}
	}
}

// supersede marks a sibling of the winner skipped, keeping its earlier outcome in the detail.
func supersede(sibling, winner core.CrawlResult) core.CrawlResult {
	detail := fmt.Sprintf("winner %s (order %d)", winnerURL(winner), winner.AttemptOrder)
	switch sibling.Status {
	case core.CrawlFailed:
		detail = fmt.Sprintf("%s; earlier outcome %s: %s", detail, sibling.Reason, sibling.Detail)
	case core.CrawlSkipped:
		detail = fmt.Sprintf("%s; earlier outcome %s", detail, sibling.Reason)
	}
	sibling.Status = core.CrawlSkipped
	sibling.Reason = core.ReasonSuperseded
	sibling.Detail = detail
	sibling.Content = ""
	if sibling.AttemptedAt.IsZero() {
		sibling.AttemptedAt = winner.AttemptedAt
	}
	return sibling
}

func winnerURL(w core.CrawlResult) string {
	if w.ResolvedURL != "" {
		return w.ResolvedURL
	}
	return w.CandidateURL
}

// Winner returns the successful result, if any.
func (r *Reducer) Winner() (core.CrawlResult, bool) {
	if r.winner < 0 {
		return core.CrawlResult{}, false
	}
	return r.results[r.winner], true
}

// Results returns every attempt in order. Attempts still pending (the run was
// interrupted) are left out so a rerun picks them up.
func (r *Reducer) Results() []core.CrawlResult {
	out := make([]core.CrawlResult, 0, len(r.results))
	for _, res := range r.results {
		if res.Status != core.CrawlPending {
			out = append(out, res)
		}
	}
	return out
}

// Complete reports whether every candidate reached a terminal status.
func (r *Reducer) Complete() bool {
	for _, res := range r.results {
		if !res.Status.Terminal() {
			return false
		}
	}
	return true
}
