// Package threading attaches processed articles to living story threads.
//
// Each thread is summarized by a centroid: the running mean of its members'
// embeddings. An article joins the most similar active thread when it clears the
// merge threshold. Articles that match nothing are grouped among themselves and
// seed new threads.
package threading

import (
	"storyline/internal/embedding"

	"gonum.org/v1/gonum/floats"
)

// Recompute returns the centroid after adding member to a thread that already has
// count members. The result is the incremental mean and does not modify centroid.
func Recompute(centroid, member []float64, count int) []float64 {
	if count <= 0 || len(centroid) != len(member) {
		return append([]float64(nil), member...)
	}
	n := float64(count)
	out := make([]float64, len(centroid))
	floats.ScaleTo(out, n, centroid)
	floats.Add(out, member)
	floats.Scale(1/(n+1), out)
	return out
}

// Drift is how far a centroid moved between two observations, as cosine distance.
func Drift(before, after []float64) float64 {
	if len(before) == 0 || len(after) == 0 {
		return 0
	}
	return 1 - embedding.CosineSimilarity(before, after)
}
