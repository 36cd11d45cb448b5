package embedding

import "gonum.org/v1/gonum/floats"

// CosineSimilarity calculates the cosine similarity between two embeddings.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

// Mean returns the component-wise mean of the vectors, or nil when empty
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	n := 0
	for _, v := range vectors {
		if len(v) != len(out) {
			continue
		}
		floats.Add(out, v)
		n++
	}
	if n == 0 {
		return nil
	}
	floats.Scale(1/float64(n), out)
	return out
}

// ToFloat64 widens an embedding returned by the model API
func ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
