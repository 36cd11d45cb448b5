package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hashing is a deterministic bag-of-words embedder. It needs no model and is used
// for dry runs, the mock provider and tests. Texts sharing words score high.
type Hashing struct {
	Dimensions int
}

// NewHashing creates a hashing embedder of the given size
func NewHashing(dimensions int) *Hashing {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &Hashing{Dimensions: dimensions}
}

func (h *Hashing) Embed(ctx context.Context, text string) ([]float64, error) {
	v := make([]float64, h.Dimensions)
	for _, tok := range Tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dimensions))
		if sum&(1<<63) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v, nil
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v, nil
}

func (h *Hashing) EmbeddingModel() string { return fmt.Sprintf("hashing/%d", h.Dimensions) }

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "at": true, "by": true, "with": true, "as": true,
	"is": true, "are": true, "was": true, "be": true, "its": true, "it": true, "from": true,
}

// Tokenize lowercases text and splits it into words, dropping stopwords
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
