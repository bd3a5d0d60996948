package embedding

import (
	"math"

	"memlog/internal/domain"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or with zero magnitude score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type cosineProvider struct {
	domain.EmbeddingProvider
}

func (cosineProvider) Similarity(a, b []float64) float64 { return Cosine(a, b) }

// WithCosine turns an embedding provider into a similarity provider that
// scores by cosine similarity.
func WithCosine(p domain.EmbeddingProvider) domain.SimilarityProvider {
	return cosineProvider{p}
}
