package domain_test

import (
	"context"

	"memlog/internal/domain"
)

// Compile-time interface check.
var _ domain.SimilarityProvider = (*stubEmbedder)(nil)

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = make([]float64, 3)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                  { return 3 }
func (s *stubEmbedder) Name() string                     { return "stub" }
func (s *stubEmbedder) Similarity(_, _ []float64) float64 { return 0 }
