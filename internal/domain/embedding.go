package domain

import "context"

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "openai", "ollama").
	Name() string
}

// SimilarityProvider embeds text and scores pairs of vectors. Higher scores
// mean more similar.
type SimilarityProvider interface {
	EmbeddingProvider
	Similarity(a, b []float64) float64
}
