package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"memlog/internal/domain"
)

// RateLimited spaces out calls to a metered embedding API.
type RateLimited struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst. A
// non-positive perSecond returns inner unchanged.
func NewRateLimited(inner domain.EmbeddingProvider, perSecond float64, burst int) domain.EmbeddingProvider {
	if perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Embed waits for a token, then delegates. Waiting stops when ctx is done.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", domain.ErrEmbeddingFailed, err)
	}
	return r.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (r *RateLimited) Name() string { return r.inner.Name() }

var _ domain.EmbeddingProvider = (*RateLimited)(nil)
