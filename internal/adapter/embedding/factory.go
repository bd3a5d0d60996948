package embedding

import (
	"fmt"
	"log/slog"

	"memlog/internal/domain"
	"memlog/internal/infra/config"
)

// New builds the similarity provider described by cfg. An empty provider
// returns (nil, nil): semantic search stays disabled.
//
// Calls flow through the cache, then the rate limiter, then the circuit
// breaker, so cache hits neither spend tokens nor count towards the breaker.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (domain.SimilarityProvider, error) {
	var base domain.EmbeddingProvider
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		opts := []OllamaOption{}
		if cfg.Model != "" {
			opts = append(opts, WithOllamaModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(cfg.BaseURL))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOllamaDimensions(cfg.Dimensions))
		}
		base = NewOllamaProvider(opts...)
	case "openai":
		opts := []OpenAIOption{}
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithOpenAIDimensions(cfg.Dimensions))
		}
		base = NewOpenAIProvider(cfg.APIKey, opts...)
	case "gemini":
		opts := []GeminiOption{}
		if cfg.Model != "" {
			opts = append(opts, WithGeminiModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.BaseURL))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, WithGeminiDimensions(cfg.Dimensions))
		}
		base = NewGeminiProvider(cfg.APIKey, opts...)
	case "bedrock":
		var err error
		if base, err = newBedrock(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	cb := cfg.CircuitBreaker
	var p domain.EmbeddingProvider = NewCircuitBreaker(base, BreakerSettings{
		MaxFailures: cb.MaxFailures,
		Timeout:     cb.Timeout,
		Interval:    cb.Interval,
	}, logger)
	p = NewRateLimited(p, cfg.RateLimit, cfg.RateBurst)
	p = NewCache(p, cfg.CacheSize)
	return WithCosine(p), nil
}
