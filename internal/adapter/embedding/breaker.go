package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"memlog/internal/domain"
)

const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// BreakerSettings tunes CircuitBreaker. Zero fields take defaults.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures that open the circuit
	Timeout     time.Duration // how long the circuit stays open
	Interval    time.Duration // closed-state period after which counts reset
}

// CircuitBreaker stops calling a failing embedding backend for a while so a
// dead server does not add a request timeout to every search.
type CircuitBreaker struct {
	inner   domain.EmbeddingProvider
	breaker *gobreaker.CircuitBreaker[[][]float64]
}

// NewCircuitBreaker wraps inner.
func NewCircuitBreaker(inner domain.EmbeddingProvider, s BreakerSettings, logger *slog.Logger) *CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = defaultMaxFailures
	}
	if s.Timeout == 0 {
		s.Timeout = defaultOpenTimeout
	}
	if s.Interval == 0 {
		s.Interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[[][]float64](gobreaker.Settings{
		Name:        "embedding:" + inner.Name(),
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A cancelled caller says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &CircuitBreaker{inner: inner, breaker: cb}
}

// Embed implements domain.EmbeddingProvider.
func (c *CircuitBreaker) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vecs, err := c.breaker.Execute(func() ([][]float64, error) {
		return c.inner.Embed(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: provider %q circuit open: %v", domain.ErrEmbeddingFailed, c.inner.Name(), err)
	}
	return vecs, err
}

// State returns the breaker state.
func (c *CircuitBreaker) State() gobreaker.State { return c.breaker.State() }

// Dimensions implements domain.EmbeddingProvider.
func (c *CircuitBreaker) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CircuitBreaker) Name() string { return c.inner.Name() }

var _ domain.EmbeddingProvider = (*CircuitBreaker)(nil)
