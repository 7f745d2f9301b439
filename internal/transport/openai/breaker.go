package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/metrics"
)

// BreakerConfig tunes the embedding circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	MaxHalfOpen      uint32
}

// BreakerEmbedder wraps an embedder with a circuit breaker. While the
// breaker is open every call fails fast with domain.ErrProviderUnavailable,
// which the serving path treats as a signal to fall back to cached or
// preference-derived embeddings.
type BreakerEmbedder struct {
	inner   domain.Embedder
	breaker *gobreaker.CircuitBreaker[domain.EmbeddingResult]
}

// NewBreakerEmbedder wraps inner with breaker protection.
func NewBreakerEmbedder(inner domain.Embedder, cfg BreakerConfig, logger *zap.Logger) *BreakerEmbedder {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxHalfOpen == 0 {
		cfg.MaxHalfOpen = 1
	}
	settings := gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.EmbeddingBreakerState.Set(1)
			} else {
				metrics.EmbeddingBreakerState.Set(0)
			}
			logger.Warn("embedding breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerEmbedder{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[domain.EmbeddingResult](settings),
	}
}

// Embed implements domain.Embedder.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := b.breaker.Execute(func() (domain.EmbeddingResult, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.EmbeddingResult{}, fmt.Errorf("%s: %w", err, domain.ErrProviderUnavailable)
		}
		return domain.EmbeddingResult{}, err
	}
	return res, nil
}

// State reports the current breaker state for health and diagnostics.
func (b *BreakerEmbedder) State() string {
	return b.breaker.State().String()
}
