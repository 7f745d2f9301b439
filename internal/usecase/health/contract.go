package health

import "context"

// StorePinger checks the content/preference store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// LearnedStatePinger checks the local learned-state store.
type LearnedStatePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
