package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure. Serving continues on the
	// degraded paths (similarity ranking, cached embeddings).
	Degraded Status = "degraded"
	// Unhealthy indicates the content store is unreachable and
	// recommendations cannot be served at all.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	learned   LearnedStatePinger
	embedding EmbeddingChecker
}

// New creates a Service. learned and embedding can be nil.
func New(store StorePinger, learned LearnedStatePinger, embedding EmbeddingChecker) *Service {
	return &Service{store: store, learned: learned, embedding: embedding}
}

// Check runs health checks against all components. The store is the only
// hard dependency: without it the service is unhealthy, while learned-state
// or embedding failures only degrade it.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	storeOK := s.store.Ping(ctx) == nil
	if storeOK {
		checks["store"] = CheckOK
	} else {
		checks["store"] = CheckError
	}

	if s.learned != nil {
		if err := s.learned.Ping(ctx); err != nil {
			checks["learned_state"] = CheckError
		} else {
			checks["learned_state"] = CheckOK
		}
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !storeOK {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
