// Package metrics defines the Prometheus instrumentation for the
// recommendation core. Metrics are registered explicitly from main, not
// via init, so tests can construct components without global state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recommendation path metrics.
var (
	RecommendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nextup",
			Name:      "recommend_duration_seconds",
			Help:      "End-to-end Recommend call duration in seconds",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"status"}, // ok, degraded, partial, error
	)

	RecommendCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nextup",
			Name:      "recommend_candidates",
			Help:      "Candidates retrieved per Recommend call before ranking",
			Buckets:   []float64{0, 5, 10, 20, 40, 80, 160},
		},
	)

	DegradedRankingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nextup",
			Name:      "degraded_ranking_total",
			Help:      "Recommend calls served by similarity-only fallback",
		},
	)

	RefinementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nextup",
			Name:      "query_refinements_total",
			Help:      "Query refinements attempted, by action",
		},
		[]string{"action"},
	)
)

// Learning path metrics.
var (
	LearningEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nextup",
			Name:      "learning_events_total",
			Help:      "Interaction events consumed by the learning loop",
		},
		[]string{"result"}, // ok, skipped
	)

	RewardObserved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nextup",
			Name:      "reward_observed",
			Help:      "Shaped total reward per processed interaction",
			Buckets:   []float64{-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1},
		},
	)

	ExplorationCoeff = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nextup",
			Name:      "exploration_coefficient",
			Help:      "Current actor exploration noise coefficient",
		},
	)

	PolicyEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nextup",
			Name:      "policy_epoch",
			Help:      "Epoch counter of the live policy parameters",
		},
	)
)

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nextup",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nextup",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nextup",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // hit, miss
	)

	EmbeddingBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nextup",
			Name:      "embedding_breaker_open",
			Help:      "1 when the embedding provider circuit breaker is open",
		},
	)
)

// Register registers all core metrics on the given registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		RecommendDuration,
		RecommendCandidates,
		DegradedRankingTotal,
		RefinementsTotal,
		LearningEventsTotal,
		RewardObserved,
		ExplorationCoeff,
		PolicyEpoch,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
		EmbeddingBreakerState,
	)
}
