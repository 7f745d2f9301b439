package recommend

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/learn"
	"github.com/lumatv/nextup/internal/usecase/rank"
	"github.com/lumatv/nextup/internal/usecase/refine"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
)

// Memory is the preference surface the orchestrator needs.
type Memory interface {
	Load(ctx context.Context, userID string) (domain.PreferenceRecord, error)
	ResolveSession(ctx context.Context, userID string, provided domain.SessionContext, now time.Time) (domain.SessionContext, error)
	Patterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error)
	Erase(ctx context.Context, userID string) error
}

// Retriever fetches the candidate set.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieve.Request) ([]domain.Candidate, error)
}

// Ranker scores candidates.
type Ranker interface {
	Rank(state domain.UserState, cands []domain.Candidate) ([]rank.Scored, bool)
	ExplorationCoeff() float64
}

// Refiner decides and applies query refinements.
type Refiner interface {
	ShouldRefine(meanTopSimilarity float64, queryTokens int) bool
	Choose(stateKey string) refine.Action
}

// Adapter bends the query embedding toward the session context.
type Adapter interface {
	Adapt(embedding []float32, sc domain.SessionContext) []float32
}

// TrajectoryReader supplies history and learning totals.
type TrajectoryReader interface {
	Recent(ctx context.Context, userID string, n int) ([]domain.Trajectory, error)
	Aggregate(ctx context.Context, userID string) (int64, float64, error)
	EraseUser(ctx context.Context, userID string) error
}

// Publisher emits interaction events to the learning stream.
type Publisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// ImpressionRecorder snapshots served recommendations for attribution.
type ImpressionRecorder interface {
	Put(imp learn.Impression)
}
