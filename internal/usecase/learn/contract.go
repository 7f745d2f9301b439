package learn

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/refine"
)

// TopicInteractions is the event-stream topic feedback is published to.
const TopicInteractions = "interactions"

// Subscriber receives interaction events.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Ranker applies policy updates and exposes snapshot state.
type Ranker interface {
	Update(cur, next domain.UserState, chosen domain.Candidate, reward float64)
	Snapshot() (domain.PolicyParameters, bool)
	ExplorationCoeff() float64
	Epoch() uint64
}

// Preferences is the preference memory surface the loop drives.
type Preferences interface {
	Load(ctx context.Context, userID string) (domain.PreferenceRecord, error)
	Update(ctx context.Context, rec domain.PreferenceRecord, contentEmbedding []float32,
		reward float64, genres []string) (domain.PreferenceRecord, error)
	RecomputePatterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error)
}

// TrajectoryLog appends and prunes the decision log.
type TrajectoryLog interface {
	Append(ctx context.Context, t domain.Trajectory) error
	Prune(ctx context.Context, userID string, retention time.Duration, maxEntries, keepRecent int) (int, error)
}

// Catalog resolves content metadata for feedback that arrives without a
// recorded impression.
type Catalog interface {
	Get(ctx context.Context, id string) (domain.ContentVector, error)
}

// OffsetSink receives per-context reward attribution.
type OffsetSink interface {
	Accumulate(bucket string, contentEmbedding []float32, reward float64)
	Snapshot() map[string][]float32
}

// RefinerSink receives refinement outcomes.
type RefinerSink interface {
	Observe(stateKey string, a refine.Action, reward float64, nextStateKey string)
	Snapshot() map[string][]float64
}

// LearnedStateStore persists policy snapshots, offsets and the Q-table.
type LearnedStateStore interface {
	SaveSnapshot(ctx context.Context, p domain.PolicyParameters) error
	SaveOffsets(ctx context.Context, offsets map[string][]float32) error
	SaveQTable(ctx context.Context, table map[string][]float64) error
}
