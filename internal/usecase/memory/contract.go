package memory

import (
	"context"

	"github.com/lumatv/nextup/internal/domain"
)

// Repository defines the storage contract for preference state.
type Repository interface {
	GetRecord(ctx context.Context, userID string) (domain.PreferenceRecord, error)
	SaveRecord(ctx context.Context, rec domain.PreferenceRecord) error
	GetSession(ctx context.Context, userID string, device domain.DeviceType) (domain.SessionContext, error)
	SaveSession(ctx context.Context, userID string, sc domain.SessionContext) error
	GetPatterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error)
	SavePatterns(ctx context.Context, userID string, pats []domain.BehavioralPattern) error
	Erase(ctx context.Context, userID string) error
}

// TrajectoryReader supplies recent trajectories for pattern mining.
type TrajectoryReader interface {
	Recent(ctx context.Context, userID string, n int) ([]domain.Trajectory, error)
}
