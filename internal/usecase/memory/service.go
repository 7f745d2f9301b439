// Package memory owns the per-user preference vector, its EMA update
// schedule, session continuity and behavioral pattern mining.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/domain/vector"
)

// minPatternSupport is the smallest number of positive interactions a
// pattern needs before it is reported at all.
const minPatternSupport = 5

// Config holds preference memory settings.
type Config struct {
	Dim              int
	Beta             float64 // steady-state EMA rate
	ColdStartBeta    float64 // accelerated rate for new users
	ColdStartWindow  int64   // interactions before dropping to Beta
	PatternWindow    int     // trajectories examined per recompute
	PatternThreshold float64 // dominance needed to report a pattern
	SessionFreshness time.Duration
}

// Service implements preference memory on top of the repository.
type Service struct {
	repo  Repository
	trajs TrajectoryReader
	cfg   Config
}

// New creates a preference memory service.
func New(repo Repository, trajs TrajectoryReader, cfg Config) *Service {
	return &Service{repo: repo, trajs: trajs, cfg: cfg}
}

// Load returns the user's preference record. A user with no history gets
// a cold-start default: zero vector, zero confidence.
func (s *Service) Load(ctx context.Context, userID string) (domain.PreferenceRecord, error) {
	rec, err := s.repo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PreferenceRecord{
				UserID:     userID,
				Vector:     vector.Zero(s.cfg.Dim),
				SeenGenres: map[string]int64{},
			}, nil
		}
		return domain.PreferenceRecord{}, err
	}
	if len(rec.Vector) != s.cfg.Dim {
		// An index-dimension change invalidates old vectors; restart the
		// user rather than feeding garbage into the ranker.
		rec.Vector = vector.Zero(s.cfg.Dim)
		rec.Interactions = 0
		rec.Confidence = 0
	}
	if rec.SeenGenres == nil {
		rec.SeenGenres = map[string]int64{}
	}
	return rec, nil
}

// Update folds one rewarded interaction into the preference vector:
//
//	pref' = pref·(1-β) + content·β·reward
//
// with the accelerated β while the user is inside the cold-start window.
// β=0 leaves the vector exactly unchanged. The updated record is saved
// and returned.
func (s *Service) Update(
	ctx context.Context, rec domain.PreferenceRecord, contentEmbedding []float32,
	reward float64, genres []string,
) (domain.PreferenceRecord, error) {
	beta := s.cfg.Beta
	if rec.Interactions < s.cfg.ColdStartWindow {
		beta = s.cfg.ColdStartBeta
	}

	rec.Vector = vector.EMA(rec.Vector, contentEmbedding, beta, reward)
	rec.Interactions++
	rec.Confidence = confidence(rec.Interactions)
	if rec.SeenGenres == nil {
		rec.SeenGenres = map[string]int64{}
	}
	for _, g := range genres {
		rec.SeenGenres[g]++
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveRecord(ctx, rec); err != nil {
		return domain.PreferenceRecord{}, fmt.Errorf("save preference: %w", err)
	}
	return rec, nil
}

// confidence grows linearly with interactions and saturates at 1 when the
// cold-start window closes.
func confidence(interactions int64) float64 {
	c := float64(interactions) / 5.0
	if c > 1 {
		c = 1
	}
	return c
}

// ResolveSession returns the context to recommend under. A provided
// context with situational dimensions wins and is persisted under its
// device. A bare device hint restores that device's stored session,
// falling back to the most recent session on any device; a fully empty
// context restores the most recent session directly. A stale or missing
// session is silently replaced with a derived default, keeping the known
// device since devices rarely change between sittings.
func (s *Service) ResolveSession(
	ctx context.Context, userID string, provided domain.SessionContext, now time.Time,
) (domain.SessionContext, error) {
	if !provided.IsZero() && !deviceOnly(provided) {
		sc := provided.Normalize(now)
		sc.UpdatedAt = now
		if err := s.repo.SaveSession(ctx, userID, sc); err != nil {
			return domain.SessionContext{}, fmt.Errorf("save session: %w", err)
		}
		return sc, nil
	}

	stored, err := s.repo.GetSession(ctx, userID, provided.Device)
	if err == nil && now.Sub(stored.UpdatedAt) > s.cfg.SessionFreshness {
		err = fmt.Errorf("session for %s: %w", userID, domain.ErrStaleSession)
	}
	switch {
	case err == nil:
		// A fallback restore keeps the caller's actual device.
		if provided.Device != "" {
			stored.Device = provided.Device
		}
		return stored, nil
	case errors.Is(err, domain.ErrStaleSession), errors.Is(err, domain.ErrNotFound):
		// Replaced with a derived default below.
	default:
		return domain.SessionContext{}, err
	}

	device := provided.Device
	if device == "" {
		device = stored.Device
	}
	derived := domain.SessionContext{Device: device}.Normalize(now)
	derived.UpdatedAt = now
	if err := s.repo.SaveSession(ctx, userID, derived); err != nil {
		return domain.SessionContext{}, fmt.Errorf("save session: %w", err)
	}
	return derived, nil
}

// deviceOnly reports whether the caller sent nothing but a device hint.
func deviceOnly(c domain.SessionContext) bool {
	return c.Device != "" && c.TimeOfDay == "" && c.Mood == "" && c.Social == ""
}

// Patterns returns the stored behavioral patterns for a user.
func (s *Service) Patterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error) {
	return s.repo.GetPatterns(ctx, userID)
}

// RecomputePatterns mines the user's recent trajectories for statistical
// regularities and replaces the stored pattern set. Old patterns are
// superseded, never merged.
func (s *Service) RecomputePatterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error) {
	trajs, err := s.trajs.Recent(ctx, userID, s.cfg.PatternWindow)
	if err != nil {
		return nil, fmt.Errorf("read trajectories: %w", err)
	}

	pats := minePatterns(trajs, s.cfg.PatternThreshold, time.Now().UTC())
	if err := s.repo.SavePatterns(ctx, userID, pats); err != nil {
		return nil, fmt.Errorf("save patterns: %w", err)
	}
	return pats, nil
}

// Erase removes all preference state for a user.
func (s *Service) Erase(ctx context.Context, userID string) error {
	return s.repo.Erase(ctx, userID)
}

// minePatterns looks at positively rewarded trajectories and reports a
// pattern whenever one bucket dominates a dimension beyond the threshold.
func minePatterns(trajs []domain.Trajectory, threshold float64, now time.Time) []domain.BehavioralPattern {
	var positive []domain.Trajectory
	for _, t := range trajs {
		if t.Reward.Total > 0 {
			positive = append(positive, t)
		}
	}
	if len(positive) < minPatternSupport {
		return nil
	}

	var out []domain.BehavioralPattern
	out = appendDominant(out, positive, domain.PatternTimeOfDay, threshold, now,
		func(t domain.Trajectory) []string { return []string{string(t.Context.TimeOfDay)} })
	out = appendDominant(out, positive, domain.PatternMood, threshold, now,
		func(t domain.Trajectory) []string { return []string{string(t.Context.Mood)} })
	out = appendDominant(out, positive, domain.PatternSocial, threshold, now,
		func(t domain.Trajectory) []string { return []string{string(t.Context.Social)} })
	out = appendDominant(out, positive, domain.PatternGenreAffinity, threshold, now,
		func(t domain.Trajectory) []string { return t.Genres })

	sort.Slice(out, func(a, b int) bool { return out[a].Confidence > out[b].Confidence })
	return out
}

func appendDominant(
	dst []domain.BehavioralPattern, positive []domain.Trajectory,
	typ domain.PatternType, threshold float64, now time.Time,
	keysOf func(domain.Trajectory) []string,
) []domain.BehavioralPattern {
	counts := map[string]int{}
	for _, t := range positive {
		for _, k := range keysOf(t) {
			if k != "" {
				counts[k]++
			}
		}
	}

	var bestKey string
	var bestCount int
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < bestKey) {
			bestKey, bestCount = k, n
		}
	}
	if bestCount == 0 {
		return dst
	}

	frac := float64(bestCount) / float64(len(positive))
	if frac < threshold || bestCount < minPatternSupport {
		return dst
	}
	return append(dst, domain.BehavioralPattern{
		Type:       typ,
		Key:        bestKey,
		Confidence: frac,
		Support:    bestCount,
		ComputedAt: now,
	})
}
