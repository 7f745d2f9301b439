// Package learn is the asynchronous learning loop: it drains the
// interaction stream and folds every event into the ranker, the preference
// memory, the context offsets, the refiner and the trajectory log.
package learn

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/metrics"
	"github.com/lumatv/nextup/internal/usecase/refine"
	"github.com/lumatv/nextup/internal/usecase/reward"
)

// Config holds learning loop settings.
type Config struct {
	Workers       int
	SnapshotEvery uint64        // persist learned state every N policy updates
	FlushInterval time.Duration // periodic offset/Q-table flush
	PatternEvery  time.Duration // pattern recompute + pruning cadence
	Retention     time.Duration // trajectory age cutoff
	TrajectoryCap int           // trajectory count cap per user, 0 = uncapped
	KeepRecent    int           // trajectories never pruned per user
}

// Loop consumes interaction events with per-user ordering: events hash by
// user onto a fixed worker, so one user's updates apply in arrival order
// while different users learn in parallel.
type Loop struct {
	sub         Subscriber
	ranker      Ranker
	prefs       Preferences
	trajs       TrajectoryLog
	offsets     OffsetSink
	refiner     RefinerSink
	store       LearnedStateStore
	impressions *ImpressionCache
	catalog     Catalog
	calc        *reward.Calculator
	cfg         Config
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a learning loop.
func New(
	sub Subscriber, ranker Ranker, prefs Preferences, trajs TrajectoryLog,
	offsets OffsetSink, refiner RefinerSink, store LearnedStateStore,
	impressions *ImpressionCache, catalog Catalog, calc *reward.Calculator,
	cfg Config, logger *zap.Logger,
) *Loop {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Loop{
		sub:         sub,
		ranker:      ranker,
		prefs:       prefs,
		trajs:       trajs,
		offsets:     offsets,
		refiner:     refiner,
		store:       store,
		impressions: impressions,
		catalog:     catalog,
		calc:        calc,
		cfg:         cfg,
		logger:      logger,
		active:      make(map[string]struct{}),
	}
}

type envelope struct {
	msg   *message.Message
	event domain.Interaction
}

// Run consumes the interaction topic until the context is canceled. It
// blocks; callers run it in a goroutine.
func (l *Loop) Run(ctx context.Context) error {
	messages, err := l.sub.Subscribe(ctx, TopicInteractions)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicInteractions, err)
	}

	lanes := make([]chan envelope, l.cfg.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan envelope, 64)
		wg.Add(1)
		go func(lane <-chan envelope) {
			defer wg.Done()
			l.worker(ctx, lane)
		}(lanes[i])
	}

	if l.cfg.FlushInterval > 0 || l.cfg.PatternEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.periodic(ctx)
		}()
	}

	l.logger.Info("Learning loop started", zap.Int("workers", l.cfg.Workers))

	for {
		select {
		case <-ctx.Done():
			for _, lane := range lanes {
				close(lane)
			}
			wg.Wait()
			l.flushLearnedState(context.WithoutCancel(ctx))
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				for _, lane := range lanes {
					close(lane)
				}
				wg.Wait()
				return nil
			}

			var event domain.Interaction
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				// A malformed event must never halt the consumer.
				l.logger.Warn("Skipping malformed interaction event",
					zap.String("message_id", msg.UUID), zap.Error(err))
				metrics.LearningEventsTotal.WithLabelValues("skipped").Inc()
				msg.Ack()
				continue
			}
			lanes[laneOf(event.UserID, len(lanes))] <- envelope{msg: msg, event: event}
		}
	}
}

func laneOf(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

func (l *Loop) worker(ctx context.Context, lane <-chan envelope) {
	for env := range lane {
		if err := l.handle(ctx, env.event); err != nil {
			l.logger.Warn("Skipping interaction event",
				zap.String("user_id", env.event.UserID),
				zap.String("content_id", env.event.ContentID),
				zap.Error(err))
			metrics.LearningEventsTotal.WithLabelValues("skipped").Inc()
		} else {
			metrics.LearningEventsTotal.WithLabelValues("ok").Inc()
		}
		env.msg.Ack()
	}
}

// handle applies one event: reward, ranker, preference, offsets,
// trajectory, refinement outcome.
func (l *Loop) handle(ctx context.Context, event domain.Interaction) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	imp, attributed := l.impressions.Get(event.UserID, event.ContentID)

	rec, err := l.prefs.Load(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load preference: %w", err)
	}

	cur := imp.State
	if !attributed {
		// Feedback without a recorded impression (restart, cache
		// eviction): rebuild the state from the event and resolve the
		// content from the catalog so the preference update still has
		// a real embedding to move toward.
		cur = domain.UserState{
			UserID:     event.UserID,
			Context:    event.Context.Normalize(event.Timestamp),
			Preference: rec,
		}
		content, err := l.catalog.Get(ctx, event.ContentID)
		switch {
		case err == nil:
			imp.Embedding = content.Embedding
			imp.Genres = content.Genres
		case errors.Is(err, domain.ErrNotFound):
			// Content gone; the trajectory below is all we can keep.
		default:
			return fmt.Errorf("resolve content: %w", err)
		}
	}

	rw := l.calc.Compute(event, rec, imp.Genres)

	// Without an embedding there is nothing to blend the preference
	// toward; updating anyway would only decay the learned vector.
	updated := rec
	if len(imp.Embedding) > 0 {
		updated, err = l.prefs.Update(ctx, rec, imp.Embedding, rw.Total, imp.Genres)
		if err != nil {
			return fmt.Errorf("update preference: %w", err)
		}
	}

	next := cur
	next.Preference = updated

	if attributed {
		l.ranker.Update(cur, next, domain.Candidate{
			ID:         imp.ContentID,
			Genres:     imp.Genres,
			Similarity: imp.Similarity,
			Embedding:  imp.Embedding,
		}, rw.Total)
		l.offsets.Accumulate(cur.Context.Bucket(), imp.Embedding, rw.Total)
	}

	traj := domain.Trajectory{
		ID:         event.EventID,
		UserID:     event.UserID,
		ContentID:  event.ContentID,
		Genres:     imp.Genres,
		Context:    cur.Context,
		Similarity: imp.Similarity,
		Rank:       imp.Rank,
		Reward:     rw,
		Timestamp:  event.Timestamp,
	}
	if traj.ID == "" {
		traj.ID = uuid.NewString()
	}
	if err := l.trajs.Append(ctx, traj); err != nil {
		return fmt.Errorf("append trajectory: %w", err)
	}

	if attributed && imp.Refined {
		accepted := rw.Total > 0
		downstream := event.Type == domain.InteractionWatchedHalf ||
			event.Type == domain.InteractionWatchComplete
		l.refiner.Observe(imp.RefineState, imp.RefineAction,
			refine.OutcomeReward(accepted, imp.RelevanceDelta, downstream),
			imp.RefineState)
	}

	metrics.RewardObserved.Observe(rw.Total)
	metrics.ExplorationCoeff.Set(l.ranker.ExplorationCoeff())
	metrics.PolicyEpoch.Set(float64(l.ranker.Epoch()))

	l.markActive(event.UserID)

	if l.cfg.SnapshotEvery > 0 && l.ranker.Epoch()%l.cfg.SnapshotEvery == 0 {
		l.flushLearnedState(ctx)
	}
	return nil
}

func (l *Loop) markActive(userID string) {
	l.mu.Lock()
	l.active[userID] = struct{}{}
	l.mu.Unlock()
}

func (l *Loop) takeActive() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.active))
	for u := range l.active {
		out = append(out, u)
	}
	l.active = make(map[string]struct{})
	return out
}

// periodic runs the background maintenance: learned-state flushes plus
// pattern recompute and trajectory pruning for recently active users.
func (l *Loop) periodic(ctx context.Context) {
	flushEvery := l.cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = time.Hour
	}
	patternEvery := l.cfg.PatternEvery
	if patternEvery <= 0 {
		patternEvery = time.Hour
	}

	flush := time.NewTicker(flushEvery)
	defer flush.Stop()
	patterns := time.NewTicker(patternEvery)
	defer patterns.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			l.flushLearnedState(ctx)
		case <-patterns.C:
			l.maintainUsers(ctx)
		}
	}
}

func (l *Loop) flushLearnedState(ctx context.Context) {
	if p, ok := l.ranker.Snapshot(); ok {
		if err := l.store.SaveSnapshot(ctx, p); err != nil {
			l.logger.Error("Failed to persist policy snapshot",
				zap.Uint64("epoch", p.Epoch), zap.Error(err))
		}
	}
	if err := l.store.SaveOffsets(ctx, l.offsets.Snapshot()); err != nil {
		l.logger.Error("Failed to persist context offsets", zap.Error(err))
	}
	if err := l.store.SaveQTable(ctx, l.refiner.Snapshot()); err != nil {
		l.logger.Error("Failed to persist refiner table", zap.Error(err))
	}
}

func (l *Loop) maintainUsers(ctx context.Context) {
	for _, userID := range l.takeActive() {
		if _, err := l.prefs.RecomputePatterns(ctx, userID); err != nil {
			l.logger.Warn("Pattern recompute failed",
				zap.String("user_id", userID), zap.Error(err))
		}
		pruned, err := l.trajs.Prune(ctx, userID, l.cfg.Retention, l.cfg.TrajectoryCap, l.cfg.KeepRecent)
		if err != nil {
			l.logger.Warn("Trajectory pruning failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if pruned > 0 {
			l.logger.Debug("Pruned trajectories",
				zap.String("user_id", userID), zap.Int("count", pruned))
		}
	}
}
