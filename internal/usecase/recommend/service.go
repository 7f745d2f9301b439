// Package recommend orchestrates a single recommendation request: resolve
// the user, embed the query, retrieve, optionally refine, rank, diversify,
// and record impressions for later attribution.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/metrics"
	"github.com/lumatv/nextup/internal/usecase/learn"
	"github.com/lumatv/nextup/internal/usecase/rank"
	"github.com/lumatv/nextup/internal/usecase/refine"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
)

// qualityTopN is how many leading candidates feed the retrieval quality
// signal that gates refinement.
const qualityTopN = 5

// Config tunes the orchestration path.
type Config struct {
	DefaultK    int
	MaxK        int
	MMRLambda   float64
	Deadline    time.Duration
	HistorySize int // recent trajectories excluded from retrieval
}

// Request is a single recommendation ask.
type Request struct {
	UserID      string
	Query       string // optional free-text intent
	Context     domain.SessionContext
	K           int
	ContentType string
}

type Service struct {
	memory      Memory
	embedder    domain.Embedder
	adapter     Adapter
	retriever   Retriever
	ranker      Ranker
	refiner     Refiner
	trajs       TrajectoryReader
	impressions ImpressionRecorder
	publisher   Publisher
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

func New(
	memory Memory,
	embedder domain.Embedder,
	adapter Adapter,
	retriever Retriever,
	ranker Ranker,
	refiner Refiner,
	trajs TrajectoryReader,
	impressions ImpressionRecorder,
	publisher Publisher,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 50
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = 0.7
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = domain.MaxRecentHistory
	}
	return &Service{
		memory:      memory,
		embedder:    embedder,
		adapter:     adapter,
		retriever:   retriever,
		ranker:      ranker,
		refiner:     refiner,
		trajs:       trajs,
		impressions: impressions,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Recommend serves a ranked, diversified list for the user. Ranking and
// embedding failures degrade the response instead of failing it; only
// validation and retrieval errors surface to the caller.
func (s *Service) Recommend(ctx context.Context, req Request) (domain.RankedList, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.RecommendDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if req.UserID == "" {
		status = "error"
		return domain.RankedList{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if req.K <= 0 {
		req.K = s.cfg.DefaultK
	}
	if req.K > s.cfg.MaxK {
		req.K = s.cfg.MaxK
	}
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	now := s.now()
	pref, err := s.memory.Load(ctx, req.UserID)
	if err != nil {
		status = "error"
		return domain.RankedList{}, fmt.Errorf("load preferences: %w", err)
	}
	sc, err := s.memory.ResolveSession(ctx, req.UserID, req.Context, now)
	if err != nil {
		s.logger.Warn("session resolution failed, using defaults",
			zap.String("user_id", req.UserID), zap.Error(err))
		sc = domain.SessionContext{}.Normalize(now)
	}

	state := domain.UserState{
		UserID:     req.UserID,
		Query:      req.Query,
		Context:    sc,
		Preference: pref,
	}
	state.QueryEmbedding = s.embedQuery(ctx, &state)
	state.RecentHistory = s.recentHistory(ctx, req.UserID)

	rreq := retrieve.Request{
		Vector:      s.adapter.Adapt(state.QueryEmbedding, sc),
		K:           req.K,
		ContentType: req.ContentType,
		ExcludeIDs:  state.RecentHistory,
	}
	cands, err := s.retriever.Retrieve(ctx, rreq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			status = "partial"
			return domain.RankedList{Degraded: true}, nil
		}
		status = "error"
		return domain.RankedList{}, fmt.Errorf("retrieve: %w", err)
	}
	metrics.RecommendCandidates.Observe(float64(len(cands)))

	cands, refined := s.maybeRefine(ctx, rreq, &state, cands)

	scored, degraded := s.ranker.Rank(state, cands)
	if degraded {
		status = "degraded"
		metrics.DegradedRankingTotal.Inc()
		s.logger.Warn("ranking degraded to similarity order",
			zap.String("user_id", req.UserID),
			zap.Error(domain.ErrDegradedRanking))
	}
	picked := rank.MMR(scored, s.cfg.MMRLambda, req.K)

	list := domain.RankedList{
		Items:    make([]domain.Recommendation, 0, len(picked)),
		Degraded: degraded,
	}
	for i, item := range picked {
		list.Items = append(list.Items, domain.Recommendation{
			ContentID:     item.Candidate.ID,
			Title:         item.Candidate.Title,
			Score:         item.Score,
			Similarity:    item.Candidate.Similarity,
			Confidence:    item.Confidence,
			IsExploration: item.IsExploration,
			Reason:        reasonFor(item, pref),
		})
		imp := learn.Impression{
			State:      state,
			ContentID:  item.Candidate.ID,
			Genres:     item.Candidate.Genres,
			Embedding:  item.Candidate.Embedding,
			Similarity: item.Candidate.Similarity,
			Rank:       i,
			At:         now,
		}
		if refined != nil {
			imp.Refined = true
			imp.RefineState = refined.state
			imp.RefineAction = refined.action
			imp.RelevanceDelta = refined.delta
		}
		s.impressions.Put(imp)
	}
	return list, nil
}

// embedQuery vectorizes the request intent. When no free-text query is
// given the session context itself is embedded, so context alone still
// lands in a meaningful region of the content space. Provider outages fall
// back to the learned preference vector.
func (s *Service) embedQuery(ctx context.Context, state *domain.UserState) []float32 {
	text := state.Query
	if text == "" {
		text = contextQuery(state.Context)
	}
	res, err := s.embedder.Embed(ctx, text)
	if err == nil {
		return res.Embedding
	}
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		s.logger.Warn("embedding failed", zap.Error(err))
	}
	if len(state.Preference.Vector) > 0 {
		return state.Preference.Vector
	}
	return nil
}

func (s *Service) recentHistory(ctx context.Context, userID string) []string {
	trajs, err := s.trajs.Recent(ctx, userID, s.cfg.HistorySize)
	if err != nil {
		s.logger.Warn("recent history unavailable",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	seen := make(map[string]struct{}, len(trajs))
	ids := make([]string, 0, len(trajs))
	for _, t := range trajs {
		if _, ok := seen[t.ContentID]; ok {
			continue
		}
		seen[t.ContentID] = struct{}{}
		ids = append(ids, t.ContentID)
	}
	return ids
}

type refinement struct {
	state  string
	action refine.Action
	delta  float64
}

// maybeRefine runs at most one refinement round. The refined result set is
// kept only when it measurably improves retrieval quality; either way the
// chosen action is attributed on the impressions so the refiner learns from
// downstream engagement.
func (s *Service) maybeRefine(
	ctx context.Context, rreq retrieve.Request,
	state *domain.UserState, cands []domain.Candidate,
) ([]domain.Candidate, *refinement) {
	meanSim := retrieve.MeanTopSimilarity(cands, qualityTopN)
	tokens := len(strings.Fields(state.Query))
	if !s.refiner.ShouldRefine(meanSim, tokens) {
		return cands, nil
	}

	key := refine.StateKey(meanSim, tokens, state.Context.TimeOfDay)
	action := s.refiner.Choose(key)
	metrics.RefinementsTotal.WithLabelValues(action.String()).Inc()

	ref := &refinement{state: key, action: action}
	if action == refine.ActionClarifyIntent {
		return cands, ref
	}

	patterns, err := s.memory.Patterns(ctx, state.UserID)
	if err != nil {
		patterns = nil
	}
	refined, err := s.retriever.Retrieve(ctx, refine.Apply(action, rreq, *state, patterns))
	if err != nil {
		s.logger.Warn("refined retrieval failed, keeping original set",
			zap.String("action", action.String()), zap.Error(err))
		return cands, ref
	}
	refinedSim := retrieve.MeanTopSimilarity(refined, qualityTopN)
	ref.delta = refinedSim - meanSim
	if refinedSim > meanSim && len(refined) > 0 {
		return refined, ref
	}
	return cands, ref
}

// SubmitFeedback validates an interaction, stamps its identity, and hands
// it to the learning stream. The learning outcome is asynchronous; a true
// return means only that the event was accepted.
func (s *Service) SubmitFeedback(ctx context.Context, in domain.Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if in.EventID == "" {
		in.EventID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	in.Context = in.Context.Normalize(in.Timestamp)

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	if err := s.publisher.Publish(learn.TopicInteractions, message.NewMessage(in.EventID, payload)); err != nil {
		return fmt.Errorf("publish interaction: %w", err)
	}
	return nil
}

// GetLearningProgress reports how far personalization has come for a user.
func (s *Service) GetLearningProgress(ctx context.Context, userID string) (domain.LearningProgress, error) {
	if userID == "" {
		return domain.LearningProgress{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	count, sum, err := s.trajs.Aggregate(ctx, userID)
	if err != nil {
		return domain.LearningProgress{}, fmt.Errorf("aggregate trajectories: %w", err)
	}
	pref, err := s.memory.Load(ctx, userID)
	if err != nil {
		return domain.LearningProgress{}, fmt.Errorf("load preferences: %w", err)
	}
	patterns, err := s.memory.Patterns(ctx, userID)
	if err != nil {
		patterns = nil
	}
	progress := domain.LearningProgress{
		TotalInteractions: count,
		ExplorationRate:   s.ranker.ExplorationCoeff(),
		Confidence:        pref.Confidence,
		Patterns:          patterns,
	}
	if count > 0 {
		progress.AvgReward = sum / float64(count)
	}
	return progress, nil
}

// EraseUser removes every trace of a user: preferences, session, patterns,
// and the trajectory log.
func (s *Service) EraseUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if err := s.memory.Erase(ctx, userID); err != nil {
		return fmt.Errorf("erase preferences: %w", err)
	}
	if err := s.trajs.EraseUser(ctx, userID); err != nil {
		return fmt.Errorf("erase trajectories: %w", err)
	}
	s.logger.Info("user erased", zap.String("user_id", userID))
	return nil
}

func contextQuery(sc domain.SessionContext) string {
	return fmt.Sprintf("%s %s viewing, %s, on %s",
		sc.Mood, sc.TimeOfDay, sc.Social, sc.Device)
}

func reasonFor(sc rank.Scored, pref domain.PreferenceRecord) string {
	switch {
	case sc.IsExploration:
		return "Trying something new for you"
	case sc.Candidate.Similarity >= 0.85:
		return "A very close match to what you have been enjoying"
	case sc.Candidate.Similarity >= 0.65 && pref.Confidence >= 0.5:
		return "Based on your watch history"
	case sc.Candidate.Similarity >= 0.65:
		return "A good match for your request"
	default:
		return "Popular pick you might like"
	}
}
