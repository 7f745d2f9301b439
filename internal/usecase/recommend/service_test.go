package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/learn"
	"github.com/lumatv/nextup/internal/usecase/rank"
	"github.com/lumatv/nextup/internal/usecase/refine"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
)

type mockMemory struct {
	pref     domain.PreferenceRecord
	loadErr  error
	patterns []domain.BehavioralPattern
	erased   []string
}

func (m *mockMemory) Load(_ context.Context, userID string) (domain.PreferenceRecord, error) {
	if m.loadErr != nil {
		return domain.PreferenceRecord{}, m.loadErr
	}
	if m.pref.UserID == "" {
		m.pref.UserID = userID
	}
	return m.pref, nil
}

func (m *mockMemory) ResolveSession(_ context.Context, _ string, provided domain.SessionContext, now time.Time) (domain.SessionContext, error) {
	return provided.Normalize(now), nil
}

func (m *mockMemory) Patterns(context.Context, string) ([]domain.BehavioralPattern, error) {
	return m.patterns, nil
}

func (m *mockMemory) Erase(_ context.Context, userID string) error {
	m.erased = append(m.erased, userID)
	return nil
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type identityAdapter struct{}

func (identityAdapter) Adapt(embedding []float32, _ domain.SessionContext) []float32 {
	return embedding
}

type mockRetriever struct {
	sets     [][]domain.Candidate
	requests []retrieve.Request
	err      error
}

func (m *mockRetriever) Retrieve(_ context.Context, req retrieve.Request) ([]domain.Candidate, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.sets) {
		idx = len(m.sets) - 1
	}
	return m.sets[idx], nil
}

type mockRanker struct {
	degraded bool
	coeff    float64
}

func (m *mockRanker) Rank(_ domain.UserState, cands []domain.Candidate) ([]rank.Scored, bool) {
	out := make([]rank.Scored, len(cands))
	for i, c := range cands {
		out[i] = rank.Scored{Candidate: c, Score: c.Similarity, Confidence: 0.5}
	}
	return out, m.degraded
}

func (m *mockRanker) ExplorationCoeff() float64 { return m.coeff }

type mockRefiner struct {
	should bool
	action refine.Action
	keys   []string
}

func (m *mockRefiner) ShouldRefine(float64, int) bool { return m.should }

func (m *mockRefiner) Choose(stateKey string) refine.Action {
	m.keys = append(m.keys, stateKey)
	return m.action
}

type mockTrajs struct {
	recent []domain.Trajectory
	count  int64
	sum    float64
	erased []string
}

func (m *mockTrajs) Recent(context.Context, string, int) ([]domain.Trajectory, error) {
	return m.recent, nil
}

func (m *mockTrajs) Aggregate(context.Context, string) (int64, float64, error) {
	return m.count, m.sum, nil
}

func (m *mockTrajs) EraseUser(_ context.Context, userID string) error {
	m.erased = append(m.erased, userID)
	return nil
}

type mockImpressions struct {
	got []learn.Impression
}

func (m *mockImpressions) Put(imp learn.Impression) { m.got = append(m.got, imp) }

type mockPublisher struct {
	topic string
	msgs  []*message.Message
	err   error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	if m.err != nil {
		return m.err
	}
	m.topic = topic
	m.msgs = append(m.msgs, messages...)
	return nil
}

type fixture struct {
	svc         *Service
	memory      *mockMemory
	embedder    *mockEmbedder
	retriever   *mockRetriever
	ranker      *mockRanker
	refiner     *mockRefiner
	trajs       *mockTrajs
	impressions *mockImpressions
	publisher   *mockPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		memory:      &mockMemory{pref: domain.PreferenceRecord{Confidence: 0.6}},
		embedder:    &mockEmbedder{vec: []float32{1, 0, 0}},
		retriever:   &mockRetriever{},
		ranker:      &mockRanker{coeff: 0.2},
		refiner:     &mockRefiner{},
		trajs:       &mockTrajs{},
		impressions: &mockImpressions{},
		publisher:   &mockPublisher{},
	}
	f.svc = New(
		f.memory, f.embedder, identityAdapter{}, f.retriever, f.ranker,
		f.refiner, f.trajs, f.impressions, f.publisher,
		Config{DefaultK: 10, MaxK: 50, MMRLambda: 0.7},
		zap.NewNop(),
	)
	return f
}

func candidates(sims ...float64) []domain.Candidate {
	out := make([]domain.Candidate, len(sims))
	for i, s := range sims {
		out[i] = domain.Candidate{
			ID:         string(rune('a' + i)),
			Title:      "title " + string(rune('a'+i)),
			Similarity: s,
		}
	}
	return out
}

func TestRecommend(t *testing.T) {
	f := newFixture(t)
	f.retriever.sets = [][]domain.Candidate{candidates(0.9, 0.8, 0.7)}

	list, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "space opera", K: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(list.Items))
	}
	if list.Degraded {
		t.Error("unexpected degraded flag")
	}
	if list.Items[0].ContentID != "a" {
		t.Errorf("top item = %s, want a", list.Items[0].ContentID)
	}
	if list.Items[0].Reason == "" {
		t.Error("missing reason on top item")
	}
	if len(f.impressions.got) != 2 {
		t.Fatalf("impressions = %d, want 2", len(f.impressions.got))
	}
	for i, imp := range f.impressions.got {
		if imp.Rank != i {
			t.Errorf("impression %d rank = %d", i, imp.Rank)
		}
		if imp.Refined {
			t.Errorf("impression %d unexpectedly refined", i)
		}
	}
}

func TestRecommendRejectsMissingUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Recommend(context.Background(), Request{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestRecommendEmbedderOutageFallsBack(t *testing.T) {
	f := newFixture(t)
	f.memory.pref.Vector = []float32{0.5, 0.5, 0}
	f.embedder.err = domain.ErrProviderUnavailable
	f.retriever.sets = [][]domain.Candidate{candidates(0.9)}

	if _, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "anything"}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(f.retriever.requests) != 1 {
		t.Fatalf("retrievals = %d, want 1", len(f.retriever.requests))
	}
	got := f.retriever.requests[0].Vector
	if len(got) != 3 || got[0] != 0.5 {
		t.Errorf("query vector %v, want preference fallback", got)
	}
}

func TestRecommendExcludesRecentHistory(t *testing.T) {
	f := newFixture(t)
	f.trajs.recent = []domain.Trajectory{
		{ContentID: "seen1"}, {ContentID: "seen2"}, {ContentID: "seen1"},
	}
	f.retriever.sets = [][]domain.Candidate{candidates(0.9)}

	if _, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "x"}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	ex := f.retriever.requests[0].ExcludeIDs
	if len(ex) != 2 || ex[0] != "seen1" || ex[1] != "seen2" {
		t.Errorf("exclude ids = %v, want deduped [seen1 seen2]", ex)
	}
}

func TestRecommendRefinementKeptWhenBetter(t *testing.T) {
	f := newFixture(t)
	f.refiner.should = true
	f.refiner.action = refine.ActionNarrowQuery
	f.retriever.sets = [][]domain.Candidate{
		candidates(0.3, 0.2),
		candidates(0.8, 0.7),
	}

	list, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "vague"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(f.retriever.requests) != 2 {
		t.Fatalf("retrievals = %d, want 2", len(f.retriever.requests))
	}
	if f.retriever.requests[1].MinRating == 0 {
		t.Error("narrow_query did not raise the rating floor")
	}
	if list.Items[0].Similarity != 0.8 {
		t.Errorf("top similarity = %v, want refined set", list.Items[0].Similarity)
	}
	imp := f.impressions.got[0]
	if !imp.Refined || imp.RefineAction != refine.ActionNarrowQuery {
		t.Errorf("impression not attributed to refinement: %+v", imp)
	}
	if imp.RelevanceDelta <= 0 {
		t.Errorf("relevance delta = %v, want positive", imp.RelevanceDelta)
	}
}

func TestRecommendRefinementDroppedWhenWorse(t *testing.T) {
	f := newFixture(t)
	f.refiner.should = true
	f.refiner.action = refine.ActionBroadenQuery
	f.retriever.sets = [][]domain.Candidate{
		candidates(0.6, 0.5),
		candidates(0.2),
	}

	list, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "vague"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if list.Items[0].Similarity != 0.6 {
		t.Errorf("top similarity = %v, want original set kept", list.Items[0].Similarity)
	}
	imp := f.impressions.got[0]
	if !imp.Refined {
		t.Error("refinement attempt should still be attributed")
	}
	if imp.RelevanceDelta >= 0 {
		t.Errorf("relevance delta = %v, want negative", imp.RelevanceDelta)
	}
}

func TestRecommendClarifyIntentSkipsReRetrieval(t *testing.T) {
	f := newFixture(t)
	f.refiner.should = true
	f.refiner.action = refine.ActionClarifyIntent
	f.retriever.sets = [][]domain.Candidate{candidates(0.3)}

	if _, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "hm"}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(f.retriever.requests) != 1 {
		t.Errorf("retrievals = %d, clarify_intent must not re-retrieve", len(f.retriever.requests))
	}
	if !f.impressions.got[0].Refined {
		t.Error("clarify_intent attempt should still be attributed")
	}
}

func TestRecommendDegradedRanking(t *testing.T) {
	f := newFixture(t)
	f.ranker.degraded = true
	f.retriever.sets = [][]domain.Candidate{candidates(0.9, 0.8)}

	list, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "x"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !list.Degraded {
		t.Error("expected degraded list")
	}
	if len(list.Items) == 0 {
		t.Error("degraded ranking should still return items")
	}
}

func TestRecommendDeadlineReturnsPartial(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = context.DeadlineExceeded

	list, err := f.svc.Recommend(context.Background(), Request{UserID: "u1", Query: "x"})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !list.Degraded || len(list.Items) != 0 {
		t.Errorf("list = %+v, want empty degraded response", list)
	}
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SubmitFeedback(context.Background(), domain.Interaction{
		UserID:    "u1",
		ContentID: "c1",
		Type:      domain.InteractionWatchComplete,
	})
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if f.publisher.topic != learn.TopicInteractions {
		t.Errorf("topic = %s, want %s", f.publisher.topic, learn.TopicInteractions)
	}
	if len(f.publisher.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(f.publisher.msgs))
	}
	var in domain.Interaction
	if err := json.Unmarshal(f.publisher.msgs[0].Payload, &in); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if in.EventID == "" {
		t.Error("event id not stamped")
	}
	if in.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
	if in.Context.TimeOfDay == "" {
		t.Error("context not normalized")
	}
}

func TestSubmitFeedbackRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SubmitFeedback(context.Background(), domain.Interaction{UserID: "u1"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if len(f.publisher.msgs) != 0 {
		t.Error("invalid event must not be published")
	}
}

func TestGetLearningProgress(t *testing.T) {
	f := newFixture(t)
	f.trajs.count = 4
	f.trajs.sum = 2.0
	f.memory.pref.Confidence = 0.8
	f.memory.patterns = []domain.BehavioralPattern{{Type: domain.PatternGenreAffinity, Key: "drama"}}

	p, err := f.svc.GetLearningProgress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetLearningProgress: %v", err)
	}
	if p.TotalInteractions != 4 {
		t.Errorf("interactions = %d", p.TotalInteractions)
	}
	if p.AvgReward != 0.5 {
		t.Errorf("avg reward = %v, want 0.5", p.AvgReward)
	}
	if p.ExplorationRate != 0.2 {
		t.Errorf("exploration = %v", p.ExplorationRate)
	}
	if p.Confidence != 0.8 {
		t.Errorf("confidence = %v", p.Confidence)
	}
	if len(p.Patterns) != 1 {
		t.Errorf("patterns = %d", len(p.Patterns))
	}
}

func TestEraseUser(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.EraseUser(context.Background(), "u1"); err != nil {
		t.Fatalf("EraseUser: %v", err)
	}
	if len(f.memory.erased) != 1 || f.memory.erased[0] != "u1" {
		t.Errorf("preference erase calls = %v", f.memory.erased)
	}
	if len(f.trajs.erased) != 1 || f.trajs.erased[0] != "u1" {
		t.Errorf("trajectory erase calls = %v", f.trajs.erased)
	}
	if err := f.svc.EraseUser(context.Background(), ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty id err = %v, want ErrInvalidRequest", err)
	}
}
