package refine

import (
	"testing"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
)

func testConfig() Config {
	return Config{
		Epsilon:       0.15,
		EpsilonDecay:  0.995,
		EpsilonFloor:  0.05,
		LearningRate:  0.1,
		Discount:      0.9,
		MinSimilarity: 0.6,
		MinTokens:     3,
	}
}

// greedy makes Choose always exploit.
func greedy() float64 { return 0.99 }

func TestShouldRefine(t *testing.T) {
	r := New(testConfig(), WithRand(greedy))

	cases := []struct {
		name   string
		sim    float64
		tokens int
		want   bool
	}{
		{"strong retrieval long query", 0.8, 5, false},
		{"weak retrieval", 0.4, 5, true},
		{"short query", 0.8, 2, true},
		{"both weak", 0.2, 1, true},
	}
	for _, tc := range cases {
		if got := r.ShouldRefine(tc.sim, tc.tokens); got != tc.want {
			t.Errorf("%s: ShouldRefine(%v, %d) = %v, want %v", tc.name, tc.sim, tc.tokens, got, tc.want)
		}
	}
}

func TestStateKeyBands(t *testing.T) {
	got := StateKey(0.45, 2, domain.TimeEvening)
	if got != "mid|short|evening" {
		t.Errorf("StateKey = %q, want mid|short|evening", got)
	}
	if k := StateKey(0.1, 8, domain.TimeNight); k != "low|long|night" {
		t.Errorf("StateKey = %q, want low|long|night", k)
	}
}

func TestObserveLearnsBestAction(t *testing.T) {
	r := New(testConfig(), WithRand(greedy))
	state := StateKey(0.2, 2, domain.TimeEvening)

	for i := 0; i < 30; i++ {
		r.Observe(state, ActionBroadenQuery, 1.0, state)
		r.Observe(state, ActionNarrowQuery, -0.5, state)
	}

	if got := r.Choose(state); got != ActionBroadenQuery {
		t.Fatalf("Choose() = %v, want broaden_query after training", got)
	}
}

func TestEpsilonDecaysToFloor(t *testing.T) {
	r := New(testConfig(), WithRand(greedy))
	state := StateKey(0.2, 2, domain.TimeEvening)

	before := r.Epsilon()
	r.Observe(state, ActionBroadenQuery, 0.1, state)
	if after := r.Epsilon(); after >= before {
		t.Errorf("epsilon did not decay: %v -> %v", before, after)
	}

	for i := 0; i < 10000; i++ {
		r.Observe(state, ActionBroadenQuery, 0, state)
	}
	if got := r.Epsilon(); got < testConfig().EpsilonFloor-1e-12 {
		t.Errorf("epsilon %v fell below floor", got)
	}
}

func TestChooseExploresUnderEpsilon(t *testing.T) {
	// First draw below epsilon forces exploration; second draw picks the
	// action index.
	seq := []float64{0.01, 0.5}
	i := 0
	r := New(testConfig(), WithRand(func() float64 { v := seq[i%len(seq)]; i++; return v }))

	got := r.Choose(StateKey(0.2, 2, domain.TimeEvening))
	if got != Action(3) {
		t.Fatalf("exploring Choose() = %v, want action index 3", got)
	}
}

func TestOutcomeReward(t *testing.T) {
	if got := OutcomeReward(true, 0.1, false); got != 0.6 {
		t.Errorf("accepted+delta = %v, want 0.6", got)
	}
	if got := OutcomeReward(false, 0, false); got != -0.3 {
		t.Errorf("rejected = %v, want -0.3", got)
	}
	if got := OutcomeReward(true, 0.3, true); got != 1.0 {
		t.Errorf("full success = %v, want clamped 1.0", got)
	}
	if got := OutcomeReward(false, -1, false); got != -1.0 {
		t.Errorf("worst case = %v, want clamped -1.0", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := New(testConfig(), WithRand(greedy))
	state := StateKey(0.2, 2, domain.TimeEvening)
	for i := 0; i < 20; i++ {
		r.Observe(state, ActionSuggestSimilar, 0.8, state)
	}

	snap := r.Snapshot()

	r2 := New(testConfig(), WithRand(greedy))
	r2.Restore(snap)

	if got := r2.Choose(state); got != ActionSuggestSimilar {
		t.Errorf("restored Choose() = %v, want suggest_similar", got)
	}
	if r2.Epsilon() != r.Epsilon() {
		t.Errorf("restored epsilon = %v, want %v", r2.Epsilon(), r.Epsilon())
	}
}

func TestRestoreDropsMalformedRows(t *testing.T) {
	r := New(testConfig(), WithRand(greedy))
	r.Restore(map[string][]float64{
		"bad|row|here": {1, 2},
	})

	snap := r.Snapshot()
	if _, ok := snap["bad|row|here"]; ok {
		t.Fatal("malformed row survived restore")
	}
}

func TestApplyActions(t *testing.T) {
	state := domain.UserState{
		Context:    domain.SessionContext{Mood: domain.MoodRelaxed},
		Preference: domain.PreferenceRecord{Vector: []float32{0.5, 0.5}},
	}
	patterns := []domain.BehavioralPattern{
		{Type: domain.PatternGenreAffinity, Key: "thriller", Confidence: 0.7},
		{Type: domain.PatternGenreAffinity, Key: "drama", Confidence: 0.9},
	}
	base := retrieve.Request{
		Vector:     []float32{1, 0},
		K:          10,
		MustGenres: []string{"noir"},
		MinRating:  5,
	}

	got := Apply(ActionAddGenreFilter, base, state, patterns)
	if len(got.MustGenres) != 2 || got.MustGenres[1] != "drama" {
		t.Errorf("add_genre_filter genres = %v, want strongest pattern appended", got.MustGenres)
	}

	got = Apply(ActionAddMoodFilter, base, state, nil)
	if len(got.MustGenres) != 2 || got.MustGenres[1] != "comedy" {
		t.Errorf("add_mood_filter genres = %v, want comedy for relaxed", got.MustGenres)
	}

	got = Apply(ActionNarrowQuery, base, state, nil)
	if got.MinRating != narrowRatingFloor {
		t.Errorf("narrow_query rating = %v, want %v", got.MinRating, narrowRatingFloor)
	}

	got = Apply(ActionBroadenQuery, base, state, nil)
	if got.MustGenres != nil || got.MinRating != 0 {
		t.Errorf("broaden_query did not relax filters: %+v", got)
	}

	got = Apply(ActionSuggestSimilar, base, state, nil)
	if got.Vector[0] != 0.5 {
		t.Errorf("suggest_similar vector = %v, want preference vector", got.Vector)
	}

	got = Apply(ActionClarifyIntent, base, state, nil)
	if got.K != base.K || len(got.MustGenres) != 1 {
		t.Errorf("clarify_intent changed the request: %+v", got)
	}
}
