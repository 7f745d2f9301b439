package reward

import (
	"math/rand"
	"testing"
	"time"

	"github.com/lumatv/nextup/internal/domain"
)

func TestCompletionFastDecision(t *testing.T) {
	c := New()

	r := c.Compute(domain.Interaction{
		Type:         domain.InteractionWatchComplete,
		DecisionTime: 8 * time.Second,
	}, domain.PreferenceRecord{}, nil)

	if r.Immediate != 1.0 {
		t.Errorf("Immediate = %v, want 1.0", r.Immediate)
	}
	if r.Total != 1.0 {
		t.Errorf("Total = %v, want 1.0", r.Total)
	}
}

func TestSlowAbandonPenalized(t *testing.T) {
	c := New()

	fast := c.Compute(domain.Interaction{
		Type:         domain.InteractionAbandon,
		DecisionTime: 10 * time.Second,
	}, domain.PreferenceRecord{}, nil)
	slow := c.Compute(domain.Interaction{
		Type:         domain.InteractionAbandon,
		DecisionTime: 400 * time.Second,
	}, domain.PreferenceRecord{}, nil)

	if fast.Immediate != -0.5 {
		t.Errorf("fast abandon Immediate = %v, want -0.5", fast.Immediate)
	}
	if slow.Total >= fast.Total {
		t.Errorf("slow abandon (%v) not penalized below fast abandon (%v)", slow.Total, fast.Total)
	}
	// Penalty is capped: slowest possible abandon is table value minus cap.
	if slow.Immediate != -0.5-defaultMaxLatencyPenalty {
		t.Errorf("slow abandon Immediate = %v, want %v", slow.Immediate, -0.5-defaultMaxLatencyPenalty)
	}
	if slow.Total < -1 {
		t.Errorf("Total = %v, below clamp floor", slow.Total)
	}
}

func TestLatencyPenaltyBounds(t *testing.T) {
	c := New()

	cases := []struct {
		name string
		d    time.Duration
	}{
		{"instant", 0},
		{"at threshold", 60 * time.Second},
		{"mid window", 210 * time.Second},
		{"beyond window", time.Hour},
	}
	prev := -1.0
	for _, tc := range cases {
		p := c.latencyPenalty(tc.d)
		if p < 0 || p > defaultMaxLatencyPenalty {
			t.Errorf("%s: penalty %v out of [0, %v]", tc.name, p, defaultMaxLatencyPenalty)
		}
		if p < prev {
			t.Errorf("%s: penalty %v not monotonic", tc.name, p)
		}
		prev = p
	}
	if got := c.latencyPenalty(210 * time.Second); got != 0.15 {
		t.Errorf("mid-window penalty = %v, want 0.15", got)
	}
}

func TestExplicitRatingOverridesTable(t *testing.T) {
	c := New()
	rating := -1.0

	r := c.Compute(domain.Interaction{
		Type:   domain.InteractionClicked,
		Rating: &rating,
	}, domain.PreferenceRecord{}, nil)

	if r.Immediate != -0.8 {
		t.Errorf("Immediate = %v, want -0.8 (rating overrides click)", r.Immediate)
	}
}

func TestExplorationBonusCapped(t *testing.T) {
	c := New()
	pref := domain.PreferenceRecord{SeenGenres: map[string]int64{"drama": 4}}

	r := c.Compute(domain.Interaction{Type: domain.InteractionClicked},
		pref, []string{"drama", "noir", "western", "scifi"})

	// drama is known; three unseen genres hit the cap.
	if r.Exploration != defaultGenreBonusCap {
		t.Errorf("Exploration = %v, want %v", r.Exploration, defaultGenreBonusCap)
	}

	one := c.Compute(domain.Interaction{Type: domain.InteractionClicked},
		pref, []string{"drama", "noir"})
	if one.Exploration != defaultGenreBonus {
		t.Errorf("Exploration = %v, want %v", one.Exploration, defaultGenreBonus)
	}
}

func TestDelayedComponentBlend(t *testing.T) {
	c := New()

	r := c.Compute(domain.Interaction{
		Type:         domain.InteractionWatchedHalf,
		WatchPercent: 0.5,
		Engagement:   1.0,
	}, domain.PreferenceRecord{}, nil)

	want := delayedWeight * (watchWeight*0.5 + engagementWeight*1.0)
	if diff := r.Delayed - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Delayed = %v, want %v", r.Delayed, want)
	}

	fav := c.Compute(domain.Interaction{
		Type:      domain.InteractionWatchedHalf,
		Favorited: true,
	}, domain.PreferenceRecord{}, nil)
	if fav.Delayed != favoriteBonus {
		t.Errorf("favorited Delayed = %v, want %v", fav.Delayed, favoriteBonus)
	}
}

func TestTotalClamped(t *testing.T) {
	c := New()

	high := c.Compute(domain.Interaction{
		Type:         domain.InteractionWatchComplete,
		WatchPercent: 1.0,
		Engagement:   1.0,
		Favorited:    true,
	}, domain.PreferenceRecord{}, []string{"noir", "western"})
	if high.Total != 1.0 {
		t.Errorf("Total = %v, want clamped 1.0", high.Total)
	}
}

func TestDeterministic(t *testing.T) {
	c := New()
	in := domain.Interaction{
		Type:         domain.InteractionStarted,
		WatchPercent: 0.3,
		DecisionTime: 90 * time.Second,
	}
	pref := domain.PreferenceRecord{SeenGenres: map[string]int64{"drama": 1}}

	a := c.Compute(in, pref, []string{"drama", "noir"})
	b := c.Compute(in, pref, []string{"drama", "noir"})
	if a != b {
		t.Fatalf("Compute not deterministic: %+v vs %+v", a, b)
	}
}

func TestTotalBoundsRandomized(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(42))

	types := []domain.InteractionType{
		domain.InteractionClicked, domain.InteractionStarted,
		domain.InteractionWatchedHalf, domain.InteractionWatchComplete,
		domain.InteractionSkipped, domain.InteractionAbandon,
		domain.InteractionRatedNegative,
	}
	genrePool := []string{"drama", "noir", "western", "comedy", "horror"}

	for i := 0; i < 1000; i++ {
		in := domain.Interaction{
			Type:         types[rng.Intn(len(types))],
			WatchPercent: rng.Float64(),
			Engagement:   rng.Float64(),
			DecisionTime: time.Duration(rng.Intn(900)) * time.Second,
			Completed:    rng.Intn(2) == 0,
			Favorited:    rng.Intn(2) == 0,
		}
		if rng.Intn(2) == 0 {
			rating := rng.Float64()*2 - 1
			in.Rating = &rating
		}

		pref := domain.PreferenceRecord{SeenGenres: map[string]int64{}}
		for _, g := range genrePool[:rng.Intn(len(genrePool))] {
			pref.SeenGenres[g] = int64(1 + rng.Intn(5))
		}
		genres := genrePool[rng.Intn(len(genrePool)):]

		r := c.Compute(in, pref, genres)
		if r.Total < -1 || r.Total > 1 {
			t.Fatalf("case %d: Total = %v out of [-1, 1] for %+v", i, r.Total, in)
		}
	}

	// The floor is reachable: a rock-bottom event pins total at -1.
	floor := c.Compute(domain.Interaction{
		Type:         domain.InteractionRatedNegative,
		DecisionTime: 600 * time.Second,
	}, domain.PreferenceRecord{}, nil)
	if floor.Total != -1 {
		t.Errorf("worst case Total = %v, want clamped -1", floor.Total)
	}
}
