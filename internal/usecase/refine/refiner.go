// Package refine improves weak queries with a tabular Q-learning policy
// over a small set of discrete refinement actions.
package refine

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/lumatv/nextup/internal/domain"
)

// Action is one discrete query refinement.
type Action int

// The fixed action set. Order is load-bearing: Q-table rows are indexed
// by it and persisted.
const (
	ActionAddGenreFilter Action = iota
	ActionAddMoodFilter
	ActionNarrowQuery
	ActionBroadenQuery
	ActionClarifyIntent
	ActionSuggestSimilar

	numActions
)

var actionNames = [...]string{
	"add_genre_filter", "add_mood_filter", "narrow_query",
	"broaden_query", "clarify_intent", "suggest_similar",
}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// epsilonKey is the reserved Q-table row carrying the decayed epsilon so
// exploration does not reset on restart.
const epsilonKey = "_epsilon"

// Config holds the Q-learning hyperparameters.
type Config struct {
	Epsilon       float64
	EpsilonDecay  float64 // multiplied in per update
	EpsilonFloor  float64
	LearningRate  float64
	Discount      float64
	MinSimilarity float64 // refine when mean top similarity is below this
	MinTokens     int     // refine when the query has fewer tokens
}

// Refiner selects and learns refinement actions. Safe for concurrent use.
type Refiner struct {
	cfg Config

	mu      sync.Mutex
	table   map[string][]float64
	epsilon float64
	rng     func() float64 // uniform [0,1)
}

// New creates a refiner with an empty Q-table.
func New(cfg Config, opts ...Option) *Refiner {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // exploration, not crypto
	r := &Refiner{
		cfg:     cfg,
		table:   make(map[string][]float64),
		epsilon: cfg.Epsilon,
		rng:     rng.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithRand replaces the uniform random source. Tests inject a
// deterministic sequence here.
func WithRand(fn func() float64) Option {
	return func(r *Refiner) { r.rng = fn }
}

// ShouldRefine reports whether retrieval quality is weak enough to spend a
// refinement on.
func (r *Refiner) ShouldRefine(meanTopSimilarity float64, queryTokens int) bool {
	return meanTopSimilarity < r.cfg.MinSimilarity || queryTokens < r.cfg.MinTokens
}

// StateKey encodes retrieval quality and context into a coarse discrete
// state: similarity band × token band × time of day.
func StateKey(meanTopSimilarity float64, queryTokens int, tod domain.TimeBucket) string {
	return strings.Join([]string{
		similarityBand(meanTopSimilarity), tokenBand(queryTokens), string(tod),
	}, "|")
}

func similarityBand(s float64) string {
	switch {
	case s < 0.3:
		return "low"
	case s < 0.6:
		return "mid"
	default:
		return "high"
	}
}

func tokenBand(n int) string {
	switch {
	case n < 3:
		return "short"
	case n <= 6:
		return "medium"
	default:
		return "long"
	}
}

// Choose picks an action for the state: ε-greedy over the Q row.
func (r *Refiner) Choose(stateKey string) Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rng() < r.epsilon {
		return Action(int(r.rng() * float64(numActions)))
	}
	row := r.row(stateKey)
	best := 0
	for i := 1; i < int(numActions); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return Action(best)
}

// Observe applies one tabular Q-learning step for an observed outcome and
// decays epsilon toward its floor.
func (r *Refiner) Observe(stateKey string, a Action, reward float64, nextStateKey string) {
	if a < 0 || a >= numActions {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.row(stateKey)
	next := r.row(nextStateKey)
	maxNext := next[0]
	for _, q := range next[1:] {
		if q > maxNext {
			maxNext = q
		}
	}

	row[a] += r.cfg.LearningRate * (reward + r.cfg.Discount*maxNext - row[a])

	r.epsilon *= r.cfg.EpsilonDecay
	if r.epsilon < r.cfg.EpsilonFloor {
		r.epsilon = r.cfg.EpsilonFloor
	}
}

// OutcomeReward blends the refinement outcome into one scalar: whether the
// user accepted the refinement, how much relevance improved, and whether
// the refined query led to a successful interaction.
func OutcomeReward(accepted bool, relevanceDelta float64, downstreamSuccess bool) float64 {
	var r float64
	if accepted {
		r += 0.5
	} else {
		r -= 0.3
	}
	r += relevanceDelta
	if downstreamSuccess {
		r += 0.8
	}
	if r > 1 {
		r = 1
	}
	if r < -1 {
		r = -1
	}
	return r
}

// Epsilon returns the current exploration rate.
func (r *Refiner) Epsilon() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epsilon
}

// Snapshot returns a deep copy of the Q-table for persistence, with the
// current epsilon folded in under a reserved key.
func (r *Refiner) Snapshot() map[string][]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]float64, len(r.table)+1)
	for k, v := range r.table {
		out[k] = append([]float64(nil), v...)
	}
	out[epsilonKey] = []float64{r.epsilon}
	return out
}

// Restore replaces the Q-table with a persisted snapshot. Rows with the
// wrong width are dropped.
func (r *Refiner) Restore(table map[string][]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.table = make(map[string][]float64, len(table))
	for k, v := range table {
		if k == epsilonKey {
			if len(v) == 1 && v[0] >= r.cfg.EpsilonFloor && v[0] <= r.cfg.Epsilon {
				r.epsilon = v[0]
			}
			continue
		}
		if len(v) != int(numActions) {
			continue
		}
		r.table[k] = append([]float64(nil), v...)
	}
}

// row returns the Q row for a state, creating it zeroed on first touch.
// Caller holds the lock.
func (r *Refiner) row(stateKey string) []float64 {
	row, ok := r.table[stateKey]
	if !ok {
		row = make([]float64, numActions)
		r.table[stateKey] = row
	}
	return row
}
