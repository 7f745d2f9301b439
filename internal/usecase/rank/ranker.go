// Package rank scores retrieved candidates with a linear actor-critic
// policy and re-orders the result for diversity.
package rank

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumatv/nextup/internal/domain"
)

// Config holds the actor-critic hyperparameters.
type Config struct {
	ActorLearningRate  float64
	CriticLearningRate float64
	Discount           float64
	ExplorationCoeff   float64 // initial noise scale
	ExplorationDecay   float64 // multiplied in per update
	ExplorationFloor   float64
}

// Scored is a candidate with its policy score attached.
type Scored struct {
	Candidate     domain.Candidate
	Score         float64
	Confidence    float64
	IsExploration bool
}

// Ranker holds the live policy. Reads load the current snapshot through an
// atomic pointer; updates clone, modify and swap, so an in-flight Rank
// never observes a half-written weight set.
type Ranker struct {
	policy atomic.Pointer[domain.PolicyParameters]
	cfg    Config
	dim    int
	logger *zap.Logger

	mu    sync.Mutex // serializes Update and the noise source
	noise func() float64
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithNoise replaces the Gaussian noise source. Tests inject a
// deterministic sequence here.
func WithNoise(fn func() float64) Option {
	return func(r *Ranker) { r.noise = fn }
}

// New creates a ranker with no policy loaded. Call Restore or Bootstrap
// before serving; until then Rank runs in degraded similarity-only mode.
func New(embeddingDim int, cfg Config, logger *zap.Logger, opts ...Option) *Ranker {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // exploration noise, not crypto
	r := &Ranker{
		cfg:    cfg,
		dim:    embeddingDim,
		logger: logger,
		noise:  rng.NormFloat64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bootstrap installs a fresh policy. The actor starts with weight 1 on the
// similarity feature, so an untrained ranker orders by similarity.
func (r *Ranker) Bootstrap() {
	p := domain.PolicyParameters{
		Actor:            make([]float64, PairDim(r.dim)),
		Critic:           make([]float64, StateDim(r.dim)),
		ExplorationCoeff: r.cfg.ExplorationCoeff,
		UpdatedAt:        time.Now().UTC(),
	}
	p.Actor[similarityFeatureIndex(r.dim)] = 1.0
	r.policy.Store(&p)
}

// Restore installs a persisted policy after validating its shape.
func (r *Ranker) Restore(p domain.PolicyParameters) error {
	if err := p.Validate(PairDim(r.dim), StateDim(r.dim)); err != nil {
		return err
	}
	cp := p.Clone()
	r.policy.Store(&cp)
	return nil
}

// Snapshot returns a copy of the current policy for persistence.
func (r *Ranker) Snapshot() (domain.PolicyParameters, bool) {
	p := r.policy.Load()
	if p == nil {
		return domain.PolicyParameters{}, false
	}
	return p.Clone(), true
}

// ExplorationCoeff returns the current noise scale (0 if no policy).
func (r *Ranker) ExplorationCoeff() float64 {
	if p := r.policy.Load(); p != nil {
		return p.ExplorationCoeff
	}
	return 0
}

// Epoch returns the number of applied updates.
func (r *Ranker) Epoch() uint64 {
	if p := r.policy.Load(); p != nil {
		return p.Epoch
	}
	return 0
}

// Rank scores candidates with the actor and sorts them best-first. The
// second return reports degraded mode: with no policy loaded the order is
// raw similarity and every confidence is the 0 sentinel.
//
// Exploration noise is added to the actor scores; a candidate whose noisy
// position is better than its noise-free position is flagged IsExploration.
func (r *Ranker) Rank(state domain.UserState, cands []domain.Candidate) ([]Scored, bool) {
	if len(cands) == 0 {
		return nil, false
	}

	p := r.policy.Load()
	if p == nil {
		r.logger.Warn("Ranking without policy, falling back to similarity order",
			zap.String("user_id", state.UserID),
			zap.Error(domain.ErrDegradedRanking))
		return similarityOrder(cands), true
	}

	stateVec := encodeState(state, r.dim)
	scored := make([]Scored, len(cands))
	base := make([]float64, len(cands))
	for i, c := range cands {
		features := encodePair(stateVec, state.Preference, c, r.dim)
		s := dot(p.Actor, features) + p.ActorBias
		base[i] = s
		scored[i] = Scored{
			Candidate:  c,
			Score:      s,
			Confidence: confidenceOf(s, state.Preference.Confidence),
		}
	}

	if p.ExplorationCoeff > 0 {
		r.mu.Lock()
		for i := range scored {
			scored[i].Score += r.noise() * p.ExplorationCoeff
		}
		r.mu.Unlock()
	}

	baseRank := rankPositions(base)
	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scored[order[a]].Score > scored[order[b]].Score
	})

	out := make([]Scored, len(order))
	for pos, idx := range order {
		s := scored[idx]
		s.IsExploration = pos < baseRank[idx]
		out[pos] = s
	}
	return out, false
}

// Update applies one temporal-difference step for an observed transition
// and swaps in the new policy. No-op when no policy is loaded.
func (r *Ranker) Update(cur, next domain.UserState, chosen domain.Candidate, reward float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.policy.Load()
	if old == nil {
		return
	}
	p := old.Clone()

	curVec := encodeState(cur, r.dim)
	nextVec := encodeState(next, r.dim)

	vCur := dot(p.Critic, curVec) + p.CriticBias
	vNext := dot(p.Critic, nextVec) + p.CriticBias
	delta := reward + r.cfg.Discount*vNext - vCur

	// Critic regresses toward reward + γ·V(next).
	lrC := r.cfg.CriticLearningRate
	for i := range p.Critic {
		p.Critic[i] += lrC * delta * curVec[i]
	}
	p.CriticBias += lrC * delta

	// Actor moves in the direction of the chosen pair, weighted by the
	// TD error.
	pair := encodePair(curVec, cur.Preference, chosen, r.dim)
	lrA := r.cfg.ActorLearningRate
	for i := range p.Actor {
		p.Actor[i] += lrA * delta * pair[i]
	}
	p.ActorBias += lrA * delta

	p.ExplorationCoeff *= r.cfg.ExplorationDecay
	if p.ExplorationCoeff < r.cfg.ExplorationFloor {
		p.ExplorationCoeff = r.cfg.ExplorationFloor
	}
	p.Epoch++
	p.UpdatedAt = time.Now().UTC()

	r.policy.Store(&p)
}

func similarityOrder(cands []domain.Candidate) []Scored {
	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{Candidate: c, Score: c.Similarity, Confidence: 0}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

// confidenceOf maps actor output magnitude into [0, 1], damped by how much
// preference history backs the state.
func confidenceOf(score, prefConfidence float64) float64 {
	m := score
	if m < 0 {
		m = -m
	}
	if m > 1 {
		m = 1
	}
	return m * (0.5 + 0.5*prefConfidence)
}

// rankPositions returns, for each index, its position when sorted by score
// descending.
func rankPositions(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	pos := make([]int, len(scores))
	for p, idx := range order {
		pos[idx] = p
	}
	return pos
}
