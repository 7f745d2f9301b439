// Package reward shapes raw interaction events into the scalar learning
// signal consumed by the ranker, the preference memory and the refiner.
package reward

import (
	"time"

	"github.com/lumatv/nextup/internal/domain"
)

// Shaping defaults. Tunable, not sacred.
const (
	defaultLatencyThreshold  = 60 * time.Second
	defaultLatencyWindow     = 300 * time.Second
	defaultMaxLatencyPenalty = 0.3
	defaultGenreBonus        = 0.1
	defaultGenreBonusCap     = 0.2

	// ratingScale maps an explicit rating in [-1, 1] onto the same range
	// the immediate table covers for rated content.
	ratingScale = 0.8

	// delayedWeight scales the engagement blend into the delayed
	// component; favoriteBonus is added on top when the user favorited.
	delayedWeight = 0.25
	favoriteBonus = 0.2

	// watchWeight and engagementWeight form the engagement blend.
	watchWeight      = 0.7
	engagementWeight = 0.3
)

// immediateTable maps interaction types to their base reward.
var immediateTable = map[domain.InteractionType]float64{
	domain.InteractionClicked:       0.3,
	domain.InteractionStarted:       0.5,
	domain.InteractionWatchedHalf:   0.75,
	domain.InteractionWatchComplete: 1.0,
	domain.InteractionSkipped:       -0.1,
	domain.InteractionAbandon:       -0.5,
	domain.InteractionRatedNegative: -0.8,
}

// Calculator turns interactions into shaped rewards. It is a pure value:
// no I/O, no clocks, deterministic for a given input.
type Calculator struct {
	latencyThreshold  time.Duration
	latencyWindow     time.Duration
	maxLatencyPenalty float64
	genreBonus        float64
	genreBonusCap     float64
}

// New creates a calculator with the default shaping constants.
func New() *Calculator {
	return &Calculator{
		latencyThreshold:  defaultLatencyThreshold,
		latencyWindow:     defaultLatencyWindow,
		maxLatencyPenalty: defaultMaxLatencyPenalty,
		genreBonus:        defaultGenreBonus,
		genreBonusCap:     defaultGenreBonusCap,
	}
}

// Compute returns the shaped reward for an interaction. genres is the
// content's genre list; pref supplies which of them the user has seen.
func (c *Calculator) Compute(
	in domain.Interaction, pref domain.PreferenceRecord, genres []string,
) domain.Reward {
	immediate := c.immediate(in)
	delayed := c.delayed(in)
	exploration := c.exploration(pref, genres)

	return domain.Reward{
		Immediate:   immediate,
		Delayed:     delayed,
		Exploration: exploration,
		Total:       clamp(immediate+delayed+exploration, -1, 1),
	}
}

// immediate is the table value for the interaction type minus the slow
// decision penalty. An explicit rating overrides the table.
func (c *Calculator) immediate(in domain.Interaction) float64 {
	var base float64
	if in.Rating != nil {
		base = *in.Rating * ratingScale
	} else {
		base = immediateTable[in.Type]
	}
	return base - c.latencyPenalty(in.DecisionTime)
}

// latencyPenalty grows linearly once the decision took longer than the
// threshold and is capped so a slow decision can never dominate the
// interaction itself.
func (c *Calculator) latencyPenalty(decisionTime time.Duration) float64 {
	over := decisionTime - c.latencyThreshold
	if over <= 0 {
		return 0
	}
	frac := float64(over) / float64(c.latencyWindow)
	if frac > 1 {
		frac = 1
	}
	return c.maxLatencyPenalty * frac
}

// delayed attributes downstream engagement back to the originating
// recommendation: how much was actually watched, how actively, and
// whether it was favorited.
func (c *Calculator) delayed(in domain.Interaction) float64 {
	blend := watchWeight*clamp(in.WatchPercent, 0, 1) + engagementWeight*clamp(in.Engagement, 0, 1)
	d := delayedWeight * blend
	if in.Favorited {
		d += favoriteBonus
	}
	return d
}

// exploration rewards picking genres the user has never interacted with.
func (c *Calculator) exploration(pref domain.PreferenceRecord, genres []string) float64 {
	var bonus float64
	for _, g := range genres {
		if !pref.HasSeenGenre(g) {
			bonus += c.genreBonus
		}
	}
	if bonus > c.genreBonusCap {
		bonus = c.genreBonusCap
	}
	return bonus
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
