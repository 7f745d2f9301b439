package domain

import (
	"fmt"
	"time"
)

// PolicyParameters holds the actor and critic weights of the RL ranker.
// Snapshots are versioned by epoch so a corrupt update can roll back.
type PolicyParameters struct {
	Actor            []float64 `json:"actor"`
	ActorBias        float64   `json:"actor_bias"`
	Critic           []float64 `json:"critic"`
	CriticBias       float64   `json:"critic_bias"`
	Epoch            uint64    `json:"epoch"`
	ExplorationCoeff float64   `json:"exploration_coeff"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks weight shapes against the expected feature dimensions.
func (p PolicyParameters) Validate(actorDim, criticDim int) error {
	if len(p.Actor) != actorDim {
		return fmt.Errorf("%w: actor has %d weights, expected %d",
			ErrPolicyCorrupt, len(p.Actor), actorDim)
	}
	if len(p.Critic) != criticDim {
		return fmt.Errorf("%w: critic has %d weights, expected %d",
			ErrPolicyCorrupt, len(p.Critic), criticDim)
	}
	return nil
}

// Clone returns a deep copy so an in-flight reader never observes a
// partially updated weight set.
func (p PolicyParameters) Clone() PolicyParameters {
	out := p
	out.Actor = append([]float64(nil), p.Actor...)
	out.Critic = append([]float64(nil), p.Critic...)
	return out
}
