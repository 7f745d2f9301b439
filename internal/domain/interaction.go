package domain

import (
	"fmt"
	"time"
)

// InteractionType enumerates the feedback events the reward table knows.
type InteractionType string

// Interaction types, roughly ordered by engagement depth.
const (
	InteractionClicked       InteractionType = "clicked"
	InteractionStarted       InteractionType = "started"
	InteractionWatchedHalf   InteractionType = "watched_50"
	InteractionWatchComplete InteractionType = "watch_complete"
	InteractionSkipped       InteractionType = "skipped"
	InteractionAbandon       InteractionType = "abandon"
	InteractionRatedNegative InteractionType = "rated_negative"
)

// Interaction is a raw feedback event submitted by the caller.
type Interaction struct {
	EventID       string          `json:"event_id"`
	UserID        string          `json:"user_id"`
	ContentID     string          `json:"content_id"`
	Type          InteractionType `json:"type"`
	WatchDuration time.Duration   `json:"watch_duration"`
	WatchPercent  float64         `json:"watch_percent"`  // 0.0–1.0
	Engagement    float64         `json:"engagement"`     // 0.0–1.0: pauses, rewinds, etc.
	DecisionTime  time.Duration   `json:"decision_time"`  // browse-to-play latency
	Completed     bool            `json:"completed"`
	Favorited     bool            `json:"favorited"`
	Rating        *float64        `json:"rating,omitempty"` // explicit rating in [-1, 1]
	Context       SessionContext  `json:"context"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate rejects events that cannot be attributed or rewarded.
func (in Interaction) Validate() error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if in.ContentID == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidRequest)
	}
	if in.Type == "" {
		return fmt.Errorf("%w: interaction type is required", ErrInvalidRequest)
	}
	if in.Rating != nil && (*in.Rating < -1 || *in.Rating > 1) {
		return fmt.Errorf("%w: rating must be in [-1, 1]", ErrInvalidRequest)
	}
	return nil
}

// Reward is the shaped, clamped reward for one interaction.
type Reward struct {
	Immediate   float64 `json:"immediate"`
	Delayed     float64 `json:"delayed"`
	Exploration float64 `json:"exploration"`
	Total       float64 `json:"total"` // clamped to [-1, 1]
}

// Trajectory is one state→action→reward tuple appended by the learning loop.
type Trajectory struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ContentID  string         `json:"content_id"`
	Genres     []string       `json:"genres,omitempty"`
	Context    SessionContext `json:"context"`
	Similarity float64        `json:"similarity"`
	Rank       int            `json:"rank"`
	Reward     Reward         `json:"reward"`
	Timestamp  time.Time      `json:"timestamp"`
}
