package domain

import "time"

// MaxRecentHistory bounds the recent-history ring carried in UserState.
const MaxRecentHistory = 20

// UserState is the ephemeral per-request view of a user. Constructed per
// request and discarded after the response.
type UserState struct {
	UserID         string
	Query          string
	QueryEmbedding []float32
	Context        SessionContext
	RecentHistory  []string
	Preference     PreferenceRecord
}

// PushHistory appends a content id to the recent-history ring, dropping the
// oldest entry when the ring is full.
func (s *UserState) PushHistory(contentID string) {
	s.RecentHistory = append(s.RecentHistory, contentID)
	if len(s.RecentHistory) > MaxRecentHistory {
		s.RecentHistory = s.RecentHistory[len(s.RecentHistory)-MaxRecentHistory:]
	}
}

// PreferenceRecord is the durable per-user learned taste.
type PreferenceRecord struct {
	UserID       string           `json:"user_id"`
	Vector       []float32        `json:"vector"`
	Interactions int64            `json:"interactions"`
	Confidence   float64          `json:"confidence"`
	SeenGenres   map[string]int64 `json:"seen_genres,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ColdStart reports whether the user is still in the accelerated
// learning-rate window.
func (p PreferenceRecord) ColdStart() bool { return p.Interactions < 5 }

// HasSeenGenre reports whether the user has interacted with the genre before.
func (p PreferenceRecord) HasSeenGenre(genre string) bool {
	return p.SeenGenres[genre] > 0
}

// PatternType classifies a derived behavioral regularity.
type PatternType string

// Pattern types detected over recent trajectories.
const (
	PatternTimeOfDay     PatternType = "time_of_day"
	PatternGenreAffinity PatternType = "genre_affinity"
	PatternMood          PatternType = "mood_association"
	PatternSocial        PatternType = "social_context"
)

// BehavioralPattern is a statistical regularity derived from recent
// trajectories. Patterns are superseded on recompute, never merged.
type BehavioralPattern struct {
	Type       PatternType `json:"type"`
	Key        string      `json:"key"` // bucket value the pattern binds to, e.g. "evening" or "drama"
	Confidence float64     `json:"confidence"`
	Support    int         `json:"support"`
	ComputedAt time.Time   `json:"computed_at"`
}
