package domain

// Recommendation is one ranked content item returned to the caller.
type Recommendation struct {
	ContentID     string  `json:"content_id"`
	Title         string  `json:"title"`
	Score         float64 `json:"score"`
	Similarity    float64 `json:"similarity"`
	Confidence    float64 `json:"confidence"`
	IsExploration bool    `json:"is_exploration"`
	Reason        string  `json:"reason"`
}

// RankedList is the full response of a Recommend call.
type RankedList struct {
	Items []Recommendation `json:"items"`
	// Degraded is set when ranking fell back to pure similarity
	// (missing policy) or the retrieval deadline was exceeded.
	Degraded bool `json:"degraded"`
}

// LearningProgress summarizes how far a user's personalization has come.
type LearningProgress struct {
	TotalInteractions int64               `json:"total_interactions"`
	AvgReward         float64             `json:"avg_reward"`
	ExplorationRate   float64             `json:"exploration_rate"`
	Confidence        float64             `json:"confidence"`
	Patterns          []BehavioralPattern `json:"patterns,omitempty"`
}
