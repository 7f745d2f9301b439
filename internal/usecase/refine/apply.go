package refine

import (
	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/retrieve"
)

// narrowRatingFloor is the rating floor narrow_query imposes.
const narrowRatingFloor = 7.0

// moodGenres maps a session mood to the genre its viewers usually accept.
var moodGenres = map[domain.Mood]string{
	domain.MoodRelaxed:     "comedy",
	domain.MoodFocused:     "documentary",
	domain.MoodAdventurous: "action",
	domain.MoodSocial:      "family",
}

// Apply rewrites a retrieval request according to the chosen action.
// clarify_intent has no retrieval-side effect; it is surfaced to the
// caller as a prompt, and the request passes through unchanged.
func Apply(
	a Action, req retrieve.Request, state domain.UserState,
	patterns []domain.BehavioralPattern,
) retrieve.Request {
	switch a {
	case ActionAddGenreFilter:
		if g := strongestGenre(patterns); g != "" {
			req.MustGenres = appendUnique(req.MustGenres, g)
		}
	case ActionAddMoodFilter:
		if g, ok := moodGenres[state.Context.Mood]; ok {
			req.MustGenres = appendUnique(req.MustGenres, g)
		}
	case ActionNarrowQuery:
		if req.MinRating < narrowRatingFloor {
			req.MinRating = narrowRatingFloor
		}
	case ActionBroadenQuery:
		req.MustGenres = nil
		req.MinRating = 0
		req.ContentType = ""
	case ActionSuggestSimilar:
		// Fall back to taste instead of the weak query.
		if nonZero(state.Preference.Vector) {
			req.Vector = state.Preference.Vector
		}
	case ActionClarifyIntent:
	}
	return req
}

func strongestGenre(patterns []domain.BehavioralPattern) string {
	var best domain.BehavioralPattern
	for _, p := range patterns {
		if p.Type == domain.PatternGenreAffinity && p.Confidence > best.Confidence {
			best = p
		}
	}
	return best.Key
}

func appendUnique(genres []string, g string) []string {
	for _, have := range genres {
		if have == g {
			return genres
		}
	}
	return append(genres, g)
}

func nonZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}
