package rank

import "github.com/lumatv/nextup/internal/domain"

// Feature layout. The critic sees the state features alone; the actor sees
// state ⊕ candidate embedding ⊕ similarity ⊕ genre affinity.
//
//	state:  preference vector (dim) + context one-hots + confidence
//	pair:   state + candidate embedding (dim) + similarity + affinity
const contextOneHots = 16 // 4 time + 5 mood + 4 social + 3 device

// StateDim returns the critic feature dimension for an embedding dimension.
func StateDim(embeddingDim int) int { return embeddingDim + contextOneHots + 1 }

// PairDim returns the actor feature dimension for an embedding dimension.
func PairDim(embeddingDim int) int { return StateDim(embeddingDim) + embeddingDim + 2 }

// encodeState builds the critic feature vector for a user state.
func encodeState(s domain.UserState, embeddingDim int) []float64 {
	out := make([]float64, 0, StateDim(embeddingDim))

	for i := 0; i < embeddingDim; i++ {
		if i < len(s.Preference.Vector) {
			out = append(out, float64(s.Preference.Vector[i]))
		} else {
			out = append(out, 0)
		}
	}

	out = appendOneHot(out, string(s.Context.TimeOfDay), timeBucketStrings)
	out = appendOneHot(out, string(s.Context.Mood), moodStrings)
	out = appendOneHot(out, string(s.Context.Social), socialStrings)
	out = appendOneHot(out, string(s.Context.Device), deviceStrings)

	out = append(out, s.Preference.Confidence)
	return out
}

// encodePair builds the actor feature vector for a state/candidate pair.
func encodePair(state []float64, pref domain.PreferenceRecord, c domain.Candidate, embeddingDim int) []float64 {
	out := make([]float64, 0, len(state)+embeddingDim+2)
	out = append(out, state...)
	for i := 0; i < embeddingDim; i++ {
		if i < len(c.Embedding) {
			out = append(out, float64(c.Embedding[i]))
		} else {
			out = append(out, 0)
		}
	}
	out = append(out, c.Similarity)
	out = append(out, genreAffinity(pref, c))
	return out
}

// genreAffinity is the boosted fraction of the candidate's genres the user
// has interacted with before, capped at 1.
func genreAffinity(pref domain.PreferenceRecord, c domain.Candidate) float64 {
	if len(c.Genres) == 0 {
		return 0
	}
	var seen int
	for _, g := range c.Genres {
		if pref.HasSeenGenre(g) {
			seen++
		}
	}
	a := float64(seen) / float64(len(c.Genres)) * genreAffinityBoost
	if a > 1 {
		a = 1
	}
	return a
}

const genreAffinityBoost = 1.2

// similarityFeatureIndex is where the raw similarity lands in the pair
// vector. A fresh actor gets weight 1.0 there so an untrained policy ranks
// by similarity instead of producing arbitrary ties.
func similarityFeatureIndex(embeddingDim int) int { return PairDim(embeddingDim) - 2 }

var (
	timeBucketStrings = bucketStrings(domain.TimeBuckets)
	moodStrings       = bucketStrings(domain.Moods)
	socialStrings     = bucketStrings(domain.SocialSettings)
	deviceStrings     = bucketStrings(domain.DeviceTypes)
)

func bucketStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func appendOneHot(dst []float64, val string, all []string) []float64 {
	for _, v := range all {
		if v == val {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

func dot(w, x []float64) float64 {
	n := len(w)
	if len(x) < n {
		n = len(x)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w[i] * x[i]
	}
	return sum
}
