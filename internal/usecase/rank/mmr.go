package rank

import "github.com/lumatv/nextup/internal/domain/vector"

// MMR re-orders scored candidates by maximal marginal relevance:
//
//	mmr(c) = λ·score(c) − (1−λ)·max(sim(c, picked))
//
// and truncates to k. Candidates without embeddings contribute zero
// redundancy and are kept on relevance alone.
func MMR(items []Scored, lambda float64, k int) []Scored {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if k > len(items) {
		k = len(items)
	}

	remaining := make([]Scored, len(items))
	copy(remaining, items)
	picked := make([]Scored, 0, k)

	for len(picked) < k && len(remaining) > 0 {
		bestIdx := 0
		bestVal := mmrValue(remaining[0], picked, lambda)
		for i := 1; i < len(remaining); i++ {
			if v := mmrValue(remaining[i], picked, lambda); v > bestVal {
				bestIdx, bestVal = i, v
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picked
}

func mmrValue(c Scored, picked []Scored, lambda float64) float64 {
	var maxSim float64
	for _, p := range picked {
		if len(c.Candidate.Embedding) == 0 || len(p.Candidate.Embedding) == 0 {
			continue
		}
		if s := vector.Cosine(c.Candidate.Embedding, p.Candidate.Embedding); s > maxSim {
			maxSim = s
		}
	}
	return lambda*c.Score - (1-lambda)*maxSim
}
