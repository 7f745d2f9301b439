// Package retrieval runs KNN queries against the content index and parses
// the hits into domain candidates.
package retrieval

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/domain/filter"
)

// store is the consumer interface for retrieval (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo implements the retrieval storage contract.
type Repo struct {
	store  store
	prefix string
}

// New creates a retrieval repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

// SearchKNN performs a filtered vector search and returns candidates with
// their raw cosine similarity. Candidate embeddings are returned for the
// diversity re-ranker.
func (r *Repo) SearchKNN(
	ctx context.Context, vec []float32, filters filter.Expression, k int,
) ([]domain.Candidate, error) {
	q := &db.KNNQuery{
		IndexName: r.prefix + "content:idx",
		Filters:   filters,
		Vector:    vec,
		K:         k,
		ReturnFields: []string{
			"title", filter.FieldContentType, filter.FieldGenres,
			filter.FieldRating, "embedding", "__embedding_score",
		},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	return parseCandidates(sr, r.prefix), nil
}

func parseCandidates(sr *db.SearchResult, prefix string) []domain.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	keyPrefix := prefix + "content:"
	out := make([]domain.Candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		c := domain.Candidate{
			ID:          strings.TrimPrefix(entry.Key, keyPrefix),
			Title:       entry.Fields["title"],
			ContentType: entry.Fields[filter.FieldContentType],
			Similarity:  entry.Score,
			Embedding:   bytesToVector(entry.Fields["embedding"]),
		}
		if g := entry.Fields[filter.FieldGenres]; g != "" {
			c.Genres = strings.Split(g, ",")
		}
		c.Rating, _ = strconv.ParseFloat(entry.Fields[filter.FieldRating], 64)
		out = append(out, c)
	}
	return out
}

func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
