// Package retrieve turns an adapted query embedding into an overfetched,
// hard-filtered candidate set for the ranker.
package retrieve

import (
	"context"
	"fmt"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/domain/filter"
)

// Repository defines the storage contract for candidate retrieval.
type Repository interface {
	SearchKNN(ctx context.Context, vec []float32, filters filter.Expression, k int) ([]domain.Candidate, error)
}

// Config holds retrieval settings.
type Config struct {
	OverfetchFactor int // candidates fetched per requested slot
	MaxK            int // hard cap on the fetched set
}

// Request is one retrieval call.
type Request struct {
	Vector      []float32
	K           int
	ContentType string   // optional hard filter
	MustGenres  []string // optional hard filters, ANDed
	MinRating   float64  // optional rating floor
	ExcludeIDs  []string // already-watched content, dropped from results
}

// Service retrieves candidates. Hard filters are compiled into the index
// query and evaluated during traversal; filter construction failures fail
// the request closed rather than widening the result.
type Service struct {
	repo Repository
	cfg  Config
}

// New creates a retrieval service.
func New(repo Repository, cfg Config) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// Retrieve returns up to K·OverfetchFactor candidates matching the hard
// filters, best similarity first, with excluded ids removed.
func (s *Service) Retrieve(ctx context.Context, req Request) ([]domain.Candidate, error) {
	if req.K < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1", domain.ErrInvalidRequest)
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", domain.ErrInvalidRequest)
	}

	expr, err := s.buildFilters(req)
	if err != nil {
		return nil, fmt.Errorf("build filters: %w", err)
	}

	fetch := req.K * s.cfg.OverfetchFactor
	// Excluded ids are filtered after the fact; fetch enough to survive it.
	fetch += len(req.ExcludeIDs)
	if s.cfg.MaxK > 0 && fetch > s.cfg.MaxK {
		fetch = s.cfg.MaxK
	}

	cands, err := s.repo.SearchKNN(ctx, req.Vector, expr, fetch)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	return dropExcluded(cands, req.ExcludeIDs), nil
}

// buildFilters compiles the hard constraints. Availability is always
// enforced: unavailable content never reaches ranking.
func (s *Service) buildFilters(req Request) (filter.Expression, error) {
	must := []filter.Condition{filter.Available()}
	if req.ContentType != "" {
		must = append(must, filter.ContentType(req.ContentType))
	}
	for _, g := range req.MustGenres {
		must = append(must, filter.Genre(g))
	}
	if req.MinRating > 0 {
		must = append(must, filter.RatingFloor(req.MinRating))
	}
	return filter.New(must, nil)
}

func dropExcluded(cands []domain.Candidate, exclude []string) []domain.Candidate {
	if len(exclude) == 0 {
		return cands
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := cands[:0]
	for _, c := range cands {
		if _, ok := skip[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// MeanTopSimilarity averages the similarity of the best n candidates.
// Used to decide whether the query needs refinement.
func MeanTopSimilarity(cands []domain.Candidate, n int) float64 {
	if len(cands) == 0 || n <= 0 {
		return 0
	}
	if n > len(cands) {
		n = len(cands)
	}
	var sum float64
	for _, c := range cands[:n] {
		sum += c.Similarity
	}
	return sum / float64(n)
}
