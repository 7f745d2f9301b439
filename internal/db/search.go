package db

import "github.com/lumatv/nextup/internal/domain/filter"

// KNNQuery is the input for vector similarity search. Filters are compiled
// into the FT.SEARCH pre-filter so they are evaluated during index
// traversal, not as a post-filter pass.
type KNNQuery struct {
	IndexName     string
	Filters       filter.Expression
	Vector        []float32
	K             int
	ReturnFields  []string
	IncludeVector bool
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit. Score is cosine similarity in [0, 1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
