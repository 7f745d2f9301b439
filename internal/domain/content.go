package domain

import "fmt"

// ContentVector is one content item's embedding plus its filterable attributes.
// Items are replaced on update, never mutated in place.
type ContentVector struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ContentType string    `json:"content_type"` // movie, series, live
	Genres      []string  `json:"genres"`
	Rating      float64   `json:"rating"`
	Year        int       `json:"year"`
	Available   bool      `json:"available"`
	Embedding   []float32 `json:"embedding"`
}

// Validate checks the item against the index's configured dimensionality.
func (c ContentVector) Validate(dim int) error {
	if c.ID == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidRequest)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", ErrInvalidVector)
	}
	if dim > 0 && len(c.Embedding) != dim {
		return fmt.Errorf("%w: got %d dimensions, index expects %d",
			ErrInvalidVector, len(c.Embedding), dim)
	}
	return nil
}

// Candidate is a retrieved content item carrying its raw similarity score.
type Candidate struct {
	ID          string
	Title       string
	ContentType string
	Genres      []string
	Rating      float64
	Similarity  float64
	Embedding   []float32
}
