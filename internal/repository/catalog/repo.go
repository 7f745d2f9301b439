// Package catalog stores content vectors in the Redis index: one hash per
// item under <prefix>content:<id>, indexed by a single HNSW FT index.
package catalog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/domain/filter"
)

// store is the consumer interface for the catalog (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// HNSWConfig holds HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements content ingestion against the vector index.
type Repo struct {
	store  store
	prefix string
	dim    int
	hnsw   HNSWConfig
}

// New creates a catalog repository. dim is the index's configured
// dimensionality; every ingested embedding must match it.
func New(s store, keyPrefix string, dim int) *Repo {
	return &Repo{
		store:  s,
		prefix: keyPrefix,
		dim:    dim,
		hnsw:   HNSWConfig{M: 32, EFConstruct: 400},
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// IndexName returns the FT index name.
func (r *Repo) IndexName() string { return r.prefix + "content:idx" }

// ContentKey returns the hash key for a content id.
func (r *Repo) ContentKey(id string) string { return r.prefix + "content:" + id }

// EnsureIndex creates the content FT index when it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.IndexName())
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     r.IndexName(),
		Prefixes: []string{r.prefix + "content:"},
		Fields: []db.IndexField{
			{Name: filter.FieldGenres, Type: db.IndexFieldTag, TagSeparator: ","},
			{Name: filter.FieldContentType, Type: db.IndexFieldTag},
			{Name: filter.FieldAvailable, Type: db.IndexFieldTag},
			{Name: filter.FieldRating, Type: db.IndexFieldNumeric},
			{Name: filter.FieldYear, Type: db.IndexFieldNumeric},
			{
				Name:              "embedding",
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         r.dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.hnsw.M,
				VectorEFConstruct: r.hnsw.EFConstruct,
			},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert writes a content item. Replace-on-update: the full hash is
// rewritten, never patched field by field.
func (r *Repo) Upsert(ctx context.Context, c domain.ContentVector) error {
	if err := c.Validate(r.dim); err != nil {
		return err
	}

	if err := r.store.HSet(ctx, r.ContentKey(c.ID), contentToHash(c)); err != nil {
		return fmt.Errorf("upsert content %s: %w", c.ID, err)
	}
	return nil
}

// Get reads a content item by id.
func (r *Repo) Get(ctx context.Context, id string) (domain.ContentVector, error) {
	fields, err := r.store.HGetAll(ctx, r.ContentKey(id))
	if err != nil {
		return domain.ContentVector{}, fmt.Errorf("get content %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.ContentVector{}, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	return contentFromHash(id, fields), nil
}

// Delete removes a content item. A missing id returns domain.ErrNotFound;
// callers treat it as non-fatal.
func (r *Repo) Delete(ctx context.Context, id string) error {
	exists, err := r.store.Exists(ctx, r.ContentKey(id))
	if err != nil {
		return fmt.Errorf("check content %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	if err := r.store.Del(ctx, r.ContentKey(id)); err != nil {
		return fmt.Errorf("delete content %s: %w", id, err)
	}
	return nil
}

func contentToHash(c domain.ContentVector) map[string]string {
	avail := "0"
	if c.Available {
		avail = "1"
	}
	return map[string]string{
		"title":                c.Title,
		filter.FieldContentType: c.ContentType,
		filter.FieldGenres:      strings.Join(c.Genres, ","),
		filter.FieldRating:      strconv.FormatFloat(c.Rating, 'g', -1, 64),
		filter.FieldYear:        strconv.Itoa(c.Year),
		filter.FieldAvailable:   avail,
		"embedding":             vectorToBytes(c.Embedding),
	}
}

func contentFromHash(id string, fields map[string]string) domain.ContentVector {
	c := domain.ContentVector{
		ID:          id,
		Title:       fields["title"],
		ContentType: fields[filter.FieldContentType],
		Available:   fields[filter.FieldAvailable] == "1",
		Embedding:   bytesToVector(fields["embedding"]),
	}
	if g := fields[filter.FieldGenres]; g != "" {
		c.Genres = strings.Split(g, ",")
	}
	c.Rating, _ = strconv.ParseFloat(fields[filter.FieldRating], 64)
	c.Year, _ = strconv.Atoi(fields[filter.FieldYear])
	return c
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
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
