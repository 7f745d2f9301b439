// Package adapt shifts query embeddings toward what each session context
// has historically rewarded.
package adapt

import (
	"sync"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/domain/vector"
)

// maxOffsetNorm caps how far a context can pull a unit query vector.
const maxOffsetNorm = 0.5

// Adapter keeps one learned offset vector per context bucket. Reads happen
// on every recommendation request, writes only from the learning loop, so
// the map sits behind an RWMutex.
type Adapter struct {
	mu      sync.RWMutex
	offsets map[string][]float32
	dim     int
	alpha   float64 // blend weight of the offset against the raw query
	eta     float64 // offset learning rate
}

// New creates an adapter for embeddings of the given dimension.
// alpha controls how strongly the context bends the query.
func New(dim int, alpha float64) *Adapter {
	return &Adapter{
		offsets: make(map[string][]float32),
		dim:     dim,
		alpha:   alpha,
		eta:     0.1,
	}
}

// Adapt returns the query embedding blended with the offset learned for the
// session's context bucket. A context with no learned offset returns the
// embedding unchanged.
func (a *Adapter) Adapt(embedding []float32, sc domain.SessionContext) []float32 {
	a.mu.RLock()
	offset, ok := a.offsets[sc.Bucket()]
	a.mu.RUnlock()

	if !ok || len(offset) != len(embedding) {
		return embedding
	}
	return vector.Blend(embedding, offset, a.alpha)
}

// Accumulate moves the bucket's offset toward (positive reward) or away
// from (negative reward) the content embedding that earned the reward.
func (a *Adapter) Accumulate(bucket string, contentEmbedding []float32, reward float64) {
	if len(contentEmbedding) != a.dim || reward == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	offset, ok := a.offsets[bucket]
	if !ok {
		offset = vector.Zero(a.dim)
		a.offsets[bucket] = offset
	}

	step := float32(a.eta * reward)
	for i := range offset {
		offset[i] += step * contentEmbedding[i]
	}
	clipNorm(offset, maxOffsetNorm)
}

// Snapshot returns a deep copy of the offsets for persistence.
func (a *Adapter) Snapshot() map[string][]float32 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string][]float32, len(a.offsets))
	for k, v := range a.offsets {
		cp := make([]float32, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Restore replaces the offsets with a persisted snapshot. Vectors of the
// wrong dimension are dropped; they belong to an older index layout.
func (a *Adapter) Restore(offsets map[string][]float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.offsets = make(map[string][]float32, len(offsets))
	for k, v := range offsets {
		if len(v) != a.dim {
			continue
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		a.offsets[k] = cp
	}
}

func clipNorm(v []float32, max float64) {
	n := vector.Norm(v)
	if n <= max || n == 0 {
		return
	}
	scale := float32(max / n)
	for i := range v {
		v[i] *= scale
	}
}
