// Package vector provides the float32 vector math used by retrieval,
// ranking, and preference updates.
package vector

import "math"

// Dot returns the dot product of a and b. Shorter length wins on mismatch.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// Normalize returns a unit-length copy of v. A zero vector is returned as-is.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := 1.0 / n
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Blend returns normalize(a·(1-alpha) + b·alpha). Used by the context
// adapter to bias a query embedding toward a learned offset.
func Blend(a, b []float32, alpha float64) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		var bv float64
		if i < len(b) {
			bv = float64(b[i])
		}
		out[i] = float32(float64(a[i])*(1-alpha) + bv*alpha)
	}
	return Normalize(out)
}

// EMA applies the preference update rule
//
//	pref' = pref·(1-beta) + content·beta·reward
//
// in place-free form. With beta == 0 the input is returned unchanged
// (exact equality), byte for byte.
func EMA(pref, content []float32, beta, reward float64) []float32 {
	if beta == 0 {
		out := make([]float32, len(pref))
		copy(out, pref)
		return out
	}
	n := len(pref)
	if len(content) > n {
		n = len(content)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var p, c float64
		if i < len(pref) {
			p = float64(pref[i])
		}
		if i < len(content) {
			c = float64(content[i])
		}
		out[i] = float32(p*(1-beta) + c*beta*reward)
	}
	return out
}

// Zero returns an all-zero vector of the given dimensionality.
func Zero(dim int) []float32 { return make([]float32, dim) }
