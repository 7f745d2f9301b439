// Package filter describes the attribute filters applied during index
// traversal: exact tag matches and numeric ranges with must/must-not
// boolean semantics.
package filter

import (
	"fmt"
	"strings"
)

// Field names the index knows about. Kept here so retrievers and the db
// layer agree on the schema without importing each other.
const (
	FieldGenres      = "genres"
	FieldContentType = "ctype"
	FieldAvailable   = "avail"
	FieldRating      = "rating"
	FieldYear        = "year"
)

// MaxConditions bounds the number of conditions per group.
const MaxConditions = 16

// Condition is a single clause: either an exact tag match or a numeric range.
type Condition struct {
	key   string
	match string
	rng   *Range
}

// Match creates an exact tag match condition.
func Match(key, value string) Condition {
	return Condition{key: key, match: value}
}

// InRange creates a numeric range condition.
func InRange(key string, r Range) Condition {
	return Condition{key: key, rng: &r}
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// MatchValue returns the exact match value.
func (c Condition) MatchValue() string { return c.match }

// Range returns the numeric range, or nil for match conditions.
func (c Condition) Range() *Range { return c.rng }

// IsMatch reports whether this is a tag match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// Range is a numeric interval. A nil bound means unbounded.
type Range struct {
	GTE *float64
	LTE *float64
}

// AtLeast is a lower-bounded range.
func AtLeast(v float64) Range { return Range{GTE: &v} }

// Between is a closed interval.
func Between(lo, hi float64) Range { return Range{GTE: &lo, LTE: &hi} }

// Expression is a set of conditions combined with AND (must) and
// AND NOT (mustNot) semantics.
type Expression struct {
	must    []Condition
	mustNot []Condition
}

// New validates and creates an Expression.
func New(must, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditions || len(mustNot) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	for _, c := range append(append([]Condition{}, must...), mustNot...) {
		if c.key == "" {
			return Expression{}, fmt.Errorf("filter key is required")
		}
		if c.match == "" && c.rng == nil {
			return Expression{}, fmt.Errorf("filter %q has neither match nor range", c.key)
		}
	}
	return Expression{must: must, mustNot: mustNot}, nil
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.mustNot) == 0
}

// With returns a copy of e with extra must conditions appended.
func (e Expression) With(conds ...Condition) Expression {
	out := Expression{
		must:    append(append([]Condition{}, e.must...), conds...),
		mustNot: append([]Condition{}, e.mustNot...),
	}
	return out
}

// Without returns a copy of e with all conditions on the given key removed.
func (e Expression) Without(key string) Expression {
	keep := func(in []Condition) []Condition {
		var out []Condition
		for _, c := range in {
			if c.key != key {
				out = append(out, c)
			}
		}
		return out
	}
	return Expression{must: keep(e.must), mustNot: keep(e.mustNot)}
}

// String renders a debug form, e.g. "avail={1} rating=[6,+inf] -ctype={live}".
func (e Expression) String() string {
	var parts []string
	for _, c := range e.must {
		parts = append(parts, c.debug())
	}
	for _, c := range e.mustNot {
		parts = append(parts, "-"+c.debug())
	}
	return strings.Join(parts, " ")
}

func (c Condition) debug() string {
	if c.IsMatch() {
		return fmt.Sprintf("%s={%s}", c.key, c.match)
	}
	lo, hi := "-inf", "+inf"
	if c.rng.GTE != nil {
		lo = fmt.Sprintf("%g", *c.rng.GTE)
	}
	if c.rng.LTE != nil {
		hi = fmt.Sprintf("%g", *c.rng.LTE)
	}
	return fmt.Sprintf("%s=[%s,%s]", c.key, lo, hi)
}

// --- Domain shorthands ---

// Available filters for currently available content.
func Available() Condition { return Match(FieldAvailable, "1") }

// ContentType filters by content type (movie, series, live).
func ContentType(t string) Condition { return Match(FieldContentType, t) }

// Genre filters by a single genre tag.
func Genre(g string) Condition { return Match(FieldGenres, g) }

// RatingFloor filters by minimum rating.
func RatingFloor(minRating float64) Condition {
	return InRange(FieldRating, AtLeast(minRating))
}
