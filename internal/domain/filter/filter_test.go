package filter

import (
	"strings"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New([]Condition{{}}, nil); err == nil {
		t.Error("empty condition should be rejected")
	}

	many := make([]Condition, MaxConditions+1)
	for i := range many {
		many[i] = Available()
	}
	if _, err := New(many, nil); err == nil {
		t.Error("too many conditions should be rejected")
	}

	expr, err := New([]Condition{Available(), RatingFloor(6)}, []Condition{ContentType("live")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expr.Must()) != 2 || len(expr.MustNot()) != 1 {
		t.Errorf("unexpected condition counts: %d/%d", len(expr.Must()), len(expr.MustNot()))
	}
}

func TestExpression_WithWithout(t *testing.T) {
	expr, _ := New([]Condition{Available()}, nil)

	withGenre := expr.With(Genre("drama"))
	if len(withGenre.Must()) != 2 {
		t.Fatalf("With should append, got %d conditions", len(withGenre.Must()))
	}
	if len(expr.Must()) != 1 {
		t.Error("With must not mutate the receiver")
	}

	dropped := withGenre.Without(FieldGenres)
	if len(dropped.Must()) != 1 || dropped.Must()[0].Key() != FieldAvailable {
		t.Errorf("Without should remove genre conditions, got %v", dropped.String())
	}
}

func TestExpression_String(t *testing.T) {
	expr, _ := New(
		[]Condition{Available(), RatingFloor(6.5)},
		[]Condition{ContentType("live")},
	)
	s := expr.String()
	for _, want := range []string{"avail={1}", "rating=[6.5,+inf]", "-ctype={live}"} {
		if !strings.Contains(s, want) {
			t.Errorf("debug string %q missing %q", s, want)
		}
	}
}
