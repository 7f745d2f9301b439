package redis

import (
	"strings"
	"testing"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain/filter"
)

func TestBuildFilter_Empty(t *testing.T) {
	if got := BuildFilter(filter.Expression{}); got != "" {
		t.Errorf("empty expression should build empty filter, got %q", got)
	}
}

func TestBuildFilter_TagAndRange(t *testing.T) {
	expr, err := filter.New(
		[]filter.Condition{filter.Available(), filter.RatingFloor(6.5)},
		[]filter.Condition{filter.ContentType("live")},
	)
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}

	got := BuildFilter(expr)
	for _, want := range []string{"@avail:{1}", "@rating:[6.5 +inf]", "-@ctype:{live}"} {
		if !strings.Contains(got, want) {
			t.Errorf("filter %q missing %q", got, want)
		}
	}
}

func TestBuildFilter_EscapesTagValues(t *testing.T) {
	expr, _ := filter.New([]filter.Condition{filter.Genre("sci-fi")}, nil)
	got := BuildFilter(expr)
	if !strings.Contains(got, `sci\-fi`) {
		t.Errorf("tag value not escaped: %q", got)
	}
}

func TestVectorBytes_RoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out := BytesToVector(VectorToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("round-trip changed length: %d != %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestBytesToVector_Misaligned(t *testing.T) {
	if got := BytesToVector("abc"); got != nil {
		t.Errorf("misaligned input should return nil, got %v", got)
	}
}

func TestBuildCreateArgs_HNSW(t *testing.T) {
	def := &db.IndexDefinition{
		Name:     "nextup:content:idx",
		Prefixes: []string{"nextup:content:"},
		Fields: []db.IndexField{
			{Name: filter.FieldGenres, Type: db.IndexFieldTag, TagSeparator: ","},
			{Name: filter.FieldRating, Type: db.IndexFieldNumeric},
			{
				Name: "embedding", Type: db.IndexFieldVector,
				VectorAlgo: db.VectorHNSW, VectorDim: 4,
				VectorM: 32, VectorEFConstruct: 400,
			},
		},
	}

	args, err := buildCreateArgs(def)
	if err != nil {
		t.Fatalf("buildCreateArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"ON HASH", "PREFIX 1 nextup:content:", "VECTOR HNSW",
		"DISTANCE_METRIC COSINE", "M 32", "EF_CONSTRUCTION 400",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("create args %q missing %q", joined, want)
		}
	}
}

func TestBuildKNNArgs_SortsByDistance(t *testing.T) {
	q := &db.KNNQuery{
		IndexName:    "nextup:content:idx",
		Vector:       []float32{1, 0},
		K:            10,
		ReturnFields: []string{"title", "__embedding_score"},
	}

	joined := strings.Join(buildKNNArgs(q), " ")
	if !strings.Contains(joined, "SORTBY __embedding_score ASC") {
		t.Errorf("args missing distance sort: %q", joined)
	}
	if !strings.Contains(joined, "DIALECT 2") {
		t.Errorf("args missing dialect: %q", joined)
	}
	// SORTBY must precede PARAMS in the command tail.
	if strings.Index(joined, "SORTBY") > strings.Index(joined, "PARAMS") {
		t.Errorf("SORTBY placed after PARAMS: %q", joined)
	}
}
