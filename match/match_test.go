package match

import (
	"context"
	"math"
	"testing"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

func seedIndex(t *testing.T) *vectorindex.Memory {
	t.Helper()
	idx := vectorindex.NewMemory(3)
	ctx := context.Background()
	err := idx.Upsert(ctx, vectorindex.NamespaceSkills, []vectorindex.Record{
		{ID: "PostgreSQL", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"category": "Databases", "description": "Relational."}},
		{ID: "MySQL", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"category": "Databases"}},
		{ID: "Redis", Vector: []float32{0.5, 0.5, 0}},
		{ID: "React", Vector: []float32{0, 0, 1}, Metadata: map[string]string{"category": "Web"}},
	})
	if err != nil {
		t.Fatalf("Upsert skills: %v", err)
	}
	err = idx.Upsert(ctx, vectorindex.NamespaceUsers, []vectorindex.Record{
		{ID: "alice", Vector: []float32{1, 0, 0}},
		{ID: "bob", Vector: []float32{1, 0.1, 0}},
		{ID: "carol", Vector: []float32{0, 1, 0}},
		{ID: "dave", Vector: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert users: %v", err)
	}
	return idx
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.TargetID
	}
	return out
}

func TestMatch_SkillsKeepAnchor(t *testing.T) {
	m := New(Config{Index: seedIndex(t)})

	results, err := m.Match(context.Background(), "PostgreSQL", 1, vectorindex.NamespaceSkills)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(results) != 1 || results[0].TargetID != "PostgreSQL" {
		t.Fatalf("results = %v, want [PostgreSQL]", ids(results))
	}
	if results[0].Score < 0.9999 {
		t.Errorf("anchor score = %f, want 1", results[0].Score)
	}
	if results[0].Category() != "Databases" || results[0].Description() != "Relational." {
		t.Errorf("metadata = %v", results[0].Metadata)
	}
}

func TestMatch_OrderAndBounds(t *testing.T) {
	m := New(Config{Index: seedIndex(t)})

	for _, topK := range []int{1, 2, 3, 4, 10} {
		results, err := m.Match(context.Background(), "PostgreSQL", topK, vectorindex.NamespaceSkills)
		if err != nil {
			t.Fatalf("Match(%d): %v", topK, err)
		}
		if len(results) > topK {
			t.Errorf("topK=%d returned %d", topK, len(results))
		}
		for i, r := range results {
			if r.Score < -1 || r.Score > 1 {
				t.Errorf("score %f out of range", r.Score)
			}
			if i > 0 && r.Score > results[i-1].Score {
				t.Errorf("topK=%d not sorted: %v", topK, results)
			}
		}
	}

	results, _ := m.Match(context.Background(), "PostgreSQL", 3, vectorindex.NamespaceSkills)
	want := []string{"PostgreSQL", "MySQL", "Redis"}
	for i, id := range ids(results) {
		if id != want[i] {
			t.Errorf("results = %v, want %v", ids(results), want)
			break
		}
	}
}

func TestMatch_DefaultMetadata(t *testing.T) {
	m := New(Config{Index: seedIndex(t)})
	results, err := m.Match(context.Background(), "Redis", 1, vectorindex.NamespaceSkills)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if results[0].Category() != DefaultCategory || results[0].Description() != "" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestMatch_UsersExcludeAnchor(t *testing.T) {
	m := New(Config{
		Index:    seedIndex(t),
		Policies: map[string]AnchorPolicy{vectorindex.NamespaceUsers: KeepAnchor},
	})

	results, err := m.Match(context.Background(), "alice", 2, vectorindex.NamespaceUsers)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", ids(results))
	}
	for _, r := range results {
		if r.TargetID == "alice" {
			t.Errorf("anchor returned: %v", ids(results))
		}
	}
	// dave ties alice's vector exactly and outranks bob.
	if results[0].TargetID != "dave" || results[1].TargetID != "bob" {
		t.Errorf("results = %v, want [dave bob]", ids(results))
	}
}

func TestMatch_ExcludePolicyForSkills(t *testing.T) {
	m := New(Config{
		Index:    seedIndex(t),
		Policies: map[string]AnchorPolicy{vectorindex.NamespaceSkills: ExcludeAnchor},
	})
	results, err := m.Match(context.Background(), "PostgreSQL", 2, vectorindex.NamespaceSkills)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := ids(results); len(got) != 2 || got[0] != "MySQL" || got[1] != "Redis" {
		t.Errorf("results = %v", got)
	}
}

func TestMatch_UnknownAnchor(t *testing.T) {
	m := New(Config{Index: seedIndex(t)})
	results, err := m.Match(context.Background(), "nobody", 15, vectorindex.NamespaceUsers)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

type countingIndex struct {
	vectorindex.Index
	calls int
}

func (c *countingIndex) Fetch(ctx context.Context, ns string, ids []string) (map[string]vectorindex.Record, error) {
	c.calls++
	return c.Index.Fetch(ctx, ns, ids)
}

func TestMatch_NonPositiveTopK(t *testing.T) {
	idx := &countingIndex{Index: seedIndex(t)}
	m := New(Config{Index: idx})
	for _, k := range []int{0, -1} {
		results, err := m.Match(context.Background(), "PostgreSQL", k, vectorindex.NamespaceSkills)
		if err != nil || len(results) != 0 {
			t.Errorf("Match(k=%d) = %v, %v", k, results, err)
		}
	}
	if idx.calls != 0 {
		t.Errorf("index touched %d times", idx.calls)
	}
}

type downIndex struct {
	vectorindex.Index
}

func (downIndex) Fetch(ctx context.Context, ns string, ids []string) (map[string]vectorindex.Record, error) {
	return nil, errors.Unavailable(vectorindex.Upstream, 503, "index down")
}

func TestMatch_IndexError(t *testing.T) {
	m := New(Config{Index: downIndex{seedIndex(t)}})
	_, err := m.Match(context.Background(), "PostgreSQL", 3, vectorindex.NamespaceSkills)
	if !errors.Is(err, errors.ErrCodeUpstreamUnavailable) {
		t.Errorf("err = %v, want UPSTREAM_UNAVAILABLE", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    AnchorPolicy
		wantErr bool
	}{
		{"", KeepAnchor, false},
		{"keep", KeepAnchor, false},
		{"Exclude", ExcludeAnchor, false},
		{"drop", KeepAnchor, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestMatch_HugeTopK(t *testing.T) {
	m := New(Config{Index: seedIndex(t), MaxTopK: 3})
	if m.MaxTopK() != 3 {
		t.Fatalf("MaxTopK() = %d, want 3", m.MaxTopK())
	}

	tests := []struct {
		name string
		ns   string
		topK int
		want int
	}{
		{"users max int", vectorindex.NamespaceUsers, math.MaxInt, 3},
		{"users max int minus one", vectorindex.NamespaceUsers, math.MaxInt - 1, 3},
		{"skills max int", vectorindex.NamespaceSkills, math.MaxInt, 3},
		{"skills above max", vectorindex.NamespaceSkills, 1 << 30, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchor := "alice"
			if tt.ns == vectorindex.NamespaceSkills {
				anchor = "PostgreSQL"
			}
			results, err := m.Match(context.Background(), anchor, tt.topK, tt.ns)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("returned %d results %v, want %d", len(results), ids(results), tt.want)
			}
		})
	}
}

func TestMatch_DefaultMaxTopK(t *testing.T) {
	m := New(Config{Index: seedIndex(t)})
	if m.MaxTopK() != MaxTopK {
		t.Fatalf("MaxTopK() = %d, want %d", m.MaxTopK(), MaxTopK)
	}

	results, err := m.Match(context.Background(), "alice", math.MaxInt, vectorindex.NamespaceUsers)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("results = %v, want every user but alice", ids(results))
	}
}
