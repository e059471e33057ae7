package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/vinayprograms/skillsynth/catalog"
	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

const testDim = 16

func describeAll(ctx context.Context, prompt string) (string, error) {
	return "  A description of " + strings.TrimSuffix(strings.TrimPrefix(prompt, "Summarize "), " in two concise sentences.") + ".  ", nil
}

func TestTaxonomy_DecodeKeepsOrder(t *testing.T) {
	var tax Taxonomy
	data := `{"Web": ["React", "Vue"], "Databases": ["PostgreSQL"], "AI": []}`
	if err := json.Unmarshal([]byte(data), &tax); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(tax) != 3 {
		t.Fatalf("len = %d, want 3", len(tax))
	}
	names := []string{tax[0].Name, tax[1].Name, tax[2].Name}
	if strings.Join(names, ",") != "Web,Databases,AI" {
		t.Errorf("order = %v", names)
	}
	if strings.Join(tax[0].Skills, ",") != "React,Vue" {
		t.Errorf("skills = %v", tax[0].Skills)
	}

	out, err := json.Marshal(tax)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"Web":["React","Vue"],"Databases":["PostgreSQL"],"AI":[]}` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestTaxonomy_DecodeErrors(t *testing.T) {
	tests := []string{
		`["React"]`,
		`{"Web": "React"}`,
		`{"Web": [1, 2]}`,
	}
	for _, data := range tests {
		var tax Taxonomy
		if err := json.Unmarshal([]byte(data), &tax); err == nil {
			t.Errorf("Unmarshal(%s) succeeded", data)
		}
	}
}

func TestUserProfile_Decode(t *testing.T) {
	var u UserProfile
	data := `{"id": "u1", "skills": {"Python": 4, "React": 2}, "time_availability": 10}`
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.ID != "u1" || u.TimeAvailability != 10 {
		t.Errorf("profile = %+v", u)
	}
	want := SkillLevels{{Name: "Python", Level: 4}, {Name: "React", Level: 2}}
	if len(u.Skills) != 2 || u.Skills[0] != want[0] || u.Skills[1] != want[1] {
		t.Errorf("skills = %+v, want %+v", u.Skills, want)
	}
}

func TestProfileText(t *testing.T) {
	u := UserProfile{
		ID:               "u1",
		Skills:           SkillLevels{{Name: "Python", Level: 4}, {Name: "React", Level: 2}},
		TimeAvailability: 10,
	}
	want := "User profile: skills include Python (4/5), React (2/5). Experience levels are on a 1-5 scale. " +
		"Available time: 10 hours per week. Available time is on a 1-20 scale."
	if got := ProfileText(u); got != want {
		t.Errorf("ProfileText =\n%q\nwant\n%q", got, want)
	}
}

func TestFlatten_Duplicates(t *testing.T) {
	tax := Taxonomy{
		{Name: "Languages", Skills: []string{"Python", "Go"}},
		{Name: "Data Science", Skills: []string{"Pandas", "Python"}},
	}
	items := flatten(tax)
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].name != "Python" || items[0].category != "Data Science" {
		t.Errorf("first = %+v, want Python in Data Science", items[0])
	}
	if items[1].name != "Go" || items[2].name != "Pandas" {
		t.Errorf("order = %+v", items)
	}
}

func TestSkillPipeline_Run(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.GenerateFunc = describeAll
	emb := embedding.NewMockEmbedder(testDim)
	idx := vectorindex.NewMemory(testDim)

	p := NewSkillPipeline(SkillPipelineConfig{Generator: gen, Embedder: emb, Index: idx})
	report, err := p.Run(context.Background(), Taxonomy{
		{Name: "Databases", Skills: []string{"PostgreSQL", "MySQL"}},
		{Name: "Languages", Skills: []string{"Go"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Uploaded != 3 || len(report.Failures) != 0 || report.Canceled {
		t.Errorf("report = %+v", report)
	}
	if strings.Join(report.Processed, ",") != "PostgreSQL,MySQL,Go" {
		t.Errorf("processed = %v", report.Processed)
	}
	if report.Namespace != vectorindex.NamespaceSkills {
		t.Errorf("namespace = %q", report.Namespace)
	}

	got, _ := idx.Fetch(context.Background(), vectorindex.NamespaceSkills, []string{"PostgreSQL"})
	rec, ok := got["PostgreSQL"]
	if !ok {
		t.Fatal("PostgreSQL not uploaded")
	}
	if rec.Metadata["category"] != "Databases" || rec.Metadata["source"] != "ollama" {
		t.Errorf("metadata = %v", rec.Metadata)
	}
	if rec.Metadata["description"] != "A description of PostgreSQL." {
		t.Errorf("description = %q, want trimmed text", rec.Metadata["description"])
	}

	for _, prompt := range gen.Prompts() {
		if !strings.HasPrefix(prompt, "Summarize ") || !strings.HasSuffix(prompt, " in two concise sentences.") {
			t.Errorf("prompt = %q", prompt)
		}
	}
}

func TestSkillPipeline_EmbedsSkillAndDescription(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.SetResponse("Fast compiled language.")
	emb := embedding.NewMockEmbedder(testDim)
	pinned := make([]float32, testDim)
	pinned[0] = 1
	emb.SetVector("Go: Fast compiled language.", pinned)
	idx := vectorindex.NewMemory(testDim)

	p := NewSkillPipeline(SkillPipelineConfig{Generator: gen, Embedder: emb, Index: idx})
	if _, err := p.Run(context.Background(), Taxonomy{{Name: "Languages", Skills: []string{"Go"}}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := idx.Fetch(context.Background(), vectorindex.NamespaceSkills, []string{"Go"})
	if v := got["Go"].Vector; len(v) != testDim || v[0] != 1 {
		t.Errorf("vector = %v, want pinned vector", v)
	}
}

func TestSkillPipeline_OneDescriptionFailure(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "MySQL") {
			return "", errors.Unavailable(llm.Upstream, 500, "generation failed")
		}
		return describeAll(ctx, prompt)
	}
	idx := vectorindex.NewMemory(testDim)

	p := NewSkillPipeline(SkillPipelineConfig{Generator: gen, Embedder: embedding.NewMockEmbedder(testDim), Index: idx})
	report, err := p.Run(context.Background(), Taxonomy{
		{Name: "Databases", Skills: []string{"PostgreSQL", "MySQL", "SQLite"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 2 {
		t.Errorf("uploaded = %d, want 2", report.Uploaded)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %+v", report.Failures)
	}
	f := report.Failures[0]
	if f.ID != "MySQL" || f.Stage != StageDescription || f.Status != 500 || f.Code != string(errors.ErrCodeUpstreamUnavailable) {
		t.Errorf("failure = %+v", f)
	}
	if idx.Len(vectorindex.NamespaceSkills) != 2 {
		t.Errorf("index holds %d skills, want 2", idx.Len(vectorindex.NamespaceSkills))
	}
	if report.FailuresByStage()[StageDescription] != 1 {
		t.Errorf("by stage = %v", report.FailuresByStage())
	}
}

func TestSkillPipeline_EmptyDescription(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.SetResponse("   \n")
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim),
		Index:     vectorindex.NewMemory(testDim),
	})
	report, err := p.Run(context.Background(), Taxonomy{{Name: "Languages", Skills: []string{"Go"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 0 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Failures[0].Code != string(errors.ErrCodeEmptyResult) {
		t.Errorf("code = %s", report.Failures[0].Code)
	}
}

func TestSkillPipeline_DimensionMismatch(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.SetResponse("desc")
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim / 2),
		Index:     vectorindex.NewMemory(testDim),
	})
	report, err := p.Run(context.Background(), Taxonomy{{Name: "Languages", Skills: []string{"Go", "Rust"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 0 || len(report.Failures) != 2 {
		t.Fatalf("report = %+v", report)
	}
	for _, f := range report.Failures {
		if f.Stage != StageEmbed || f.Code != string(errors.ErrCodeDimensionMismatch) {
			t.Errorf("failure = %+v", f)
		}
	}
}

func TestSkillPipeline_Idempotent(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.GenerateFunc = describeAll
	emb := embedding.NewMockEmbedder(testDim)
	idx := vectorindex.NewMemory(testDim)
	p := NewSkillPipeline(SkillPipelineConfig{Generator: gen, Embedder: emb, Index: idx})
	tax := Taxonomy{{Name: "Databases", Skills: []string{"PostgreSQL", "MySQL"}}}
	ctx := context.Background()

	p.Run(ctx, tax)
	vec, _ := emb.Embed(ctx, "PostgreSQL: A description of PostgreSQL.")
	before, _ := idx.Query(ctx, vectorindex.NamespaceSkills, vec, 5, true)

	p.Run(ctx, tax)
	after, _ := idx.Query(ctx, vectorindex.NamespaceSkills, vec, 5, true)

	if idx.Len(vectorindex.NamespaceSkills) != 2 {
		t.Errorf("len = %d, want 2", idx.Len(vectorindex.NamespaceSkills))
	}
	if len(before) != len(after) {
		t.Fatalf("before %v after %v", before, after)
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Score != after[i].Score {
			t.Errorf("result %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries []catalog.Entry
	err     error
}

func (c *fakeCatalog) Index(ctx context.Context, entries []catalog.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return c.err
}

func TestSkillPipeline_FeedsCatalog(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Vue") {
			return "", errors.Unavailable(llm.Upstream, 503, "busy")
		}
		return describeAll(ctx, prompt)
	}
	cat := &fakeCatalog{}
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim),
		Index:     vectorindex.NewMemory(testDim),
		Catalog:   cat,
		Source:    "openai",
	})
	if _, err := p.Run(context.Background(), Taxonomy{{Name: "Web", Skills: []string{"React", "Vue"}}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cat.entries) != 1 {
		t.Fatalf("catalog entries = %+v", cat.entries)
	}
	e := cat.entries[0]
	if e.ID != "React" || e.Category != "Web" || e.Source != "openai" || e.Description == "" {
		t.Errorf("entry = %+v", e)
	}
}

func TestSkillPipeline_CatalogFailureNotFatal(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.SetResponse("desc")
	cat := &fakeCatalog{err: errors.Internal("disk full")}
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim),
		Index:     vectorindex.NewMemory(testDim),
		Catalog:   cat,
	})
	report, err := p.Run(context.Background(), Taxonomy{{Name: "Web", Skills: []string{"React"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 1 {
		t.Errorf("uploaded = %d", report.Uploaded)
	}
}

func TestSkillPipeline_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := llm.NewMockGenerator()
	gen.GenerateFunc = func(c context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "MySQL") {
			cancel()
			return "", c.Err()
		}
		return "desc", nil
	}
	idx := vectorindex.NewMemory(testDim)
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim),
		Index:     idx,
		Workers:   1,
	})
	report, err := p.Run(ctx, Taxonomy{{Name: "Databases", Skills: []string{"PostgreSQL", "MySQL", "SQLite"}}})
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Fatalf("err = %v, want CANCELED", err)
	}
	if report == nil || !report.Canceled {
		t.Fatalf("report = %+v", report)
	}
	if report.Uploaded != 0 || idx.Len(vectorindex.NamespaceSkills) != 0 {
		t.Errorf("partial batch uploaded: report %+v, index %d", report, idx.Len(vectorindex.NamespaceSkills))
	}
}

type failingIndex struct {
	*vectorindex.Memory
}

func (f failingIndex) Upsert(ctx context.Context, ns string, records []vectorindex.Record) error {
	return errors.Unavailable(vectorindex.Upstream, 503, "index down")
}

func TestSkillPipeline_BatchUpsertFailure(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.SetResponse("desc")
	p := NewSkillPipeline(SkillPipelineConfig{
		Generator: gen,
		Embedder:  embedding.NewMockEmbedder(testDim),
		Index:     failingIndex{vectorindex.NewMemory(testDim)},
	})
	report, err := p.Run(context.Background(), Taxonomy{{Name: "Web", Skills: []string{"React"}}})
	if !errors.Is(err, errors.ErrCodeUpstreamUnavailable) {
		t.Fatalf("err = %v, want UPSTREAM_UNAVAILABLE", err)
	}
	if report == nil || report.Uploaded != 0 || len(report.Processed) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestUserPipeline_Run(t *testing.T) {
	emb := embedding.NewMockEmbedder(testDim)
	idx := vectorindex.NewMemory(testDim)
	p := NewUserPipeline(UserPipelineConfig{Embedder: emb, Index: idx})

	users := []UserProfile{
		{ID: "u1", Skills: SkillLevels{{Name: "Python", Level: 4}, {Name: "React", Level: 2}}, TimeAvailability: 10},
		{ID: "", Skills: SkillLevels{{Name: "Go", Level: 3}}, TimeAvailability: 5},
		{ID: "u3", TimeAvailability: 1},
	}
	report, err := p.Run(context.Background(), users)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 2 || strings.Join(report.Processed, ",") != "u1,u3" {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != StageValidate {
		t.Errorf("failures = %+v", report.Failures)
	}

	got, _ := idx.Fetch(context.Background(), vectorindex.NamespaceUsers, []string{"u1", "u3"})
	md := got["u1"].Metadata
	if md["time_availability"] != "10" || md["skills"] != `{"Python":4,"React":2}` || md["source"] != "ollama" {
		t.Errorf("u1 metadata = %v", md)
	}
	if got["u3"].Metadata["skills"] != "{}" {
		t.Errorf("u3 skills = %q", got["u3"].Metadata["skills"])
	}
}

func TestUserPipeline_EmbedFailure(t *testing.T) {
	emb := embedding.NewMockEmbedder(testDim)
	emb.FailOn("Rust", errors.Unavailable(embedding.Upstream, 502, "bad gateway"))
	idx := vectorindex.NewMemory(testDim)
	p := NewUserPipeline(UserPipelineConfig{Embedder: emb, Index: idx, Workers: 2})

	report, err := p.Run(context.Background(), []UserProfile{
		{ID: "a", Skills: SkillLevels{{Name: "Go", Level: 5}}, TimeAvailability: 8},
		{ID: "b", Skills: SkillLevels{{Name: "Rust", Level: 1}}, TimeAvailability: 3},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 1 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if f := report.Failures[0]; f.ID != "b" || f.Stage != StageEmbed || f.Status != 502 {
		t.Errorf("failure = %+v", f)
	}
}

func TestUserPipeline_Empty(t *testing.T) {
	idx := vectorindex.NewMemory(testDim)
	p := NewUserPipeline(UserPipelineConfig{Embedder: embedding.NewMockEmbedder(testDim), Index: idx})
	report, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 0 || report.Processed == nil || report.Failures == nil {
		t.Errorf("report = %+v", report)
	}
}

func TestUserPipeline_DuplicateIDs(t *testing.T) {
	emb := embedding.NewMockEmbedder(testDim)
	idx := vectorindex.NewMemory(testDim)
	p := NewUserPipeline(UserPipelineConfig{Embedder: emb, Index: idx, Workers: 2})

	report, err := p.Run(context.Background(), []UserProfile{
		{ID: "u1", Skills: SkillLevels{{Name: "Go", Level: 1}}, TimeAvailability: 2},
		{ID: "u2", Skills: SkillLevels{{Name: "SQL", Level: 3}}, TimeAvailability: 4},
		{ID: "u1", Skills: SkillLevels{{Name: "Go", Level: 5}}, TimeAvailability: 9},
		{ID: ""},
		{ID: ""},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Uploaded != 2 || strings.Join(report.Processed, ",") != "u1,u2" {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failures) != 2 {
		t.Errorf("empty ids should each fail validation, got %+v", report.Failures)
	}
	if emb.Calls() != 2 {
		t.Errorf("embed calls = %d, want 2", emb.Calls())
	}

	got, _ := idx.Fetch(context.Background(), vectorindex.NamespaceUsers, []string{"u1"})
	if md := got["u1"].Metadata; md["time_availability"] != "9" || md["skills"] != `{"Go":5}` {
		t.Errorf("u1 should carry its last profile, metadata = %v", md)
	}
}
