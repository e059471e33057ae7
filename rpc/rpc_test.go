package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/engine"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/ingest"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/project"
	"github.com/vinayprograms/skillsynth/transport"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

type fakeService struct {
	calls     []string
	taxonomy  ingest.Taxonomy
	mainSkill string
	topK      int
	userID    string
	users     []ingest.UserProfile
	project   []interface{}
	requestID string
	err       error
}

func (f *fakeService) record(ctx context.Context, name string) {
	f.calls = append(f.calls, name)
	f.requestID = engine.RequestID(ctx)
}

func (f *fakeService) ProcessAndUploadSkills(ctx context.Context, taxonomy ingest.Taxonomy) (*engine.IngestSkillsResult, error) {
	f.record(ctx, "process")
	f.taxonomy = taxonomy
	res := &engine.IngestSkillsResult{Status: engine.StatusSuccess, ProcessedSkills: []string{"PostgreSQL"}, UploadedCount: 1}
	if f.err != nil {
		res.Status = engine.StatusPartial
		return res, f.err
	}
	return res, nil
}

func (f *fakeService) GrabRelevantSkills(ctx context.Context, mainSkill string, topK int) (*engine.RelevantSkillsResult, error) {
	f.record(ctx, "relevant")
	f.mainSkill, f.topK = mainSkill, topK
	if f.err != nil {
		return nil, f.err
	}
	return &engine.RelevantSkillsResult{
		MainSkill:      mainSkill,
		RelevantSkills: []engine.RelevantSkill{{Skill: mainSkill, Score: 1, Category: "Databases"}},
	}, nil
}

func (f *fakeService) SearchSkills(ctx context.Context, text string, limit int) (*engine.SearchResult, error) {
	f.record(ctx, "search")
	return &engine.SearchResult{Query: text}, f.err
}

func (f *fakeService) GetProject(ctx context.Context, mainSkills []string, timeAvailability, experienceLevel int) (*project.Proposal, error) {
	f.record(ctx, "project")
	f.project = []interface{}{mainSkills, timeAvailability, experienceLevel}
	if f.err != nil {
		return nil, f.err
	}
	return &project.Proposal{ProjectName: "Data Detective", ExperienceLevel: experienceLevel}, nil
}

func (f *fakeService) UploadUsers(ctx context.Context, users []ingest.UserProfile) (*engine.IngestUsersResult, error) {
	f.record(ctx, "upload")
	f.users = users
	return &engine.IngestUsersResult{Status: engine.StatusSuccess, UsersUploaded: len(users)}, f.err
}

func (f *fakeService) FindTeammates(ctx context.Context, userID string, topK int) (*engine.TeammatesResult, error) {
	f.record(ctx, "teammates")
	f.userID, f.topK = userID, topK
	return &engine.TeammatesResult{UserID: userID, Teammates: []engine.Teammate{}}, f.err
}

func TestDispatcher_Methods(t *testing.T) {
	svc := &fakeService{}
	d := NewDispatcher(svc, nil)
	ctx := context.Background()

	res, err := d.Handle(ctx, MethodProcessSkills, json.RawMessage(`{"Databases":["PostgreSQL","MySQL"],"DevOps":["Docker"]}`))
	if err != nil {
		t.Fatalf("skills.process: %v", err)
	}
	if len(svc.taxonomy) != 2 || svc.taxonomy[0].Name != "Databases" || svc.taxonomy[1].Skills[0] != "Docker" {
		t.Errorf("taxonomy = %+v", svc.taxonomy)
	}
	if res.(*engine.IngestSkillsResult).UploadedCount != 1 {
		t.Errorf("result = %+v", res)
	}
	if svc.requestID == "" {
		t.Error("request id not set")
	}

	if _, err := d.Handle(ctx, MethodRelevantSkills, json.RawMessage(`{"main_skill":"PostgreSQL","top_k":5}`)); err != nil {
		t.Fatalf("skills.relevant: %v", err)
	}
	if svc.mainSkill != "PostgreSQL" || svc.topK != 5 {
		t.Errorf("relevant args = %q %d", svc.mainSkill, svc.topK)
	}

	res, err = d.Handle(ctx, MethodGetProject, json.RawMessage(`{"main_skills":["Python"],"time_availability":10,"experience_level":3}`))
	if err != nil {
		t.Fatalf("project.get: %v", err)
	}
	if fmt.Sprint(svc.project) != "[[Python] 10 3]" {
		t.Errorf("project args = %v", svc.project)
	}
	if pr := res.(*ProjectResult); pr.Project.ProjectName != "Data Detective" {
		t.Errorf("project = %+v", pr.Project)
	}

	if _, err := d.Handle(ctx, MethodUploadUsers, json.RawMessage(`{"users":[{"id":"u1","skills":{"Python":4},"time_availability":10}]}`)); err != nil {
		t.Fatalf("users.upload: %v", err)
	}
	if len(svc.users) != 1 || svc.users[0].ID != "u1" {
		t.Errorf("users = %+v", svc.users)
	}

	for _, params := range []string{`{"user_id":"u1","top_k":2}`, `{"user":{"id":"u1","skills":{}},"top_k":2}`} {
		if _, err := d.Handle(ctx, MethodFindTeammates, json.RawMessage(params)); err != nil {
			t.Fatalf("users.teammates %s: %v", params, err)
		}
		if svc.userID != "u1" || svc.topK != 2 {
			t.Errorf("%s: teammates args = %q %d", params, svc.userID, svc.topK)
		}
	}

	if _, err := d.Handle(ctx, MethodSearchSkills, json.RawMessage(`{"query":"postg"}`)); err != nil {
		t.Fatalf("skills.search: %v", err)
	}

	want := "process,relevant,project,upload,teammates,teammates,search"
	if got := strings.Join(svc.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestDispatcher_InvalidParams(t *testing.T) {
	tests := []struct {
		method string
		params string
	}{
		{MethodProcessSkills, ``},
		{MethodProcessSkills, `["not","an","object"]`},
		{MethodRelevantSkills, `{"main_skill":"  "}`},
		{MethodRelevantSkills, `{"top_k":"three"}`},
		{MethodSearchSkills, `{"query":""}`},
		{MethodGetProject, `null`},
		{MethodUploadUsers, `{"users":{"id":"u1"}}`},
		{MethodFindTeammates, `{"top_k":3}`},
	}

	svc := &fakeService{}
	d := NewDispatcher(svc, nil)
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.params, func(t *testing.T) {
			_, err := d.Handle(context.Background(), tt.method, json.RawMessage(tt.params))
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Fatalf("err = %v, want INVALID_INPUT", err)
			}
			if got := MapError(err).Code; got != transport.InvalidParams {
				t.Errorf("rpc code = %d, want %d", got, transport.InvalidParams)
			}
		})
	}
	if len(svc.calls) != 0 {
		t.Errorf("service called on invalid params: %v", svc.calls)
	}
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d := NewDispatcher(&fakeService{}, nil)
	_, err := d.Handle(context.Background(), "skills.delete", nil)

	rpcErr, ok := err.(*transport.Error)
	if !ok {
		t.Fatalf("err = %T, want *transport.Error", err)
	}
	if rpcErr.Code != transport.MethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, transport.MethodNotFound)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		code       int
		httpStatus int
		errCode    string
	}{
		{"unavailable", errors.Unavailable(llm.Upstream, 503, "generation failed"), CodeUpstreamUnavailable, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"empty", errors.EmptyResult(llm.Upstream, "empty description"), CodeEmptyResult, http.StatusBadGateway, "EMPTY_RESULT"},
		{"malformed", errors.Malformed("no json object"), CodeMalformedOutput, http.StatusBadGateway, "MALFORMED_GENERATION_OUTPUT"},
		{"invalid", errors.InvalidInput("bad"), transport.InvalidParams, http.StatusBadRequest, "INVALID_INPUT"},
		{"dimension", errors.DimensionMismatch(3, 4), CodeDimensionMismatch, http.StatusInternalServerError, "DIMENSION_MISMATCH"},
		{"canceled", errors.New(errors.ErrCodeCanceled, "canceled"), CodeCanceled, 499, "CANCELED"},
		{"timeout", errors.New(errors.ErrCodeTimeout, "slow"), CodeTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{"context canceled", context.Canceled, CodeCanceled, 499, "CANCELED"},
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{"internal", errors.Internal("boom"), transport.InternalError, http.StatusInternalServerError, "INTERNAL"},
		{"plain", fmt.Errorf("boom"), transport.InternalError, http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := MapError(tt.err)
			if rpcErr.Code != tt.code {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.code)
			}
			data := rpcErr.Data.(*ErrorData)
			if data.HTTPStatus != tt.httpStatus {
				t.Errorf("http_status = %d, want %d", data.HTTPStatus, tt.httpStatus)
			}
			if data.Code != tt.errCode {
				t.Errorf("data.code = %q, want %q", data.Code, tt.errCode)
			}
		})
	}
}

func TestMapError_UpstreamDetails(t *testing.T) {
	err := errors.Wrap(errors.Unavailable(llm.Upstream, 503, "overloaded"), "describe skill")
	data := MapError(err).Data.(*ErrorData)
	if data.Upstream != llm.Upstream || data.Status != 503 {
		t.Errorf("data = %+v", data)
	}
}

func TestServe_PartialIngestion(t *testing.T) {
	svc := &fakeService{err: errors.Unavailable("index", 500, "upsert failed")}
	input := `{"jsonrpc":"2.0","id":1,"method":"skills.process","params":{"Databases":["PostgreSQL"]}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"nope"}` + "\n"

	var out bytes.Buffer
	tr := transport.NewStdioTransport(strings.NewReader(input), &out, transport.DefaultConfig())
	if err := transport.Serve(context.Background(), tr, NewDispatcher(svc, nil), transport.ServeOptions{MapError: MapError}); err != nil {
		t.Fatalf("Serve() = %v", err)
	}

	type wireError struct {
		Code int `json:"code"`
		Data struct {
			Code       string `json:"code"`
			HTTPStatus int    `json:"http_status"`
			Upstream   string `json:"upstream"`
			Result     struct {
				Status        string `json:"status"`
				UploadedCount int    `json:"uploaded_count"`
			} `json:"result"`
		} `json:"data"`
	}
	byID := map[float64]wireError{}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp struct {
			ID    float64    `json:"id"`
			Error *wireError `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		if resp.Error == nil {
			t.Fatalf("expected error response: %s", scanner.Text())
		}
		byID[resp.ID] = *resp.Error
	}

	e := byID[1]
	if e.Code != CodeUpstreamUnavailable || e.Data.HTTPStatus != http.StatusBadGateway || e.Data.Upstream != "index" {
		t.Errorf("ingest error = %+v", e)
	}
	if e.Data.Result.Status != engine.StatusPartial || e.Data.Result.UploadedCount != 1 {
		t.Errorf("partial result = %+v", e.Data.Result)
	}
	if byID[2].Code != transport.MethodNotFound {
		t.Errorf("unknown method code = %d", byID[2].Code)
	}
}

func TestDispatcher_HugeTopK(t *testing.T) {
	e, err := engine.New(engine.Deps{
		Embedder:  embedding.NewMockEmbedder(8),
		Generator: llm.NewMockGenerator(),
		Index:     vectorindex.NewMemory(8),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	d := NewDispatcher(e, nil)
	ctx := context.Background()

	upload := json.RawMessage(`{"users":[{"id":"u1","skills":{"Go":3}},{"id":"u2","skills":{"Go":2,"SQL":1}}]}`)
	if _, err := d.Handle(ctx, MethodUploadUsers, upload); err != nil {
		t.Fatalf("%s: %v", MethodUploadUsers, err)
	}

	for _, topK := range []string{"9223372036854775807", "1073741824"} {
		params := json.RawMessage(`{"user_id":"u1","top_k":` + topK + `}`)
		out, err := d.Handle(ctx, MethodFindTeammates, params)
		if err != nil {
			t.Fatalf("top_k=%s: %v", topK, err)
		}
		res, ok := out.(*engine.TeammatesResult)
		if !ok {
			t.Fatalf("result type = %T", out)
		}
		if len(res.Teammates) != 1 || res.Teammates[0].UserID != "u2" {
			t.Errorf("top_k=%s teammates = %+v, want [u2]", topK, res.Teammates)
		}
	}
}
