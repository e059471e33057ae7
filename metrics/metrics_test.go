package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vinayprograms/skillsynth/errors"
)

func TestRecordIngestion(t *testing.T) {
	m := New()

	m.RecordIngested("skills", 3)
	m.RecordIngested("skills", 0)
	m.RecordFailed("skills", "embed")
	m.RecordFailed("skills", "embed")
	m.RecordFailed("users", "upsert")

	if got := testutil.ToFloat64(m.ItemsIngested.WithLabelValues("skills")); got != 3 {
		t.Errorf("ingested = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ItemsFailed.WithLabelValues("skills", "embed")); got != 2 {
		t.Errorf("failed embed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ItemsFailed.WithLabelValues("users", "upsert")); got != 1 {
		t.Errorf("failed upsert = %v, want 1", got)
	}
}

func TestRecordUpstream(t *testing.T) {
	m := New()

	m.RecordUpstream("embed", 20*time.Millisecond, nil)
	m.RecordUpstream("embed", time.Second, errors.New(errors.ErrCodeTimeout, "slow"))

	if n := testutil.CollectAndCount(m.UpstreamDuration); n != 2 {
		t.Errorf("series = %d, want 2 (ok and TIMEOUT)", n)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.NotFound("x"), "NOT_FOUND"},
		{errors.Unavailable("index", 503, "down"), "UPSTREAM_UNAVAILABLE"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestBreakerHook(t *testing.T) {
	m := New()
	hook := m.BreakerHook()

	hook("generate", gobreaker.StateClosed, gobreaker.StateOpen)
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("generate")); got != 2 {
		t.Errorf("open = %v", got)
	}
	hook("generate", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("generate")); got != 1 {
		t.Errorf("half-open = %v", got)
	}
	hook("generate", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("generate")); got != 0 {
		t.Errorf("closed = %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordProject(nil)
	m.RecordMatch("users", 15)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`skillsynth_projects_generated_total{outcome="ok"} 1`,
		`skillsynth_match_results_count{namespace="users"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestIsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordProject(nil)
	if got := testutil.ToFloat64(b.ProjectsGenerated.WithLabelValues("ok")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
