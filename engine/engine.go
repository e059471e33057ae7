// Package engine is the inbound surface of the matching engine.
//
// An Engine ties the ingestion pipelines, the matcher, the project
// orchestrator and the skill catalog to one set of backends. Every
// operation runs in its own trace span, carries a request id and records
// metrics.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/skillsynth/catalog"
	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/ingest"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/match"
	"github.com/vinayprograms/skillsynth/metrics"
	"github.com/vinayprograms/skillsynth/project"
	"github.com/vinayprograms/skillsynth/telemetry"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

// Default result sizes for the inbound operations.
const (
	DefaultSkillTopK  = 3
	DefaultUserTopK   = 15
	DefaultSearchSize = 10
)

// Status values reported by the ingestion operations.
const (
	StatusSuccess  = "success"
	StatusPartial  = "partial"
	StatusCanceled = "canceled"
	StatusFailed   = "failed"
)

// Deps are the collaborators of an Engine. Embedder, Generator and Index
// are required.
type Deps struct {
	Embedder  embedding.Embedder
	Generator llm.Generator
	Index     vectorindex.Index

	// Catalog enables SearchSkills. Optional.
	Catalog *catalog.Catalog

	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer
	Logger  *logging.Logger

	Workers     int
	SkillTopK   int
	UserTopK    int
	MaxTopK     int // 0 uses match.MaxTopK
	SkillAnchor match.AnchorPolicy

	// Source is stored with every ingested record.
	Source string
}

// Engine serves the inbound operations.
type Engine struct {
	index   vectorindex.Index
	catalog *catalog.Catalog

	skills   *ingest.SkillPipeline
	users    *ingest.UserPipeline
	matcher  *match.Matcher
	projects *project.Orchestrator

	metrics *metrics.Metrics
	tracer  *telemetry.Tracer
	logger  *logging.Logger

	skillTopK int
	userTopK  int

	closers []func() error
}

// New creates an Engine from injected dependencies.
func New(d Deps) (*Engine, error) {
	if d.Embedder == nil || d.Generator == nil || d.Index == nil {
		return nil, errors.InvalidInput("engine requires an embedder, a generator and an index")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.GetTracer()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.SkillTopK <= 0 {
		d.SkillTopK = DefaultSkillTopK
	}
	if d.UserTopK <= 0 {
		d.UserTopK = DefaultUserTopK
	}

	e := &Engine{
		index:     d.Index,
		catalog:   d.Catalog,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		logger:    d.Logger.WithComponent("engine"),
		skillTopK: d.SkillTopK,
		userTopK:  d.UserTopK,
	}

	var cat ingest.Catalog
	if d.Catalog != nil {
		cat = d.Catalog
	}
	e.skills = ingest.NewSkillPipeline(ingest.SkillPipelineConfig{
		Generator: d.Generator,
		Embedder:  d.Embedder,
		Index:     d.Index,
		Catalog:   cat,
		Workers:   d.Workers,
		Source:    d.Source,
		Logger:    d.Logger,
	})
	e.users = ingest.NewUserPipeline(ingest.UserPipelineConfig{
		Embedder: d.Embedder,
		Index:    d.Index,
		Workers:  d.Workers,
		Source:   d.Source,
		Logger:   d.Logger,
	})
	e.matcher = match.New(match.Config{
		Index:    d.Index,
		Policies: map[string]match.AnchorPolicy{vectorindex.NamespaceSkills: d.SkillAnchor},
		MaxTopK:  d.MaxTopK,
		Logger:   d.Logger,
	})
	e.projects = project.New(project.Config{
		Matcher:    e.matcher,
		Generator:  d.Generator,
		Neighbours: d.SkillTopK,
		Logger:     d.Logger,
	})
	return e, nil
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Close releases the backends opened by FromConfig. Injected dependencies
// are left to their owner.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Results ---

// IngestSkillsResult is the outcome of ProcessAndUploadSkills.
type IngestSkillsResult struct {
	Status          string           `json:"status"`
	ProcessedSkills []string         `json:"processed_skills"`
	UploadedCount   int              `json:"uploaded_count"`
	Failures        []ingest.Failure `json:"failures"`
	Canceled        bool             `json:"canceled"`
}

// RelevantSkill is one neighbour of a skill.
type RelevantSkill struct {
	Skill       string  `json:"skill"`
	Score       float64 `json:"score"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

// RelevantSkillsResult is the outcome of GrabRelevantSkills.
type RelevantSkillsResult struct {
	MainSkill      string          `json:"main_skill"`
	RelevantSkills []RelevantSkill `json:"relevant_skills"`
}

// IngestUsersResult is the outcome of UploadUsers.
type IngestUsersResult struct {
	Status        string           `json:"status"`
	UsersUploaded int              `json:"users_uploaded"`
	Failures      []ingest.Failure `json:"failures"`
	Canceled      bool             `json:"canceled"`
}

// Teammate is one user similar to the anchor user.
type Teammate struct {
	UserID     string  `json:"user_id"`
	MatchScore float64 `json:"match_score"`
}

// TeammatesResult is the outcome of FindTeammates.
type TeammatesResult struct {
	UserID    string     `json:"user_id"`
	Teammates []Teammate `json:"teammates"`
}

// SearchResult is the outcome of SearchSkills.
type SearchResult struct {
	Query string        `json:"query"`
	Hits  []catalog.Hit `json:"hits"`
}

// --- Operations ---

// ProcessAndUploadSkills describes, embeds and indexes every skill in the
// taxonomy. Per-skill failures are reported in the result; a failed upload
// or cancellation is returned as an error together with the result.
func (e *Engine) ProcessAndUploadSkills(ctx context.Context, taxonomy ingest.Taxonomy) (*IngestSkillsResult, error) {
	op := e.begin(ctx, "skills.process")
	report, err := e.skills.Run(op.ctx, taxonomy)
	e.recordReport(report, err)

	var res *IngestSkillsResult
	if report != nil {
		res = &IngestSkillsResult{
			Status:          status(report, err),
			ProcessedSkills: report.Processed,
			UploadedCount:   report.Uploaded,
			Failures:        report.Failures,
			Canceled:        report.Canceled,
		}
		op.opts.Items = len(report.Processed) + len(report.Failures)
		op.opts.Failed = len(report.Failures)
		op.opts.Results = report.Uploaded
	}
	op.opts.Namespace = vectorindex.NamespaceSkills
	op.end(err)
	return res, err
}

// GrabRelevantSkills returns the skills most similar to mainSkill. topK <= 0
// uses the configured default.
func (e *Engine) GrabRelevantSkills(ctx context.Context, mainSkill string, topK int) (*RelevantSkillsResult, error) {
	op := e.begin(ctx, "skills.relevant")
	if topK <= 0 {
		topK = e.skillTopK
	}

	results, err := e.matcher.Match(op.ctx, mainSkill, topK, vectorindex.NamespaceSkills)
	op.opts.Namespace = vectorindex.NamespaceSkills
	if err != nil {
		op.end(err)
		return nil, err
	}
	e.metrics.RecordMatch(vectorindex.NamespaceSkills, len(results))

	out := &RelevantSkillsResult{MainSkill: mainSkill, RelevantSkills: make([]RelevantSkill, 0, len(results))}
	for _, r := range results {
		out.RelevantSkills = append(out.RelevantSkills, RelevantSkill{
			Skill:       r.TargetID,
			Score:       r.Score,
			Category:    r.Category(),
			Description: r.Description(),
		})
	}
	op.opts.Results = len(results)
	op.end(nil)
	return out, nil
}

// GetProject generates a learning project for mainSkills.
func (e *Engine) GetProject(ctx context.Context, mainSkills []string, timeAvailability, experienceLevel int) (*project.Proposal, error) {
	op := e.begin(ctx, "project.get")
	p, err := e.projects.Recommend(op.ctx, mainSkills, timeAvailability, experienceLevel)
	e.metrics.RecordProject(err)
	if p != nil {
		op.opts.Results = len(p.RelevantSkills)
	}
	op.opts.Items = len(mainSkills)
	op.end(err)
	return p, err
}

// UploadUsers embeds and indexes user profiles.
func (e *Engine) UploadUsers(ctx context.Context, users []ingest.UserProfile) (*IngestUsersResult, error) {
	op := e.begin(ctx, "users.upload")
	report, err := e.users.Run(op.ctx, users)
	e.recordReport(report, err)

	var res *IngestUsersResult
	if report != nil {
		res = &IngestUsersResult{
			Status:        status(report, err),
			UsersUploaded: report.Uploaded,
			Failures:      report.Failures,
			Canceled:      report.Canceled,
		}
		op.opts.Items = len(users)
		op.opts.Failed = len(report.Failures)
		op.opts.Results = report.Uploaded
	}
	op.opts.Namespace = vectorindex.NamespaceUsers
	op.end(err)
	return res, err
}

// FindTeammates returns the users most similar to userID, never userID
// itself. An unknown user yields an empty list. topK <= 0 uses the
// configured default.
func (e *Engine) FindTeammates(ctx context.Context, userID string, topK int) (*TeammatesResult, error) {
	op := e.begin(ctx, "users.teammates")
	if topK <= 0 {
		topK = e.userTopK
	}

	results, err := e.matcher.Match(op.ctx, userID, topK, vectorindex.NamespaceUsers)
	op.opts.Namespace = vectorindex.NamespaceUsers
	if err != nil {
		op.end(err)
		return nil, err
	}
	e.metrics.RecordMatch(vectorindex.NamespaceUsers, len(results))

	out := &TeammatesResult{UserID: userID, Teammates: make([]Teammate, 0, len(results))}
	for _, r := range results {
		out.Teammates = append(out.Teammates, Teammate{UserID: r.TargetID, MatchScore: r.Score})
	}
	op.opts.Results = len(results)
	op.end(nil)
	return out, nil
}

// SearchSkills looks skills up by name, category or description. limit <= 0
// uses DefaultSearchSize.
func (e *Engine) SearchSkills(ctx context.Context, text string, limit int) (*SearchResult, error) {
	op := e.begin(ctx, "skills.search")
	if e.catalog == nil {
		err := errors.InvalidInput("skill catalog is not enabled")
		op.end(err)
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchSize
	}

	hits, err := e.catalog.Search(op.ctx, text, limit)
	if err != nil {
		op.end(err)
		return nil, err
	}
	op.opts.Results = len(hits)
	op.end(nil)
	return &SearchResult{Query: text, Hits: hits}, nil
}

// --- Helpers ---

// operation tracks one inbound call from begin to end.
type operation struct {
	e      *Engine
	name   string
	ctx    context.Context
	span   trace.Span
	start  time.Time
	logger *logging.Logger
	opts   telemetry.OperationSpanOptions
}

func (e *Engine) begin(ctx context.Context, name string) *operation {
	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = WithRequestID(ctx, requestID)
	}
	ctx, span := e.tracer.StartOperationSpan(ctx, name)

	logger := e.logger
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.WithTraceID(traceID)
	}
	logger.Debug("operation_start", map[string]interface{}{
		"operation":  name,
		"request_id": requestID,
	})
	return &operation{
		e:      e,
		name:   name,
		ctx:    ctx,
		span:   span,
		start:  time.Now(),
		logger: logger,
		opts:   telemetry.OperationSpanOptions{RequestID: requestID},
	}
}

func (op *operation) end(err error) {
	op.e.tracer.EndOperationSpan(op.span, op.opts, err)

	fields := map[string]interface{}{
		"operation":  op.name,
		"request_id": op.opts.RequestID,
		"duration":   time.Since(op.start).String(),
		"results":    op.opts.Results,
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["code"] = errors.Code(err).String()
		op.logger.Warn("operation_failed", fields)
		return
	}
	op.logger.Info("operation_complete", fields)
}

func (e *Engine) recordReport(r *ingest.Report, err error) {
	if r == nil {
		return
	}
	e.metrics.RecordIngested(r.Namespace, r.Uploaded)
	for _, f := range r.Failures {
		e.metrics.RecordFailed(r.Namespace, f.Stage)
	}
	// A failed batch loses every staged item at the upsert stage.
	if err != nil && !r.Canceled {
		for range r.Processed {
			e.metrics.RecordFailed(r.Namespace, ingest.StageUpsert)
		}
	}
}

func status(r *ingest.Report, err error) string {
	switch {
	case r.Canceled:
		return StatusCanceled
	case err != nil:
		return StatusFailed
	case len(r.Failures) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx. Operations reuse it instead
// of minting their own.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
