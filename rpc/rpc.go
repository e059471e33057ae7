// Package rpc exposes the engine operations as JSON-RPC 2.0 methods.
package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/vinayprograms/skillsynth/engine"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/ingest"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/project"
	"github.com/vinayprograms/skillsynth/transport"
)

// Method names.
const (
	MethodProcessSkills  = "skills.process"
	MethodRelevantSkills = "skills.relevant"
	MethodSearchSkills   = "skills.search"
	MethodGetProject     = "project.get"
	MethodUploadUsers    = "users.upload"
	MethodFindTeammates  = "users.teammates"
)

// Service is the set of engine operations served over JSON-RPC.
type Service interface {
	ProcessAndUploadSkills(ctx context.Context, taxonomy ingest.Taxonomy) (*engine.IngestSkillsResult, error)
	GrabRelevantSkills(ctx context.Context, mainSkill string, topK int) (*engine.RelevantSkillsResult, error)
	SearchSkills(ctx context.Context, text string, limit int) (*engine.SearchResult, error)
	GetProject(ctx context.Context, mainSkills []string, timeAvailability, experienceLevel int) (*project.Proposal, error)
	UploadUsers(ctx context.Context, users []ingest.UserProfile) (*engine.IngestUsersResult, error)
	FindTeammates(ctx context.Context, userID string, topK int) (*engine.TeammatesResult, error)
}

// RelevantSkillsParams are the params of skills.relevant.
type RelevantSkillsParams struct {
	MainSkill string `json:"main_skill"`
	TopK      int    `json:"top_k,omitempty"`
}

// SearchSkillsParams are the params of skills.search.
type SearchSkillsParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// ProjectParams are the params of project.get.
type ProjectParams struct {
	MainSkills       []string `json:"main_skills"`
	TimeAvailability int      `json:"time_availability"`
	ExperienceLevel  int      `json:"experience_level"`
}

// ProjectResult wraps the proposal the way clients expect it.
type ProjectResult struct {
	Project *project.Proposal `json:"project"`
}

// UploadUsersParams are the params of users.upload.
type UploadUsersParams struct {
	Users []ingest.UserProfile `json:"users"`
}

// TeammatesParams are the params of users.teammates. Either UserID or
// User.ID names the anchor.
type TeammatesParams struct {
	UserID string              `json:"user_id,omitempty"`
	User   *ingest.UserProfile `json:"user,omitempty"`
	TopK   int                 `json:"top_k,omitempty"`
}

func (p TeammatesParams) id() string {
	if p.UserID != "" {
		return p.UserID
	}
	if p.User != nil {
		return p.User.ID
	}
	return ""
}

// Dispatcher routes JSON-RPC methods to a Service. It implements
// transport.Handler.
type Dispatcher struct {
	svc    Service
	logger *logging.Logger
}

// NewDispatcher creates a dispatcher for svc.
func NewDispatcher(svc Service, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{svc: svc, logger: logger.WithComponent("rpc")}
}

// Handle implements transport.Handler.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	ctx = engine.WithRequestID(ctx, uuid.NewString())
	d.logger.Debug("rpc_request", map[string]interface{}{
		"method":     method,
		"request_id": engine.RequestID(ctx),
	})

	switch method {
	case MethodProcessSkills:
		var taxonomy ingest.Taxonomy
		if err := decode(params, &taxonomy); err != nil {
			return nil, err
		}
		res, err := d.svc.ProcessAndUploadSkills(ctx, taxonomy)
		return partial(res, res != nil, err)

	case MethodRelevantSkills:
		var p RelevantSkillsParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.MainSkill) == "" {
			return nil, errors.InvalidInput("main_skill is required")
		}
		return d.svc.GrabRelevantSkills(ctx, p.MainSkill, p.TopK)

	case MethodSearchSkills:
		var p SearchSkillsParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Query) == "" {
			return nil, errors.InvalidInput("query is required")
		}
		return d.svc.SearchSkills(ctx, p.Query, p.Limit)

	case MethodGetProject:
		var p ProjectParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		proposal, err := d.svc.GetProject(ctx, p.MainSkills, p.TimeAvailability, p.ExperienceLevel)
		if err != nil {
			return nil, err
		}
		return &ProjectResult{Project: proposal}, nil

	case MethodUploadUsers:
		var p UploadUsersParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		res, err := d.svc.UploadUsers(ctx, p.Users)
		return partial(res, res != nil, err)

	case MethodFindTeammates:
		var p TeammatesParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.id() == "" {
			return nil, errors.InvalidInput("user_id is required")
		}
		return d.svc.FindTeammates(ctx, p.id(), p.TopK)
	}

	return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method not found", Data: method}
}

// partialError carries the result of an ingestion that failed after some
// items were processed.
type partialError struct {
	err    error
	result interface{}
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func partial(result interface{}, ok bool, err error) (interface{}, error) {
	if err == nil {
		return result, nil
	}
	if !ok {
		return nil, err
	}
	return nil, &partialError{err: err, result: result}
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return errors.InvalidInput("params are required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.InvalidInput("invalid params: " + err.Error())
	}
	return nil
}
