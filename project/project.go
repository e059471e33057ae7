// Package project recommends a learning project for a set of skills.
//
// The orchestrator widens the requested skills with their nearest
// neighbours from the skill index, asks the generator for a project in a
// fixed JSON shape and parses the reply exactly once.
package project

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/match"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

const (
	defaultNeighbours  = 3
	defaultConcurrency = 4
)

// Proposal is a generated learning project.
type Proposal struct {
	ProjectName       string   `json:"project_name"`
	Description       string   `json:"description"`
	ExperienceLevel   int      `json:"experience_level"`
	TimeAvailability  int      `json:"time_availability"`
	LearningResources []string `json:"learning_resources"`
	RelevantSkills    []string `json:"relevant_skills"`
}

// Matcher finds neighbours of an indexed skill.
type Matcher interface {
	Match(ctx context.Context, anchorID string, topK int, namespace string) ([]match.Result, error)
}

// Config configures an Orchestrator.
type Config struct {
	Matcher   Matcher
	Generator llm.Generator

	// Neighbours is how many similar skills to pull per requested skill.
	// Default: 3
	Neighbours int

	// Concurrency bounds parallel matcher calls. Default: 4
	Concurrency int

	Logger *logging.Logger
}

// Orchestrator builds project proposals.
type Orchestrator struct {
	matcher     Matcher
	generator   llm.Generator
	neighbours  int
	concurrency int
	logger      *logging.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Neighbours <= 0 {
		cfg.Neighbours = defaultNeighbours
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Orchestrator{
		matcher:     cfg.Matcher,
		generator:   cfg.Generator,
		neighbours:  cfg.Neighbours,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.WithComponent("project"),
	}
}

// Recommend generates a project for mainSkills. Matcher failures only
// narrow the relevant skills; generation and parse failures are returned.
func (o *Orchestrator) Recommend(ctx context.Context, mainSkills []string, timeAvailability, experienceLevel int) (*Proposal, error) {
	start := time.Now()
	if mainSkills == nil {
		mainSkills = []string{}
	}

	relevant := o.relevantSkills(ctx, mainSkills)

	prompt, err := BuildPrompt(mainSkills, relevant, timeAvailability, experienceLevel)
	if err != nil {
		return nil, errors.Wrap(err, "render project prompt")
	}

	text, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "generate project")
	}

	r, err := parseReply(text)
	if err != nil {
		o.logger.Warn("malformed_project", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	p := &Proposal{
		ProjectName:       r.ProjectName,
		Description:       r.Description,
		ExperienceLevel:   int(r.ExperienceLevel),
		TimeAvailability:  int(r.TimeAvailability),
		LearningResources: []string(r.LearningResources),
		RelevantSkills:    relevant,
	}
	if p.ExperienceLevel == 0 {
		p.ExperienceLevel = experienceLevel
	}
	if p.TimeAvailability == 0 {
		p.TimeAvailability = timeAvailability
	}
	if p.LearningResources == nil {
		p.LearningResources = []string{}
	}

	o.logger.ProjectGenerated(p.ProjectName, len(p.RelevantSkills), time.Since(start))
	return p, nil
}

// relevantSkills returns the requested skills and their neighbours as a
// sorted set.
func (o *Orchestrator) relevantSkills(ctx context.Context, mainSkills []string) []string {
	neighbours := make([][]match.Result, len(mainSkills))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, skill := range mainSkills {
		i, skill := i, skill
		g.Go(func() error {
			results, err := o.matcher.Match(ctx, skill, o.neighbours, vectorindex.NamespaceSkills)
			if err != nil {
				o.logger.Warn("relevant_skills_failed", map[string]interface{}{
					"skill": skill,
					"error": err.Error(),
				})
				return nil
			}
			neighbours[i] = results
			return nil
		})
	}
	g.Wait()

	set := make(map[string]struct{})
	for i, skill := range mainSkills {
		set[skill] = struct{}{}
		for _, r := range neighbours[i] {
			set[r.TargetID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
