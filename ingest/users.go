package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

// ProfileText returns the text embedded for a user. Levels and availability
// are written verbatim.
func ProfileText(u UserProfile) string {
	parts := make([]string, len(u.Skills))
	for i, s := range u.Skills {
		parts[i] = fmt.Sprintf("%s (%d/5)", s.Name, s.Level)
	}
	return fmt.Sprintf("User profile: skills include %s. Experience levels are on a 1-5 scale. "+
		"Available time: %d hours per week. Available time is on a 1-20 scale.",
		strings.Join(parts, ", "), u.TimeAvailability)
}

// UserPipelineConfig configures a UserPipeline.
type UserPipelineConfig struct {
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Workers  int
	Source   string
	Logger   *logging.Logger
}

// UserPipeline embeds and uploads user profiles into the users namespace.
type UserPipeline struct {
	runner
	source string
}

// NewUserPipeline creates a user pipeline.
func NewUserPipeline(cfg UserPipelineConfig) *UserPipeline {
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	return &UserPipeline{
		runner: newRunner(cfg.Embedder, cfg.Index, cfg.Workers, cfg.Logger),
		source: source,
	}
}

// dedupeUsers lists each user id once, in order of first appearance, with
// the last profile given for it. Profiles with an empty id are kept as is so
// each one is reported by validation.
func dedupeUsers(users []UserProfile) []UserProfile {
	pos := make(map[string]int, len(users))
	out := make([]UserProfile, 0, len(users))
	for _, u := range users {
		if u.ID != "" {
			if i, ok := pos[u.ID]; ok {
				out[i] = u
				continue
			}
			pos[u.ID] = len(out)
		}
		out = append(out, u)
	}
	return out
}

// Run processes every profile in users. A user id given more than once is
// processed once with its last profile. Failures are handled as in
// SkillPipeline.Run.
func (p *UserPipeline) Run(ctx context.Context, users []UserProfile) (*Report, error) {
	users = dedupeUsers(users)
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return p.run(ctx, vectorindex.NamespaceUsers, ids, func(ctx context.Context, i int) slot {
		return p.process(ctx, users[i])
	})
}

func (p *UserPipeline) process(ctx context.Context, u UserProfile) slot {
	if strings.TrimSpace(u.ID) == "" {
		return failed(ctx, u.ID, StageValidate, errors.InvalidInput("user id must not be empty"))
	}

	skills := u.Skills
	if skills == nil {
		skills = SkillLevels{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return failed(ctx, u.ID, StageValidate, errors.Wrap(err, "encode skills"))
	}

	vec, err := p.embed(ctx, ProfileText(u))
	if err != nil {
		return failed(ctx, u.ID, StageEmbed, err)
	}

	return slot{record: &vectorindex.Record{
		ID:     u.ID,
		Vector: vec,
		Metadata: map[string]string{
			"source":            p.source,
			"time_availability": strconv.Itoa(u.TimeAvailability),
			"skills":            string(skillsJSON),
		},
	}}
}
