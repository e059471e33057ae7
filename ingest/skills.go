package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/skillsynth/catalog"
	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

// DescriptionPrompt returns the prompt that asks for a skill summary.
func DescriptionPrompt(skill string) string {
	return fmt.Sprintf("Summarize %s in two concise sentences.", skill)
}

// SkillText returns the text embedded for a described skill.
func SkillText(skill, description string) string {
	return skill + ": " + description
}

// Catalog receives described skills for full-text lookup.
type Catalog interface {
	Index(ctx context.Context, entries []catalog.Entry) error
}

// SkillPipelineConfig configures a SkillPipeline.
type SkillPipelineConfig struct {
	Generator llm.Generator
	Embedder  embedding.Embedder
	Index     vectorindex.Index

	// Catalog is optional.
	Catalog Catalog

	// Workers bounds concurrent items. Default: 4
	Workers int

	// Source is stored in record metadata. Default: "ollama"
	Source string

	Logger *logging.Logger
}

// SkillPipeline describes, embeds and uploads skills into the skills
// namespace.
type SkillPipeline struct {
	runner
	generator llm.Generator
	catalog   Catalog
	source    string
}

// NewSkillPipeline creates a skill pipeline.
func NewSkillPipeline(cfg SkillPipelineConfig) *SkillPipeline {
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	return &SkillPipeline{
		runner:    newRunner(cfg.Embedder, cfg.Index, cfg.Workers, cfg.Logger),
		generator: cfg.Generator,
		catalog:   cfg.Catalog,
		source:    source,
	}
}

type skillItem struct {
	name     string
	category string
}

// flatten lists each skill once, in order of first appearance. A skill
// listed under several categories takes the last one, matching the index's
// overwrite-by-id behavior.
func flatten(t Taxonomy) []skillItem {
	pos := make(map[string]int)
	var items []skillItem
	for _, c := range t {
		for _, name := range c.Skills {
			if i, ok := pos[name]; ok {
				items[i].category = c.Name
				continue
			}
			pos[name] = len(items)
			items = append(items, skillItem{name: name, category: c.Name})
		}
	}
	return items
}

// Run processes every skill in t. Per-skill failures are recorded in the
// Report; a failed batch upload or a canceled context is returned as an
// error alongside the partial Report.
func (p *SkillPipeline) Run(ctx context.Context, t Taxonomy) (*Report, error) {
	items := flatten(t)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.name
	}

	records := make([]*vectorindex.Record, len(items))
	report, err := p.run(ctx, vectorindex.NamespaceSkills, ids, func(ctx context.Context, i int) slot {
		s := p.process(ctx, items[i])
		records[i] = s.record
		return s
	})
	if err != nil || p.catalog == nil || report.Uploaded == 0 {
		return report, err
	}

	entries := make([]catalog.Entry, 0, report.Uploaded)
	for _, r := range records {
		if r == nil {
			continue
		}
		entries = append(entries, catalog.Entry{
			ID:          r.ID,
			Category:    r.Metadata["category"],
			Description: r.Metadata["description"],
			Source:      r.Metadata["source"],
		})
	}
	if err := p.catalog.Index(ctx, entries); err != nil {
		p.logger.Warn("catalog_update_failed", map[string]interface{}{
			"skills": len(entries),
			"error":  err.Error(),
		})
	}
	return report, nil
}

func (p *SkillPipeline) process(ctx context.Context, it skillItem) slot {
	if strings.TrimSpace(it.name) == "" {
		return failed(ctx, it.name, StageValidate, errors.InvalidInput("skill name must not be empty"))
	}

	description, err := p.generator.Generate(ctx, DescriptionPrompt(it.name))
	if err != nil {
		return failed(ctx, it.name, StageDescription, err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return failed(ctx, it.name, StageDescription,
			errors.EmptyResult(llm.Upstream, "empty description for "+it.name))
	}

	vec, err := p.embed(ctx, SkillText(it.name, description))
	if err != nil {
		return failed(ctx, it.name, StageEmbed, err)
	}

	return slot{record: &vectorindex.Record{
		ID:     it.name,
		Vector: vec,
		Metadata: map[string]string{
			"source":      p.source,
			"category":    it.category,
			"description": description,
		},
	}}
}
