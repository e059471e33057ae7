// Package catalog provides full-text lookup of ingested skills for
// autocomplete and browsing. It complements the vector index: the index
// answers "what is similar", the catalog answers "what is called this".
package catalog

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/vinayprograms/skillsynth/errors"
)

const defaultLimit = 10

// Entry is one catalogued skill.
type Entry struct {
	ID          string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Hit is one search result.
type Hit struct {
	ID          string  `json:"skill"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// document is the indexed form of an Entry. NameKey is the lowercased name
// kept unanalyzed for prefix lookups.
type document struct {
	Name        string    `json:"name"`
	NameKey     string    `json:"name_key"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Config configures a Catalog.
type Config struct {
	// Path is the on-disk index directory. Empty keeps the index in memory.
	Path string
}

// Catalog is a bleve index of skills keyed by skill name.
type Catalog struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens the index at cfg.Path, creating it when absent.
func Open(cfg Config) (*Catalog, error) {
	var (
		index bleve.Index
		err   error
	)
	switch {
	case cfg.Path == "":
		index, err = bleve.NewMemOnly(buildIndexMapping())
	default:
		if _, statErr := os.Stat(cfg.Path); os.IsNotExist(statErr) {
			index, err = bleve.New(cfg.Path, buildIndexMapping())
		} else {
			index, err = bleve.Open(cfg.Path)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "open skill catalog")
	}
	return &Catalog{index: index}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	skillMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	skillMapping.AddFieldMappingsAt("name", textFieldMapping)
	skillMapping.AddFieldMappingsAt("name_key", keywordFieldMapping)
	skillMapping.AddFieldMappingsAt("category", textFieldMapping)
	skillMapping.AddFieldMappingsAt("description", textFieldMapping)
	skillMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	skillMapping.AddFieldMappingsAt("updated_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = skillMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index adds or replaces entries in one batch.
func (c *Catalog) Index(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "index skills")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.index.NewBatch()
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			return errors.InvalidInput("skill name must not be empty")
		}
		updated := e.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		doc := document{
			Name:        e.ID,
			NameKey:     strings.ToLower(e.ID),
			Category:    e.Category,
			Description: e.Description,
			Source:      e.Source,
			UpdatedAt:   updated,
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return errors.Wrap(err, "index skill "+e.ID)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return errors.Wrap(err, "write skill batch")
	}
	return nil
}

// Get returns the entry for a skill name, or NOT_FOUND.
func (c *Catalog) Get(ctx context.Context, id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{"name", "category", "description", "source", "updated_at"}
	req.Size = 1

	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "get skill")
	}
	if res.Total == 0 {
		return nil, errors.NotFound("skill " + id + " not in catalog")
	}

	hit := res.Hits[0]
	e := &Entry{ID: hit.ID}
	if v, ok := hit.Fields["category"].(string); ok {
		e.Category = v
	}
	if v, ok := hit.Fields["description"].(string); ok {
		e.Description = v
	}
	if v, ok := hit.Fields["source"].(string); ok {
		e.Source = v
	}
	if v, ok := hit.Fields["updated_at"].(string); ok {
		e.UpdatedAt, _ = time.Parse(time.RFC3339, v)
	}
	return e, nil
}

// Search returns skills whose name starts with or matches text, or whose
// category or description matches it. Hits are ordered by score, then name.
func (c *Catalog) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	req := bleve.NewSearchRequest(buildSearchQuery(text))
	req.Size = limit
	req.Fields = []string{"category", "description"}
	req.SortBy([]string{"-_score", "_id"})

	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "search skills")
		}
		return nil, errors.Wrap(err, "search skills")
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["category"].(string); ok {
			hit.Category = v
		}
		if v, ok := h.Fields["description"].(string); ok {
			hit.Description = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// buildSearchQuery boosts name prefixes over name matches over category and
// description matches.
func buildSearchQuery(text string) query.Query {
	prefix := bleve.NewPrefixQuery(strings.ToLower(text))
	prefix.SetField("name_key")
	prefix.SetBoost(3)

	name := bleve.NewMatchQuery(text)
	name.SetField("name")
	name.SetBoost(2)

	category := bleve.NewMatchQuery(text)
	category.SetField("category")

	description := bleve.NewMatchQuery(text)
	description.SetField("description")

	return bleve.NewDisjunctionQuery(prefix, name, category, description)
}

// Count returns the number of catalogued skills.
func (c *Catalog) Count() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.DocCount()
}

// Close closes the index.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Close()
}
