// Package match finds the nearest neighbours of an indexed item.
package match

import (
	"context"
	"strings"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

// DefaultCategory is reported for skills indexed without a category.
const DefaultCategory = "Unknown"

// MaxTopK is the default upper bound on topK. Larger requests are clamped.
const MaxTopK = 1000

// AnchorPolicy decides whether the anchor itself may appear in its own
// results.
type AnchorPolicy int

const (
	// KeepAnchor leaves the anchor in the results, usually as the top hit.
	KeepAnchor AnchorPolicy = iota
	// ExcludeAnchor drops the anchor from the results.
	ExcludeAnchor
)

// String returns the config spelling of the policy.
func (p AnchorPolicy) String() string {
	if p == ExcludeAnchor {
		return "exclude"
	}
	return "keep"
}

// ParsePolicy parses "keep" or "exclude".
func ParsePolicy(s string) (AnchorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepAnchor, nil
	case "exclude":
		return ExcludeAnchor, nil
	default:
		return KeepAnchor, errors.InvalidInput("unknown anchor policy: " + s)
	}
}

// Result is one neighbour of the anchor.
type Result struct {
	TargetID string            `json:"target_id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Category returns the result's skill category, or DefaultCategory.
func (r Result) Category() string {
	if c := r.Metadata["category"]; c != "" {
		return c
	}
	return DefaultCategory
}

// Description returns the result's skill description, or "".
func (r Result) Description() string {
	return r.Metadata["description"]
}

// Config configures a Matcher.
type Config struct {
	Index vectorindex.Index

	// Policies maps namespaces to anchor policies. Namespaces not listed
	// keep the anchor, except users which always exclude it.
	Policies map[string]AnchorPolicy

	// MaxTopK clamps requested topK values. Default: MaxTopK
	MaxTopK int

	Logger *logging.Logger
}

// Matcher answers nearest-neighbour queries against an anchor id.
type Matcher struct {
	index    vectorindex.Index
	policies map[string]AnchorPolicy
	maxTopK  int
	logger   *logging.Logger
}

// New creates a Matcher.
func New(cfg Config) *Matcher {
	policies := map[string]AnchorPolicy{
		vectorindex.NamespaceSkills: KeepAnchor,
	}
	for ns, p := range cfg.Policies {
		policies[ns] = p
	}
	policies[vectorindex.NamespaceUsers] = ExcludeAnchor

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxTopK := cfg.MaxTopK
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	return &Matcher{
		index:    cfg.Index,
		policies: policies,
		maxTopK:  maxTopK,
		logger:   logger.WithComponent("match"),
	}
}

// Policy returns the anchor policy used for ns.
func (m *Matcher) Policy(ns string) AnchorPolicy {
	return m.policies[ns]
}

// MaxTopK returns the largest topK a query is run with.
func (m *Matcher) MaxTopK() int {
	return m.maxTopK
}

// Match returns at most topK neighbours of anchorID in ns, best first.
// topK above the configured maximum is clamped to it. An anchor that is
// not indexed yields an empty result, not an error.
func (m *Matcher) Match(ctx context.Context, anchorID string, topK int, ns string) ([]Result, error) {
	if topK <= 0 {
		return []Result{}, nil
	}
	if topK > m.maxTopK {
		m.logger.Debug("top_k_clamped", map[string]interface{}{
			"namespace": ns,
			"requested": topK,
			"max":       m.maxTopK,
		})
		topK = m.maxTopK
	}

	found, err := m.index.Fetch(ctx, ns, []string{anchorID})
	if err != nil {
		return nil, errors.Wrap(err, "fetch anchor "+anchorID)
	}
	anchor, ok := found[anchorID]
	if !ok || len(anchor.Vector) == 0 {
		m.logger.Debug("anchor_not_found", map[string]interface{}{
			"namespace": ns,
			"anchor":    anchorID,
		})
		return []Result{}, nil
	}

	matches, err := m.index.Query(ctx, ns, anchor.Vector, topK+1, true)
	if err != nil {
		return nil, errors.Wrap(err, "query neighbours of "+anchorID)
	}

	exclude := m.Policy(ns) == ExcludeAnchor
	results := make([]Result, 0, min(topK, len(matches)))
	for _, mt := range matches {
		if exclude && mt.ID == anchorID {
			continue
		}
		if len(results) == topK {
			break
		}
		results = append(results, Result{TargetID: mt.ID, Score: mt.Score, Metadata: mt.Metadata})
	}

	m.logger.MatchComplete(ns, anchorID, topK, len(results))
	return results, nil
}
