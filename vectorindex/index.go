// Package vectorindex stores embeddings per namespace and answers
// nearest-neighbour queries by cosine similarity.
//
// Backends:
//   - Memory: in-process maps, for tests and single-process use
//   - Bolt: a single bbolt file, one bucket per namespace
//   - NATS: a JetStream KV bucket per namespace
//   - Pinecone: the managed REST index
//
// All backends return matches sorted by score descending with ties broken
// by ascending id, so equal-score results are stable across backends.
package vectorindex

import (
	"context"
	"math"
	"sort"

	"github.com/vinayprograms/skillsynth/errors"
)

// Upstream is the name used in errors, logs and metrics for index calls.
const Upstream = "index"

// Namespaces used by the engine.
const (
	NamespaceSkills = "skills"
	NamespaceUsers  = "users"
)

// Record is one stored vector.
type Record struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is one query hit. Score is cosine similarity in [-1, 1].
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index is a namespaced vector store.
type Index interface {
	// Upsert writes records, overwriting by id.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Fetch returns the stored records for ids. Absent ids are omitted.
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// Query returns at most k nearest records to vector.
	Query(ctx context.Context, namespace string, vector []float32, k int, includeMetadata bool) ([]Match, error)

	// Dimension is the vector length every record and query must have.
	Dimension() int

	Close() error
}

// Cosine returns the cosine similarity of a and b, accumulated in float64.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding overshoot.
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// Rank sorts matches by score descending, then id ascending, and keeps the
// first k.
func Rank(matches []Match, k int) []Match {
	if matches == nil {
		return []Match{}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func checkDimension(dim int, v []float32) error {
	if dim > 0 && len(v) != dim {
		return errors.DimensionMismatch(len(v), dim, errors.WithUpstream(Upstream))
	}
	return nil
}

func validateRecords(dim int, records []Record) error {
	for _, r := range records {
		if r.ID == "" {
			return errors.InvalidInput("record id must not be empty")
		}
		if err := checkDimension(dim, r.Vector); err != nil {
			return err
		}
	}
	return nil
}

func validateNamespace(ns string) error {
	if ns == "" {
		return errors.InvalidInput("namespace must not be empty")
	}
	return nil
}

// scorer accumulates brute-force query results.
type scorer struct {
	query           []float32
	includeMetadata bool
	matches         []Match
}

func (s *scorer) add(r Record) {
	if len(r.Vector) != len(s.query) {
		return
	}
	m := Match{ID: r.ID, Score: Cosine(s.query, r.Vector)}
	if s.includeMetadata {
		m.Metadata = copyMetadata(r.Metadata)
	}
	s.matches = append(s.matches, m)
}

func copyRecord(r Record) Record {
	out := Record{ID: r.ID, Metadata: copyMetadata(r.Metadata)}
	out.Vector = append([]float32(nil), r.Vector...)
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contextError(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "index "+op, errors.WithUpstream(Upstream))
	}
	return nil
}
