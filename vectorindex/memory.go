package vectorindex

import (
	"context"
	"sync"
)

// Memory is an in-process Index with brute-force cosine search.
type Memory struct {
	dim int

	mu   sync.RWMutex
	data map[string]map[string]Record
}

// NewMemory creates an empty in-memory index. dim 0 disables dimension
// checks.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, data: make(map[string]map[string]Record)}
}

// Upsert implements Index.
func (m *Memory) Upsert(ctx context.Context, ns string, records []Record) error {
	if err := validateNamespace(ns); err != nil {
		return err
	}
	if err := validateRecords(m.dim, records); err != nil {
		return err
	}
	if err := contextError(ctx, "upsert"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]Record)
		m.data[ns] = bucket
	}
	for _, r := range records {
		bucket[r.ID] = copyRecord(r)
	}
	return nil
}

// Fetch implements Index.
func (m *Memory) Fetch(ctx context.Context, ns string, ids []string) (map[string]Record, error) {
	if err := contextError(ctx, "fetch"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(ids))
	bucket := m.data[ns]
	for _, id := range ids {
		if r, ok := bucket[id]; ok {
			out[id] = copyRecord(r)
		}
	}
	return out, nil
}

// Query implements Index.
func (m *Memory) Query(ctx context.Context, ns string, vector []float32, k int, includeMetadata bool) ([]Match, error) {
	if err := checkDimension(m.dim, vector); err != nil {
		return nil, err
	}
	if err := contextError(ctx, "query"); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	s := scorer{query: vector, includeMetadata: includeMetadata}
	for _, r := range m.data[ns] {
		s.add(r)
	}
	m.mu.RUnlock()

	return Rank(s.matches, k), nil
}

// Len returns the number of records in a namespace.
func (m *Memory) Len(ns string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[ns])
}

// Dimension implements Index.
func (m *Memory) Dimension() int { return m.dim }

// Close implements Index.
func (m *Memory) Close() error { return nil }
