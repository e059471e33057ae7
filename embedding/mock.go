package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// MockEmbedder is a deterministic embedder for tests. Texts sharing
// character trigrams get similar vectors.
type MockEmbedder struct {
	dimension int

	mu       sync.Mutex
	vectors  map[string][]float32
	failures map[string]error
	calls    int
}

// NewMockEmbedder creates a mock embedder.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		failures:  make(map[string]error),
	}
}

// SetVector pins the vector returned for text.
func (e *MockEmbedder) SetVector(text string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = v
}

// FailOn makes Embed return err for any text containing substr.
func (e *MockEmbedder) FailOn(substr string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[substr] = err
}

// Calls returns how many times Embed was called.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed implements Embedder.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	for substr, err := range e.failures {
		if strings.Contains(text, substr) {
			e.mu.Unlock()
			return nil, err
		}
	}
	if v, ok := e.vectors[text]; ok {
		e.mu.Unlock()
		return append([]float32(nil), v...), nil
	}
	e.mu.Unlock()

	return hashVector(text, e.dimension), nil
}

// Dimension implements Embedder.
func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func hashVector(text string, dimension int) []float32 {
	v := make([]float32, dimension)
	if dimension == 0 {
		return v
	}
	lower := strings.ToLower(text)
	if len(lower) < 3 {
		lower += "   "[:3-len(lower)]
	}
	for i := 0; i+3 <= len(lower); i++ {
		h := fnv.New32a()
		h.Write([]byte(lower[i : i+3]))
		v[h.Sum32()%uint32(dimension)]++
	}
	return v
}
