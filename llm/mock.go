package llm

import (
	"context"
	"sync"
)

// MockGenerator is a scripted Generator for tests.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	fallback  string
	err       error
	prompts   []string

	// GenerateFunc overrides every other behavior when set.
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
}

// NewMockGenerator creates a mock that answers "mock response".
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{fallback: "mock response"}
}

// SetResponse sets the reply used once the scripted queue is empty.
func (m *MockGenerator) SetResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = text
}

// QueueResponses scripts replies returned in order before the fallback.
func (m *MockGenerator) QueueResponses(texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, texts...)
}

// SetError makes every call fail with err.
func (m *MockGenerator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns every prompt received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) > 0 {
		r := m.responses[0]
		m.responses = m.responses[1:]
		return r, nil
	}
	return m.fallback, nil
}
