// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/resilience"
)

// Upstream is the name used in errors, logs and metrics for embedding calls.
const Upstream = "embed"

// Embedder generates one embedding per call.
type Embedder interface {
	// Embed returns the vector for text. A backend that answers with no
	// vector fails with EMPTY_RESULT.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector length the backend is configured for.
	Dimension() int
}

// Config selects and configures a backend for New.
type Config struct {
	Provider  string // ollama, openai, mock
	BaseURL   string
	Model     string
	Dimension int
	APIKey    string
	Timeout   time.Duration
}

// New creates the backend named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			APIKey:    cfg.APIKey,
			Timeout:   cfg.Timeout,
		}), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.InvalidInput("api_key is required for openai embeddings")
		}
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		}), nil
	case "mock":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 1024
		}
		return NewMockEmbedder(dim), nil
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown embedding provider %q", cfg.Provider))
	}
}

// Guarded applies a resilience policy to an Embedder. Embedding is
// idempotent so retryable failures are retried by the guard.
type Guarded struct {
	inner Embedder
	guard *resilience.Guard
}

// NewGuarded wraps inner with guard.
func NewGuarded(inner Embedder, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

// Embed implements Embedder.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Call(ctx, g.guard, "embed", func(ctx context.Context) ([]float32, error) {
		return g.inner.Embed(ctx, text)
	})
}

// Dimension implements Embedder.
func (g *Guarded) Dimension() int {
	return g.inner.Dimension()
}

// postJSON sends body to url and decodes a 2xx JSON reply into out.
// Transport failures and non-2xx statuses become UPSTREAM_UNAVAILABLE with
// the status recorded; context errors keep their TIMEOUT/CANCELED code.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return errors.Wrap(err, "create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "embedding request", errors.WithUpstream(Upstream))
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.New(errors.ErrCodeTimeout, "embedding request timed out",
				errors.WithUpstream(Upstream), errors.WithCause(err))
		}
		return errors.Unavailable(Upstream, 0, "embedding request failed", errors.WithCause(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Unavailable(Upstream, resp.StatusCode, "read embedding response", errors.WithCause(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Unavailable(Upstream, resp.StatusCode,
			fmt.Sprintf("embedding API error (status %d): %s", resp.StatusCode, truncate(respBody, 256)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Unavailable(Upstream, resp.StatusCode, "parse embedding response",
			errors.WithCause(err), errors.WithRetryable(false))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
