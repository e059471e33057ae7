// Package llm provides text generation backends behind a single
// prompt-in, text-out contract.
package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/resilience"
)

// Upstream is the name used in errors, logs and metrics for generation calls.
const Upstream = "generate"

// Generator turns a prompt into text. The reply is opaque to the backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a backend for NewGenerator.
type Config struct {
	Provider  string // ollama, openai, anthropic, google, mock
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewGenerator creates the backend named by cfg.Provider.
func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaGenerator(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}), nil

	case "openai":
		g, err := NewOpenAIGenerator(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return g, nil

	case "anthropic":
		g, err := NewAnthropicGenerator(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return g, nil

	case "google":
		g, err := NewGoogleGenerator(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return g, nil

	case "mock":
		return NewMockGenerator(), nil

	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown generation provider %q", cfg.Provider))
	}
}

// Guarded applies a resilience policy to a Generator. Generation is not
// idempotent in cost, so the guard's MaxRetries should stay at the
// configured generation.max_retries (default 0).
type Guarded struct {
	inner Generator
	guard *resilience.Guard
}

// NewGuarded wraps inner with guard.
func NewGuarded(inner Generator, guard *resilience.Guard) *Guarded {
	return &Guarded{inner: inner, guard: guard}
}

// Generate implements Generator.
func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	return resilience.Call(ctx, g.guard, "generate", func(ctx context.Context) (string, error) {
		return g.inner.Generate(ctx, prompt)
	})
}

// httpStatusError is satisfied by SDK errors that expose a status code
// through a method, such as Google API call errors.
type httpStatusError interface {
	HTTPCode() int
}

// classify maps a backend failure onto the error taxonomy. status is the
// HTTP status when the SDK exposed one, 0 otherwise.
func classify(ctx context.Context, provider string, status int, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), provider+" generation", errors.WithUpstream(Upstream))
	}
	if status == 0 {
		var hs httpStatusError
		if stderrors.As(err, &hs) && hs.HTTPCode() > 0 {
			status = hs.HTTPCode()
		}
	}
	var netErr net.Error
	if status == 0 && stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.New(errors.ErrCodeTimeout, provider+" generation timed out",
			errors.WithUpstream(Upstream), errors.WithCause(err))
	}
	return errors.Unavailable(Upstream, status, provider+" generation failed",
		errors.WithCause(err), errors.WithMetadata("provider", provider))
}
