package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
)

// OllamaGenerator calls Ollama's /api/generate endpoint without streaming.
type OllamaGenerator struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	BaseURL string // default: http://localhost:11434
	Model   string // default: mistral:latest
	APIKey  string // optional, for hosted Ollama
	Timeout time.Duration
}

// NewOllamaGenerator creates an Ollama generator.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "mistral:latest"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OllamaGenerator{
		baseURL: baseURL,
		model:   model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Prompt string `json:"prompt"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(ollamaGenerateRequest{Model: g.model, Stream: false, Prompt: prompt})
	if err != nil {
		return "", errors.Wrap(err, "marshal generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", errors.Wrap(err, "create generate request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", classify(ctx, "ollama", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(ctx, "ollama", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.Unavailable(Upstream, resp.StatusCode,
			fmt.Sprintf("ollama generate error (status %d): %s", resp.StatusCode, truncate(body, 256)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Unavailable(Upstream, resp.StatusCode, "parse generate response",
			errors.WithCause(err), errors.WithRetryable(false))
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", errors.EmptyResult(Upstream, "ollama returned an empty response")
	}
	return out.Response, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
