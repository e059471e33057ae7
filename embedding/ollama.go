package embedding

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
)

// OllamaEmbedder generates embeddings using Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	BaseURL   string        // default: http://localhost:11434
	Model     string        // default: mxbai-embed-large
	Dimension int           // default: model-specific
	APIKey    string        // optional, for hosted Ollama
	Timeout   time.Duration // default: 10s
}

// NewOllamaEmbedder creates a new Ollama embedding provider.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "mxbai-embed-large"
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		switch model {
		case "nomic-embed-text":
			dimension = 768
		case "all-minilm":
			dimension = 384
		default:
			dimension = 1024
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &OllamaEmbedder{
		baseURL:   baseURL,
		model:     model,
		apiKey:    cfg.APIKey,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + e.apiKey}
	}

	var resp ollamaEmbedResponse
	err := postJSON(ctx, e.client, e.baseURL+"/api/embed", headers,
		ollamaEmbedRequest{Model: e.model, Input: []string{text}}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.EmptyResult(Upstream, "ollama returned no embedding")
	}
	return resp.Embeddings[0], nil
}

// Dimension implements Embedder.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}
