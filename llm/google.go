package llm

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vinayprograms/skillsynth/errors"
)

// GoogleGenerator uses the official Google Gemini SDK.
type GoogleGenerator struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// GoogleConfig holds configuration for the Google generator.
type GoogleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// NewGoogleGenerator creates a Gemini generator.
func NewGoogleGenerator(cfg GoogleConfig) (*GoogleGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.InvalidInput("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, errors.InvalidInput("model is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, errors.Wrap(err, "create google client")
	}

	model := client.GenerativeModel(cfg.Model)
	if cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	}

	return &GoogleGenerator{
		client:    client,
		model:     model,
		modelName: cfg.Model,
	}, nil
}

// Close closes the underlying client.
func (g *GoogleGenerator) Close() error {
	return g.client.Close()
}

// Generate implements Generator.
func (g *GoogleGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var apiErr *googleapi.Error
		if stderrors.As(err, &apiErr) {
			return "", classify(ctx, "google", apiErr.Code, err)
		}
		return "", classify(ctx, "google", 0, err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.EmptyResult(Upstream, "gemini model "+g.modelName+" returned no text")
	}
	return b.String(), nil
}
