package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/vinayprograms/skillsynth/errors"
)

// OpenAIGenerator uses the official OpenAI SDK. Any OpenAI-compatible
// endpoint (LiteLLM, LM Studio, Groq) works through BaseURL.
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIConfig holds configuration for the OpenAI generator.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Optional custom endpoint
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewOpenAIGenerator creates an OpenAI generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.InvalidInput("api_key is required for openai")
	}
	if cfg.Model == "" {
		return nil, errors.InvalidInput("model is required for openai")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	// Retries belong to the resilience guard, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := openai.NewClient(opts...)
	return &OpenAIGenerator{
		client:    &client,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(g.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens: openai.Int(int64(g.maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) {
			return "", classify(ctx, "openai", apiErr.StatusCode, err)
		}
		return "", classify(ctx, "openai", 0, err)
	}

	var b strings.Builder
	for _, choice := range resp.Choices {
		b.WriteString(choice.Message.Content)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.EmptyResult(Upstream, fmt.Sprintf("openai model %s returned no text", g.model))
	}
	return b.String(), nil
}
