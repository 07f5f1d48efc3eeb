package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults target Gemini through its OpenAI-compatible endpoint.
const (
	DefaultLLMBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultEmbeddingModel  = "text-embedding-004"
	DefaultCompletionModel = "gemini-2.5-pro"
	DefaultLLMTimeout      = 60 * time.Second
)

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	CompletionModel string
	Timeout         time.Duration
	MaxRetries      int
	// RequestDimensions sends Dimension as the "dimensions" parameter, for
	// models that can shorten their output.
	RequestDimensions bool
}

// OpenAIClient calls an OpenAI-compatible API for embeddings and chat
// completions. It implements RemoteEmbedder and Generator.
type OpenAIClient struct {
	client            openai.Client
	embeddingModel    string
	completionModel   string
	requestDimensions bool
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLLMBaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = DefaultCompletionModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	return &OpenAIClient{
		client:            client,
		embeddingModel:    cfg.EmbeddingModel,
		completionModel:   cfg.CompletionModel,
		requestDimensions: cfg.RequestDimensions,
	}, nil
}

func (c *OpenAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	if c.requestDimensions {
		params.Dimensions = openai.Int(Dimension)
	}
	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings response returned no vector")
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.completionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response had no choices", ErrGenerationFailure)
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailure)
	}
	return answer, nil
}
