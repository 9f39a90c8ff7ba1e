package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"studycards/internal/config"
)

// ChatBackend sends a single system + user exchange to a language model and
// returns the raw text of the reply.
type ChatBackend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// NewChatBackend builds the backend selected by cfg.Provider. It returns
// (nil, nil) when the OpenAI provider has no API key, which leaves
// generation disabled rather than failing startup.
func NewChatBackend(cfg config.LLMConfig) (ChatBackend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, nil
		}
		return newOpenAIBackend(cfg), nil
	case config.ProviderOllama:
		backend, err := newOllamaBackend(cfg)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type openAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAIBackend(cfg config.LLMConfig) *openAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

func (b *openAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("request openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type ollamaBackend struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

func newOllamaBackend(cfg config.LLMConfig) (*ollamaBackend, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &ollamaBackend{
		llm:         llm,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (b *ollamaBackend) Complete(ctx context.Context, system, user string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}
	resp, err := b.llm.GenerateContent(ctx, content,
		llms.WithTemperature(b.temperature),
		llms.WithMaxTokens(b.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("request ollama completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ollama returned no choices")
	}
	return resp.Choices[0].Content, nil
}
