package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient provides access to OpenAI-compatible completion endpoints.
type OpenAIClient struct {
	client      *openai.Client
	endpoint    string
	model       string
	temperature float64
	logger      *zap.Logger
}

// Config holds configuration for creating a completion client.
type Config struct {
	Endpoint    string // Base URL, e.g. "https://api.openai.com/v1"
	Model       string
	APIKey      string // Optional for local endpoints
	Temperature float64
	MaxTokens   int
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg *Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.Named("llm"),
	}, nil
}

// Complete implements CompletionClient.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, systemMessage string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	c.logger.Debug("completion request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(c.temperature),
	})
	if err != nil {
		c.logger.Warn("completion request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty completion")
	}

	c.logger.Info("completion request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return content, nil
}

// Model implements CompletionClient.
func (c *OpenAIClient) Model() string { return c.model }

// Provider implements CompletionClient.
func (c *OpenAIClient) Provider() string { return "openai" }

// Ensure OpenAIClient implements CompletionClient at compile time.
var _ CompletionClient = (*OpenAIClient)(nil)
