package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides access to the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewAnthropicClient creates a client for the Anthropic API.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
		logger:      logger.Named("llm"),
	}, nil
}

// Complete implements CompletionClient.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, systemMessage string) (string, error) {
	c.logger.Debug("completion request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	temp := c.temperature

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		c.logger.Warn("completion request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("create messages: %w", err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	content := resp.GetFirstContentText()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty completion")
	}

	c.logger.Info("completion request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return content, nil
}

// Model implements CompletionClient.
func (c *AnthropicClient) Model() string { return c.model }

// Provider implements CompletionClient.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Ensure AnthropicClient implements CompletionClient at compile time.
var _ CompletionClient = (*AnthropicClient)(nil)
