package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewClient creates a completion client for the configured provider.
// Provider selection happens once at process start; business logic only
// sees the CompletionClient interface.
func NewClient(provider string, cfg *Config, logger *zap.Logger) (CompletionClient, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
