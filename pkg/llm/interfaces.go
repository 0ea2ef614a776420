// Package llm provides completion-service clients for SQL generation and
// insight formatting.
package llm

import (
	"context"
)

// CompletionClient is the interface over the external completion service.
// Implementations are treated as opaque, potentially slow, potentially
// failing dependencies; callers absorb a single failure by degrading rather
// than retrying.
type CompletionClient interface {
	// Complete sends one prompt and returns the text completion.
	Complete(ctx context.Context, prompt string, systemMessage string) (string, error)

	// Model returns the configured model name.
	Model() string

	// Provider returns the provider identifier ("openai", "anthropic", ...).
	Provider() string
}
