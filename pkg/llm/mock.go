package llm

import (
	"context"
)

// MockClient is a configurable mock for testing completion-backed paths.
// Set CompleteFunc to control behavior in tests.
type MockClient struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, returns empty string and nil error.
	CompleteFunc func(ctx context.Context, prompt string, systemMessage string) (string, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	// Call tracking for verification
	CompleteCalls int
	LastPrompt    string
	LastSystem    string
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{ModelName: "mock-model"}
}

// Complete implements CompletionClient.
func (m *MockClient) Complete(ctx context.Context, prompt string, systemMessage string) (string, error) {
	m.CompleteCalls++
	m.LastPrompt = prompt
	m.LastSystem = systemMessage
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt, systemMessage)
	}
	return "", nil
}

// Model implements CompletionClient.
func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Provider implements CompletionClient.
func (m *MockClient) Provider() string { return "mock" }

// Reset clears call tracking.
func (m *MockClient) Reset() {
	m.CompleteCalls = 0
	m.LastPrompt = ""
	m.LastSystem = ""
}

// Ensure MockClient implements CompletionClient at compile time.
var _ CompletionClient = (*MockClient)(nil)
