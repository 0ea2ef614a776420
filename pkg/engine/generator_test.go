package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/llm"
	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/schema"
)

func newTestLLMGenerator(client *llm.MockClient) *LLMGenerator {
	return NewLLMGenerator(client, schema.Clinical(), time.Second, zap.NewNop())
}

func TestLLMGenerator_Generate(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "SELECT * FROM gold_inventory WHERE quantity_available < 10", nil
	}
	g := newTestLLMGenerator(mock)

	got, err := g.Generate(context.Background(), "Which sites are low on stock?", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceModel, got.Provenance)
	assert.Equal(t, "SELECT * FROM gold_inventory WHERE quantity_available < 10", got.SQL)
	assert.Equal(t, "Which sites are low on stock?", got.SourceQuestion)
	assert.Equal(t, 1, mock.CompleteCalls)
}

func TestLLMGenerator_PromptCarriesSchemaAndFilters(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "SELECT 1", nil
	}
	g := newTestLLMGenerator(mock)

	_, err := g.Generate(context.Background(), "How many shipments?", map[string]any{"study_id": "STU-001"})
	require.NoError(t, err)

	assert.Contains(t, mock.LastPrompt, "gold_shipments")
	assert.Contains(t, mock.LastPrompt, "How many shipments?")
	assert.Contains(t, mock.LastPrompt, "study_id = STU-001")
	assert.Contains(t, mock.LastPrompt, "Return ONLY the SQL query")
}

func TestLLMGenerator_StripsCodeFences(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "```sql\nSELECT count(*) FROM gold_subjects\n```", nil
	}
	g := newTestLLMGenerator(mock)

	got, err := g.Generate(context.Background(), "How many subjects?", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM gold_subjects", got.SQL)
}

func TestLLMGenerator_ExtractsSQLFromProse(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "Here is the query you asked for:\nSELECT site_id FROM gold_clinical_sites; hope this helps!", nil
	}
	g := newTestLLMGenerator(mock)

	got, err := g.Generate(context.Background(), "List sites", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT site_id FROM gold_clinical_sites", got.SQL)
}

func TestLLMGenerator_ErrorsPropagate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"completion failure", "", fmt.Errorf("service unavailable")},
		{"empty completion", "", nil},
		{"no sql in reply", "I cannot answer that question.", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient()
			mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
				return tt.reply, tt.err
			}
			g := newTestLLMGenerator(mock)

			_, err := g.Generate(context.Background(), "question", nil)
			assert.Error(t, err)
		})
	}
}

func TestExtractSQL_AcceptsCTE(t *testing.T) {
	got, err := extractSQL("WITH x AS (SELECT 1) SELECT * FROM x")
	require.NoError(t, err)
	assert.Equal(t, "WITH x AS (SELECT 1) SELECT * FROM x", got)
}
