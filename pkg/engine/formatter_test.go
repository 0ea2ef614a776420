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
)

func newTestFormatter(client llm.CompletionClient) *Formatter {
	return NewFormatter(client, 10, time.Second, zap.NewNop())
}

func resultWithRows(n int) *models.ExecutionResult {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"site_id": fmt.Sprintf("SITE-%03d", i), "quantity_available": i}
	}
	return &models.ExecutionResult{
		Rows:     rows,
		RowCount: n,
		SQLUsed:  "SELECT site_id, quantity_available FROM gold_inventory",
		Mode:     models.ModeLive,
	}
}

const insightReply = `{
  "text_summary": "Three sites are running low on stock.",
  "insights": ["SITE-000 has zero units available"],
  "visualizations": [
    {"chart_type": "bar", "title": "Stock by site", "description": "Available units per site",
     "x_axis": "site_id", "y_axis": "quantity_available", "recommended": true}
  ],
  "recommendations": ["Schedule a resupply shipment for SITE-000"],
  "kpis": [
    {"name": "Sites below threshold", "value": 3, "status": "warning", "description": "Sites under 10 units"}
  ]
}`

func TestFormatter_ModelPath(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return insightReply, nil
	}
	f := newTestFormatter(mock)

	result := resultWithRows(3)
	got := f.Format(context.Background(), result, "Which sites are low on stock?")

	assert.Equal(t, "Three sites are running low on stock.", got.Summary)
	require.Len(t, got.Visualizations, 1)
	assert.Equal(t, "bar", got.Visualizations[0].ChartKind)
	assert.True(t, got.Visualizations[0].Recommended)
	require.Len(t, got.KPIs, 1)
	assert.Equal(t, "3", got.KPIs[0].Value, "numeric KPI value converts to string")
	assert.Equal(t, models.KPIStatusWarning, got.KPIs[0].Status)
	assert.Same(t, result, got.Raw)
}

func TestFormatter_PromptCarriesSampleAndSQL(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return insightReply, nil
	}
	f := NewFormatter(mock, 2, time.Second, zap.NewNop())

	f.Format(context.Background(), resultWithRows(5), "low stock?")

	assert.Contains(t, mock.LastPrompt, "Total rows returned: 5")
	assert.Contains(t, mock.LastPrompt, "first 2 rows")
	assert.Contains(t, mock.LastPrompt, "SELECT site_id, quantity_available FROM gold_inventory")
	assert.Contains(t, mock.LastPrompt, "SITE-001")
	assert.NotContains(t, mock.LastPrompt, "SITE-004", "rows beyond the sample cap stay out of the prompt")
}

func TestFormatter_ZeroRowsShortCircuits(t *testing.T) {
	mock := llm.NewMockClient()
	f := newTestFormatter(mock)

	got := f.Format(context.Background(), resultWithRows(0), "anything?")

	assert.Equal(t, "The query returned no results.", got.Summary)
	assert.Empty(t, got.Insights)
	assert.Empty(t, got.Visualizations)
	assert.Equal(t, 0, mock.CompleteCalls, "no model call for zero rows")
}

func TestFormatter_ErrorResultShortCircuits(t *testing.T) {
	mock := llm.NewMockClient()
	f := newTestFormatter(mock)

	result := &models.ExecutionResult{Rows: []map[string]any{}, Error: "query execution failed: boom"}
	got := f.Format(context.Background(), result, "anything?")

	assert.Equal(t, "The query returned no results.", got.Summary)
	assert.Equal(t, 0, mock.CompleteCalls)
}

func TestFormatter_DisabledModelUsesTemplate(t *testing.T) {
	f := newTestFormatter(nil)

	got := f.Format(context.Background(), resultWithRows(7), "anything?")

	assert.Equal(t, "The query returned 7 results.", got.Summary)
	assert.NotNil(t, got.Insights)
	assert.NotNil(t, got.Recommendations)
}

func TestFormatter_DegradesOnModelFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"call failure", "", fmt.Errorf("timeout")},
		{"unparseable reply", "sorry, I can only answer in prose", nil},
		{"truncated json", `{"text_summary": "unterminated`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient()
			mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
				return tt.reply, tt.err
			}
			f := newTestFormatter(mock)

			got := f.Format(context.Background(), resultWithRows(2), "anything?")

			assert.Equal(t, "The query returned 2 results.", got.Summary)
			assert.Empty(t, got.Insights)
			assert.Empty(t, got.KPIs)
		})
	}
}

func TestFormatter_UnknownKPIStatusNormalized(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return `{"text_summary": "s", "kpis": [{"name": "k", "value": "1", "status": "excellent"}]}`, nil
	}
	f := newTestFormatter(mock)

	got := f.Format(context.Background(), resultWithRows(1), "q")
	require.Len(t, got.KPIs, 1)
	assert.Equal(t, models.KPIStatusGood, got.KPIs[0].Status)
}
