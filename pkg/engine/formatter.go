package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/jsonutil"
	"github.com/clinsupply/insight-engine/pkg/llm"
	"github.com/clinsupply/insight-engine/pkg/models"
)

// Formatter turns an execution result into an insight response. It never
// errors: when the model pass is unavailable or fails, it degrades to a
// templated summary with empty lists.
type Formatter struct {
	client     llm.CompletionClient // nil when the model pass is disabled
	sampleRows int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewFormatter creates a formatter. Pass a nil client to disable the model
// pass entirely; sampleRows caps how many rows the prompt carries.
func NewFormatter(client llm.CompletionClient, sampleRows int, timeout time.Duration, logger *zap.Logger) *Formatter {
	if sampleRows <= 0 {
		sampleRows = 10
	}
	return &Formatter{
		client:     client,
		sampleRows: sampleRows,
		timeout:    timeout,
		logger:     logger.Named("formatter"),
	}
}

const formatterSystemMessage = "You are a data analyst for a clinical trial supply management system. You respond with valid JSON only."

// insightPayload mirrors the JSON structure requested from the model. KPI
// values are raw so numbers and booleans tolerate conversion to strings.
type insightPayload struct {
	Summary         string                 `json:"text_summary"`
	Insights        []string               `json:"insights"`
	Visualizations  []visualizationPayload `json:"visualizations"`
	Recommendations []string               `json:"recommendations"`
	KPIs            []kpiPayload           `json:"kpis"`
}

type visualizationPayload struct {
	ChartType   string `json:"chart_type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XAxis       string `json:"x_axis"`
	YAxis       string `json:"y_axis"`
	Recommended bool   `json:"recommended"`
}

type kpiPayload struct {
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
}

// Format interprets an execution result. Zero-row and error results
// short-circuit to the templated summary without a model call.
func (f *Formatter) Format(ctx context.Context, result *models.ExecutionResult, question string) models.InsightResponse {
	if f.client == nil || result.RowCount == 0 || result.Error != "" {
		return templatedResponse(result)
	}

	prompt := f.buildPrompt(result, question)

	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	reply, err := f.client.Complete(callCtx, prompt, formatterSystemMessage)
	if err != nil {
		f.logger.Warn("Insight completion failed, using templated summary", zap.Error(err))
		return templatedResponse(result)
	}

	payload, err := llm.ParseJSONResponse[insightPayload](reply)
	if err != nil {
		f.logger.Warn("Insight reply was not parseable JSON, using templated summary", zap.Error(err))
		return templatedResponse(result)
	}

	return f.toResponse(payload, result)
}

func (f *Formatter) buildPrompt(result *models.ExecutionResult, question string) string {
	sample := result.Rows
	if len(sample) > f.sampleRows {
		sample = sample[:f.sampleRows]
	}
	// Rows are normalized primitives; marshaling cannot fail.
	sampleJSON, _ := json.MarshalIndent(sample, "", "  ")

	return fmt.Sprintf(`USER QUESTION:
%s

QUERY RESULTS SUMMARY:
- Total rows returned: %d
- Sample data (first %d rows):
%s

SQL QUERY USED:
%s

TASK:
Analyze these results and respond with JSON of this exact structure:

{
  "text_summary": "A clear, concise summary of the results (2-3 sentences)",
  "insights": ["Key insight about the data", "..."],
  "visualizations": [
    {
      "chart_type": "bar|line|pie|table|scatter|heatmap",
      "title": "Chart title",
      "description": "What this chart shows",
      "x_axis": "column name for x-axis",
      "y_axis": "column name for y-axis",
      "recommended": true
    }
  ],
  "recommendations": ["Actionable recommendation", "..."],
  "kpis": [
    {
      "name": "KPI name",
      "value": "calculated value",
      "status": "good|warning|critical",
      "description": "What this KPI means"
    }
  ]
}

GUIDELINES:
- Be specific and data-driven.
- Recommend visualizations that best represent the data.
- Highlight concerning trends and positive outcomes.
- Use domain knowledge of clinical trial supply management.

Return ONLY valid JSON, no additional text or formatting.`,
		question, result.RowCount, len(sample), sampleJSON, result.SQLUsed)
}

func (f *Formatter) toResponse(payload insightPayload, result *models.ExecutionResult) models.InsightResponse {
	resp := models.InsightResponse{
		Summary:         payload.Summary,
		Insights:        payload.Insights,
		Recommendations: payload.Recommendations,
		Raw:             result,
	}
	if resp.Summary == "" {
		resp.Summary = summaryForRowCount(result.RowCount)
	}
	if resp.Insights == nil {
		resp.Insights = []string{}
	}
	if resp.Recommendations == nil {
		resp.Recommendations = []string{}
	}

	resp.Visualizations = make([]models.Visualization, 0, len(payload.Visualizations))
	for _, v := range payload.Visualizations {
		resp.Visualizations = append(resp.Visualizations, models.Visualization{
			ChartKind:   v.ChartType,
			Title:       v.Title,
			Description: v.Description,
			XAxis:       v.XAxis,
			YAxis:       v.YAxis,
			Recommended: v.Recommended,
		})
	}

	resp.KPIs = make([]models.KPI, 0, len(payload.KPIs))
	for _, k := range payload.KPIs {
		resp.KPIs = append(resp.KPIs, models.KPI{
			Name:        k.Name,
			Value:       jsonutil.FlexibleStringValue(k.Value),
			Status:      normalizeKPIStatus(k.Status),
			Description: k.Description,
		})
	}

	return resp
}

// templatedResponse is the model-free rendering: a summary derived from the
// row count, empty lists, and the raw result attached.
func templatedResponse(result *models.ExecutionResult) models.InsightResponse {
	return models.InsightResponse{
		Summary:         summaryForRowCount(result.RowCount),
		Insights:        []string{},
		Visualizations:  []models.Visualization{},
		Recommendations: []string{},
		KPIs:            []models.KPI{},
		Raw:             result,
	}
}

func summaryForRowCount(n int) string {
	switch n {
	case 0:
		return "The query returned no results."
	case 1:
		return "The query returned 1 result."
	default:
		return fmt.Sprintf("The query returned %d results.", n)
	}
}

func normalizeKPIStatus(s string) models.KPIStatus {
	switch models.KPIStatus(s) {
	case models.KPIStatusGood, models.KPIStatusWarning, models.KPIStatusCritical:
		return models.KPIStatus(s)
	default:
		return models.KPIStatusGood
	}
}
