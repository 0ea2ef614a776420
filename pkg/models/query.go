package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects whether a request touches the operational database.
type Mode string

const (
	// ModeLive executes the generated query against the real database.
	ModeLive Mode = "live"
	// ModeSimulated returns a fixed response shape without touching the database.
	ModeSimulated Mode = "simulated"
)

// Provenance records which strategy produced a generated query.
type Provenance string

const (
	ProvenanceModel    Provenance = "model"
	ProvenanceFallback Provenance = "fallback"
)

// QueryRequest is the per-call input to the query engine.
type QueryRequest struct {
	Question string `json:"question"`
	Mode     Mode   `json:"mode,omitempty"`
	// Filters map column-like keys to scalar values. They are applied as
	// equality predicates from an allow-listed key set, never as raw SQL.
	Filters map[string]any `json:"filters,omitempty"`
	// QueryTypeHint optionally biases fallback archetype selection.
	QueryTypeHint string `json:"query_type,omitempty"`
}

// GeneratedQuery is the output of a generation strategy. The SQL is never
// executed before passing the guardrail.
type GeneratedQuery struct {
	SQL            string     `json:"sql"`
	Provenance     Provenance `json:"provenance"`
	SourceQuestion string     `json:"source_question"`
}

// ExecutionResult carries the rows of an executed query, or the error that
// prevented execution. Error and non-empty Rows are mutually exclusive.
type ExecutionResult struct {
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	SQLUsed    string           `json:"sql_used"`
	Provenance Provenance       `json:"provenance,omitempty"`
	Mode       Mode             `json:"mode"`
	Error      string           `json:"error,omitempty"`
}

// Visualization is a chart recommendation produced by the insight formatter.
type Visualization struct {
	ChartKind   string `json:"chart_kind"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	XAxis       string `json:"x_axis,omitempty"`
	YAxis       string `json:"y_axis,omitempty"`
	Recommended bool   `json:"recommended"`
}

// KPIStatus classifies a KPI evaluation.
type KPIStatus string

const (
	KPIStatusGood     KPIStatus = "good"
	KPIStatusWarning  KPIStatus = "warning"
	KPIStatusCritical KPIStatus = "critical"
)

// KPI is a single KPI evaluation in an insight response.
type KPI struct {
	Name        string    `json:"name"`
	Value       string    `json:"value"`
	Status      KPIStatus `json:"status"`
	Description string    `json:"description,omitempty"`
}

// InsightResponse is the structured interpretation of an execution result.
// It is always constructible: when the model pass fails or is disabled, the
// lists are empty and Summary is derived from the row count alone.
type InsightResponse struct {
	Summary         string           `json:"summary"`
	Insights        []string         `json:"insights"`
	Visualizations  []Visualization  `json:"visualizations"`
	Recommendations []string         `json:"recommendations"`
	KPIs            []KPI            `json:"kpis"`
	Raw             *ExecutionResult `json:"raw"`
}

// QueryLogEntry is one row of the best-effort query audit trail.
type QueryLogEntry struct {
	ID         uuid.UUID  `json:"id"`
	Question   string     `json:"question"`
	SQL        string     `json:"sql"`
	Provenance Provenance `json:"provenance"`
	RowCount   int        `json:"row_count"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// QueryLogFilters narrows a query-log listing.
type QueryLogFilters struct {
	Since *time.Time
	Limit int
}
