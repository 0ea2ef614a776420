package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/audit"
	"github.com/clinsupply/insight-engine/pkg/llm"
	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/repositories"
	"github.com/clinsupply/insight-engine/pkg/schema"
	"github.com/clinsupply/insight-engine/pkg/sqlguard"
)

// stubExecutor returns canned results and records the SQL it was given.
type stubExecutor struct {
	result   models.ExecutionResult
	lastSQL  string
	lastCap  int
	executed int
}

func (s *stubExecutor) Execute(_ context.Context, sqlText string, rowLimit int) models.ExecutionResult {
	s.executed++
	s.lastSQL = sqlText
	s.lastCap = rowLimit
	r := s.result
	r.SQLUsed = sqlText
	return r
}

var _ QueryExecutor = (*stubExecutor)(nil)

// memoryQueryLog collects audit entries in memory.
type memoryQueryLog struct {
	mu      sync.Mutex
	entries []*models.QueryLogEntry
	fail    bool
}

func (m *memoryQueryLog) Create(_ context.Context, entry *models.QueryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("log store unavailable")
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryQueryLog) List(_ context.Context, _ models.QueryLogFilters) ([]*models.QueryLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries, nil
}

var _ repositories.QueryLogRepository = (*memoryQueryLog)(nil)

type orchestratorFixture struct {
	orch     *Orchestrator
	model    *llm.MockClient
	executor *stubExecutor
	queryLog *memoryQueryLog
}

func newOrchestratorFixture(t *testing.T, modelEnabled bool) *orchestratorFixture {
	t.Helper()
	logger := zap.NewNop()

	mock := llm.NewMockClient()
	executor := &stubExecutor{
		result: models.ExecutionResult{
			Rows:     []map[string]any{{"count": 5}},
			RowCount: 1,
			Mode:     models.ModeLive,
		},
	}
	queryLog := &memoryQueryLog{}

	deps := OrchestratorDeps{
		Fallback:  NewFallbackGenerator(schema.Clinical(), logger),
		Guard:     sqlguard.New("gold_"),
		Executor:  executor,
		Formatter: NewFormatter(nil, 10, time.Second, logger),
		QueryLog:  queryLog,
		Auditor:   audit.NewSecurityAuditor(logger),
		RowLimit:  100,
	}
	if modelEnabled {
		deps.ModelGenerator = NewLLMGenerator(mock, schema.Clinical(), time.Second, logger)
	}

	return &orchestratorFixture{
		orch:     NewOrchestrator(deps, logger),
		model:    mock,
		executor: executor,
		queryLog: queryLog,
	}
}

func TestGenerateAndExecute_ModelPath(t *testing.T) {
	fx := newOrchestratorFixture(t, true)
	fx.model.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "SELECT count(*) AS count FROM gold_shipments WHERE shipment_status = 'delayed'", nil
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "How many shipments are delayed?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceModel, result.Provenance)
	assert.Equal(t, models.ModeLive, result.Mode)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, fx.executor.executed)
	assert.Equal(t, 100, fx.executor.lastCap)
}

func TestGenerateAndExecute_FallbackWhenModelDisabled(t *testing.T) {
	fx := newOrchestratorFixture(t, false)

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "How many shipments are in transit?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceFallback, result.Provenance)
	assert.Contains(t, fx.executor.lastSQL, "gold_shipments")
	assert.Empty(t, result.Error)
}

func TestGenerateAndExecute_FallbackWhenModelFails(t *testing.T) {
	fx := newOrchestratorFixture(t, true)
	fx.model.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "", fmt.Errorf("service unavailable")
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "Show me the inventory",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceFallback, result.Provenance)
	assert.Equal(t, 1, fx.model.CompleteCalls, "one model attempt, no retry")
	assert.Contains(t, fx.executor.lastSQL, "gold_inventory")
}

func TestGenerateAndExecute_GuardrailRejectsModelSQL(t *testing.T) {
	fx := newOrchestratorFixture(t, true)
	fx.model.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "SELECT * FROM gold_inventory; DROP TABLE gold_inventory", nil
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "show inventory",
	})
	require.NoError(t, err)

	assert.Contains(t, result.Error, "generated SQL rejected")
	assert.Contains(t, result.Error, "forbidden operation: DROP")
	assert.Contains(t, result.Error, "multiple SQL statements")
	assert.Empty(t, result.Rows)
	assert.Equal(t, 0, fx.executor.executed, "rejected SQL never executes")

	// Rejection still lands in the audit trail.
	entries, _ := fx.queryLog.List(context.Background(), models.QueryLogFilters{})
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Error)
}

func TestGenerateAndExecute_SimulatedMode(t *testing.T) {
	fx := newOrchestratorFixture(t, true)

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "anything at all",
		Mode:     models.ModeSimulated,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ModeSimulated, result.Mode)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, true, result.Rows[0]["simulated"])
	assert.Equal(t, 0, fx.model.CompleteCalls, "simulated mode never calls the model")
	assert.Equal(t, 0, fx.executor.executed, "simulated mode never touches the database")
}

func TestGenerateAndExecute_RequestValidation(t *testing.T) {
	fx := newOrchestratorFixture(t, false)

	tests := []struct {
		name string
		req  models.QueryRequest
	}{
		{"empty question", models.QueryRequest{Question: ""}},
		{"non-scalar filter", models.QueryRequest{
			Question: "q",
			Filters:  map[string]any{"ids": []string{"a", "b"}},
		}},
		{"injection in filter", models.QueryRequest{
			Question: "q",
			Filters:  map[string]any{"site_id": "' OR '1'='1"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.orch.GenerateAndExecute(context.Background(), tt.req)
			assert.Error(t, err)
			assert.Equal(t, 0, fx.executor.executed)
		})
	}
}

func TestGenerateAndExecute_QueryLogIsBestEffort(t *testing.T) {
	fx := newOrchestratorFixture(t, false)
	fx.queryLog.fail = true

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "inventory levels",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Error, "a failed audit insert never fails the request")
}

func TestGenerateAndExecute_RecordsQueryLogEntry(t *testing.T) {
	fx := newOrchestratorFixture(t, false)

	_, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "inventory levels",
	})
	require.NoError(t, err)

	entries, _ := fx.queryLog.List(context.Background(), models.QueryLogFilters{})
	require.Len(t, entries, 1)
	assert.Equal(t, "inventory levels", entries[0].Question)
	assert.Equal(t, models.ProvenanceFallback, entries[0].Provenance)
	assert.Contains(t, entries[0].SQL, "gold_inventory")
	assert.NotNil(t, entries[0].DurationMs)
	assert.Nil(t, entries[0].Error)
}

func TestFormatWithInsights_Delegates(t *testing.T) {
	fx := newOrchestratorFixture(t, false)

	result := &models.ExecutionResult{Rows: []map[string]any{}, RowCount: 0}
	got := fx.orch.FormatWithInsights(context.Background(), result, "q")

	assert.Equal(t, "The query returned no results.", got.Summary)
	assert.Same(t, result, got.Raw)
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		provenance models.Provenance
		rowCount   int
		want       float64
	}{
		{models.ProvenanceModel, 10, 0.9},
		{models.ProvenanceModel, 0, 0.6},
		{models.ProvenanceFallback, 10, 0.5},
		{models.ProvenanceFallback, 0, 0.3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceScore(tt.provenance, tt.rowCount))
	}
}

// End-to-end pipeline scenarios over the stub executor.

func TestScenario_FallbackCountQuestion(t *testing.T) {
	fx := newOrchestratorFixture(t, false)
	fx.executor.result = models.ExecutionResult{
		Rows:     []map[string]any{{"total_count": 7}},
		RowCount: 1,
		Mode:     models.ModeLive,
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "How many sites do we have in Germany?",
		Filters:  map[string]any{"country": "Germany"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ProvenanceFallback, result.Provenance)
	assert.Contains(t, fx.executor.lastSQL, "SELECT COUNT(*) AS total_count FROM gold_clinical_sites")
	assert.Contains(t, fx.executor.lastSQL, "country = 'Germany'")
	assert.Equal(t, 1, result.RowCount)
}

func TestScenario_BadColumnSurfacesAsExecutionError(t *testing.T) {
	fx := newOrchestratorFixture(t, true)
	fx.model.CompleteFunc = func(ctx context.Context, prompt, system string) (string, error) {
		return "SELECT no_such_column FROM gold_inventory", nil
	}
	fx.executor.result = models.ExecutionResult{
		Rows:  []map[string]any{},
		Error: `query execution failed: column "no_such_column" does not exist`,
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "show me no_such_column",
	})
	require.NoError(t, err, "execution failure is a result, not an error")

	assert.Contains(t, result.Error, "no_such_column")
	assert.Empty(t, result.Rows)

	// The failed result still formats.
	insights := fx.orch.FormatWithInsights(context.Background(), &result, "show me no_such_column")
	assert.Equal(t, "The query returned no results.", insights.Summary)
}

func TestScenario_ZeroRowFormatting(t *testing.T) {
	fx := newOrchestratorFixture(t, false)
	fx.executor.result = models.ExecutionResult{
		Rows:     []map[string]any{},
		RowCount: 0,
		Mode:     models.ModeLive,
	}

	result, err := fx.orch.GenerateAndExecute(context.Background(), models.QueryRequest{
		Question: "any temperature excursions today?",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.RowCount)

	insights := fx.orch.FormatWithInsights(context.Background(), &result, "any temperature excursions today?")
	assert.Equal(t, "The query returned no results.", insights.Summary)
	assert.Empty(t, insights.Insights)
}
