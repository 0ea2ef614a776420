package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/audit"
	"github.com/clinsupply/insight-engine/pkg/logging"
	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/repositories"
	"github.com/clinsupply/insight-engine/pkg/sqlguard"
)

// Orchestrator composes generation, guarding, execution, and formatting into
// the two operations the call sites use. It holds no request-scoped state;
// one instance serves all requests.
type Orchestrator struct {
	modelGen  Generator // nil when the model path is disabled
	fallback  *FallbackGenerator
	guard     *sqlguard.Guard
	executor  QueryExecutor
	formatter *Formatter
	queryLog  repositories.QueryLogRepository // nil disables the audit trail
	auditor   *audit.SecurityAuditor
	rowLimit  int
	logger    *zap.Logger
}

// OrchestratorDeps collects the orchestrator's collaborators.
type OrchestratorDeps struct {
	ModelGenerator Generator
	Fallback       *FallbackGenerator
	Guard          *sqlguard.Guard
	Executor       QueryExecutor
	Formatter      *Formatter
	QueryLog       repositories.QueryLogRepository
	Auditor        *audit.SecurityAuditor
	RowLimit       int
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(deps OrchestratorDeps, logger *zap.Logger) *Orchestrator {
	rowLimit := deps.RowLimit
	if rowLimit <= 0 {
		rowLimit = 100
	}
	return &Orchestrator{
		modelGen:  deps.ModelGenerator,
		fallback:  deps.Fallback,
		guard:     deps.Guard,
		executor:  deps.Executor,
		formatter: deps.Formatter,
		queryLog:  deps.QueryLog,
		auditor:   deps.Auditor,
		rowLimit:  rowLimit,
		logger:    logger.Named("orchestrator"),
	}
}

// simulatedRow is the fixed response shape of simulated mode.
func simulatedRow() map[string]any {
	return map[string]any{
		"simulated": true,
		"message":   "Simulated mode response",
	}
}

// GenerateAndExecute answers one question end to end: validate the request,
// generate SQL (model first, deterministic fallback second), pass the
// guardrail, execute, and record the audit entry. Pipeline failures surface
// in ExecutionResult.Error; the returned error is reserved for invalid
// requests.
func (o *Orchestrator) GenerateAndExecute(ctx context.Context, req models.QueryRequest) (models.ExecutionResult, error) {
	if err := o.validateRequest(ctx, req); err != nil {
		return models.ExecutionResult{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ModeLive
	}

	if mode == models.ModeSimulated {
		return models.ExecutionResult{
			Rows:     []map[string]any{simulatedRow()},
			RowCount: 1,
			SQLUsed:  "",
			Mode:     models.ModeSimulated,
		}, nil
	}

	generated := o.generate(ctx, req)

	outcome := o.guard.Validate(generated.SQL)
	if !outcome.Accepted {
		o.logger.Warn("Guardrail rejected generated SQL",
			zap.String("provenance", string(generated.Provenance)),
			zap.String("reason", outcome.Reason))
		if o.auditor != nil {
			o.auditor.LogGuardrailRejection(req.Question, generated.SQL, outcome.Reason, clientIP(ctx))
		}
		result := models.ExecutionResult{
			Rows:       []map[string]any{},
			SQLUsed:    generated.SQL,
			Provenance: generated.Provenance,
			Mode:       mode,
			Error:      fmt.Sprintf("generated SQL rejected: %s", outcome.Reason),
		}
		o.recordQueryLog(ctx, req.Question, &result, 0)
		return result, nil
	}

	start := time.Now()
	result := o.executor.Execute(ctx, generated.SQL, o.rowLimit)
	duration := time.Since(start)

	result.Provenance = generated.Provenance
	result.Mode = mode

	if result.Error == "" {
		o.logger.Info("Question answered",
			zap.String("question", logging.SanitizeQuestion(req.Question)),
			zap.String("provenance", string(generated.Provenance)),
			zap.Int("row_count", result.RowCount),
			zap.Duration("duration", duration))
		if o.auditor != nil {
			o.auditor.LogQueryExecution(req.Question, string(generated.Provenance), result.RowCount, clientIP(ctx))
		}
	}

	o.recordQueryLog(ctx, req.Question, &result, duration)
	return result, nil
}

// FormatWithInsights delegates to the formatter.
func (o *Orchestrator) FormatWithInsights(ctx context.Context, result *models.ExecutionResult, question string) models.InsightResponse {
	return o.formatter.Format(ctx, result, question)
}

// validateRequest rejects requests the pipeline must not see: empty
// questions, non-scalar filter values, and filter values carrying injection
// patterns.
func (o *Orchestrator) validateRequest(ctx context.Context, req models.QueryRequest) error {
	if req.Question == "" {
		return fmt.Errorf("question must not be empty")
	}

	for key, value := range req.Filters {
		switch value.(type) {
		case string, bool, int, int32, int64, float32, float64, nil:
		default:
			return fmt.Errorf("filter %q must be a scalar value", key)
		}
	}

	for _, v := range sqlguard.CheckFilters(req.Filters) {
		if o.auditor != nil {
			o.auditor.LogInjectionAttempt(audit.InjectionDetails{
				FilterName:  v.FilterName,
				FilterValue: fmt.Sprintf("%v", v.FilterValue),
				Fingerprint: v.Fingerprint,
				Question:    req.Question,
			}, clientIP(ctx))
		}
		return fmt.Errorf("filter %q failed validation", v.FilterName)
	}

	return nil
}

// generate runs the model generator when configured and falls back to the
// deterministic generator on any failure. It is total by construction.
func (o *Orchestrator) generate(ctx context.Context, req models.QueryRequest) models.GeneratedQuery {
	if o.modelGen != nil {
		generated, err := o.modelGen.Generate(ctx, req.Question, req.Filters)
		if err == nil {
			return generated
		}
		o.logger.Warn("Model generation failed, using fallback",
			zap.String("question", logging.SanitizeQuestion(req.Question)),
			zap.Error(err))
	}

	generated, _ := o.fallback.GenerateWithHint(ctx, req.Question, req.QueryTypeHint, req.Filters)
	return generated
}

// recordQueryLog writes the audit entry. Best effort: a failed insert is
// logged and otherwise ignored.
func (o *Orchestrator) recordQueryLog(ctx context.Context, question string, result *models.ExecutionResult, duration time.Duration) {
	if o.queryLog == nil {
		return
	}

	entry := &models.QueryLogEntry{
		Question:   question,
		SQL:        result.SQLUsed,
		Provenance: result.Provenance,
		RowCount:   result.RowCount,
	}
	if duration > 0 {
		ms := duration.Milliseconds()
		entry.DurationMs = &ms
	}
	if result.Error != "" {
		errText := result.Error
		entry.Error = &errText
	}

	if err := o.queryLog.Create(ctx, entry); err != nil {
		o.logger.Warn("Failed to record query log entry", zap.Error(err))
	}
}

// ConfidenceScore is a coarse confidence heuristic reported to callers:
// model-generated SQL that produced rows scores highest, an empty fallback
// result lowest.
func ConfidenceScore(provenance models.Provenance, rowCount int) float64 {
	switch {
	case provenance == models.ProvenanceModel && rowCount > 0:
		return 0.9
	case provenance == models.ProvenanceModel:
		return 0.6
	case rowCount > 0:
		return 0.5
	default:
		return 0.3
	}
}
