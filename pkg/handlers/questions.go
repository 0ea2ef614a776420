package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/engine"
	"github.com/clinsupply/insight-engine/pkg/logging"
	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/repositories"
)

// QuestionResponse is the ad-hoc Q&A payload: the raw execution result plus
// a confidence score.
type QuestionResponse struct {
	Result     models.ExecutionResult `json:"result"`
	Confidence float64                `json:"confidence"`
}

// SummaryResponse is the report payload: insights plus the recent query log.
type SummaryResponse struct {
	Insights      models.InsightResponse  `json:"insights"`
	Confidence    float64                 `json:"confidence"`
	RecentQueries []*models.QueryLogEntry `json:"recent_queries,omitempty"`
}

// QuestionsHandler serves the three question-answering endpoints. All of
// them route through the orchestrator's two operations.
type QuestionsHandler struct {
	orch     *engine.Orchestrator
	queryLog repositories.QueryLogRepository
	logger   *zap.Logger
}

// NewQuestionsHandler creates a new questions handler.
func NewQuestionsHandler(orch *engine.Orchestrator, queryLog repositories.QueryLogRepository, logger *zap.Logger) *QuestionsHandler {
	return &QuestionsHandler{
		orch:     orch,
		queryLog: queryLog,
		logger:   logger.Named("questions_handler"),
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *QuestionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/questions", h.AskQuestion)
	mux.HandleFunc("POST /api/analytics/query", h.AnalyticsQuery)
	mux.HandleFunc("POST /api/reports/summary", h.ReportSummary)
}

// AskQuestion handles POST /api/questions: generate, guard, and execute,
// returning raw rows without the insight pass.
func (h *QuestionsHandler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx := engine.WithClientIP(r.Context(), r.RemoteAddr)
	result, err := h.orch.GenerateAndExecute(ctx, req)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	h.writeResult(w, QuestionResponse{
		Result:     result,
		Confidence: engine.ConfidenceScore(result.Provenance, result.RowCount),
	})
}

// AnalyticsQuery handles POST /api/analytics/query: like AskQuestion, but the
// result is interpreted by the insight formatter.
func (h *QuestionsHandler) AnalyticsQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx := engine.WithClientIP(r.Context(), r.RemoteAddr)
	result, err := h.orch.GenerateAndExecute(ctx, req)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	insights := h.orch.FormatWithInsights(ctx, &result, req.Question)
	h.writeResult(w, SummaryResponse{
		Insights:   insights,
		Confidence: engine.ConfidenceScore(result.Provenance, result.RowCount),
	})
}

// ReportSummary handles POST /api/reports/summary: the analytics pipeline
// plus the recent query-log entries for context.
func (h *QuestionsHandler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx := engine.WithClientIP(r.Context(), r.RemoteAddr)
	result, err := h.orch.GenerateAndExecute(ctx, req)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	insights := h.orch.FormatWithInsights(ctx, &result, req.Question)

	resp := SummaryResponse{
		Insights:   insights,
		Confidence: engine.ConfidenceScore(result.Provenance, result.RowCount),
	}

	if h.queryLog != nil {
		since := time.Now().Add(-24 * time.Hour)
		entries, err := h.queryLog.List(ctx, models.QueryLogFilters{Since: &since, Limit: 20})
		if err != nil {
			h.logger.Warn("Failed to list recent queries for report", zap.Error(err))
		} else {
			resp.RecentQueries = entries
		}
	}

	h.writeResult(w, resp)
}

func (h *QuestionsHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return req, false
	}
	if req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_question", "question is required")
		return req, false
	}

	h.logger.Debug("Received question",
		zap.String("question", logging.SanitizeQuestion(req.Question)),
		zap.String("mode", string(req.Mode)))

	return req, true
}

func (h *QuestionsHandler) writeResult(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
