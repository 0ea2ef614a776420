package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/config"
	"github.com/clinsupply/insight-engine/pkg/database"
)

// HealthResponse contains service status and version information.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Environment string `json:"environment"`
	Database    string `json:"database"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     *database.DB
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(cfg *config.Config, db *database.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
}

// Health handles GET /api/health. It pings the database with a short
// deadline so a stuck pool reports as degraded instead of hanging the probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := "ok"

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Health check database ping failed", zap.Error(err))
			dbStatus = "unreachable"
			status = "degraded"
		}
	}

	response := HealthResponse{
		Status:      status,
		Version:     h.cfg.Version,
		Service:     "insight-engine",
		GoVersion:   runtime.Version(),
		Environment: h.cfg.Env,
		Database:    dbStatus,
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, code, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
