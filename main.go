package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/audit"
	"github.com/clinsupply/insight-engine/pkg/config"
	"github.com/clinsupply/insight-engine/pkg/database"
	"github.com/clinsupply/insight-engine/pkg/engine"
	"github.com/clinsupply/insight-engine/pkg/handlers"
	"github.com/clinsupply/insight-engine/pkg/llm"
	"github.com/clinsupply/insight-engine/pkg/logging"
	"github.com/clinsupply/insight-engine/pkg/repositories"
	"github.com/clinsupply/insight-engine/pkg/retry"
	"github.com/clinsupply/insight-engine/pkg/schema"
	"github.com/clinsupply/insight-engine/pkg/sqlguard"
)

// Version is set at build time via ldflags.
var Version = "dev"

const migrationsPath = "migrations"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("llm_enabled", cfg.LLM.Enabled),
		zap.String("llm_provider", cfg.LLM.Provider))

	ctx := context.Background()

	// The database may come up after us; retry the initial connection.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	desc := schema.Clinical()
	logger.Info("Schema descriptor loaded",
		zap.Int("tables", len(desc.TableNames())),
		zap.String("table_prefix", desc.TablePrefix()))

	var client llm.CompletionClient
	if cfg.LLM.Enabled {
		client, err = llm.NewClient(cfg.LLM.Provider, &llm.Config{
			Endpoint:    cfg.LLM.Endpoint,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create completion client", zap.Error(err))
		}
		logger.Info("Completion client ready",
			zap.String("provider", client.Provider()),
			zap.String("model", client.Model()))
	} else {
		logger.Info("Model path disabled; using deterministic generation and templated insights")
	}

	queryLog := repositories.NewQueryLogRepository(db)

	deps := engine.OrchestratorDeps{
		Fallback:  engine.NewFallbackGenerator(desc, logger),
		Guard:     sqlguard.New(desc.TablePrefix()),
		Executor:  engine.NewExecutor(db, cfg.Engine.QueryTimeout(), logger),
		Formatter: engine.NewFormatter(client, cfg.Engine.SampleRows, cfg.LLM.Timeout(), logger),
		QueryLog:  queryLog,
		Auditor:   audit.NewSecurityAuditor(logger),
		RowLimit:  cfg.Engine.RowLimit,
	}
	if client != nil {
		deps.ModelGenerator = engine.NewLLMGenerator(client, desc, cfg.LLM.Timeout(), logger)
	}
	orch := engine.NewOrchestrator(deps, logger)

	mux := http.NewServeMux()
	handlers.NewQuestionsHandler(orch, queryLog, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
	}

	go func() {
		logger.Info("Starting insight-engine", zap.String("addr", addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runMigrations applies pending DDL through database/sql, which
// golang-migrate requires.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, migrationsPath, logger)
}
