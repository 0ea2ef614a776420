package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for insight-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables; environment variables override YAML values. Secrets (database
// password, LLM API key) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Engine   EngineConfig   `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL configuration for the operational database.
// The engine's credentials are expected to be read-only; the guardrail is
// defense in depth on top of that, not a substitute for it.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"insight"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"trial_supply"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// LLMConfig holds completion-service configuration. When Enabled is false
// (or no API key/endpoint is configured) the engine behaves exactly as if
// every model call had failed: generation uses the deterministic fallback
// and the insight pass returns the templated summary.
type LLMConfig struct {
	Enabled        bool    `yaml:"enabled" env:"LLM_ENABLED" env-default:"true"`
	Provider       string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // openai | anthropic
	Endpoint       string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model          string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey         string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"30"`
	MaxTokens      int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2048"`
}

// EngineConfig bounds per-request resource use.
type EngineConfig struct {
	// RowLimit caps materialized result rows regardless of the query's true size.
	RowLimit int `yaml:"row_limit" env:"ENGINE_ROW_LIMIT" env-default:"100"`
	// SampleRows bounds how many result rows are embedded in the insight prompt.
	SampleRows int `yaml:"sample_rows" env:"ENGINE_SAMPLE_ROWS" env-default:"10"`
	// QueryTimeoutSeconds bounds a single database query.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"ENGINE_QUERY_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the completion-call timeout as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueryTimeout returns the database query timeout as a duration.
func (c *EngineConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// Load reads configuration from the given YAML file with environment
// variable overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.RowLimit <= 0 {
		return fmt.Errorf("engine row_limit must be positive, got %d", c.Engine.RowLimit)
	}
	if c.Engine.SampleRows <= 0 {
		return fmt.Errorf("engine sample_rows must be positive, got %d", c.Engine.SampleRows)
	}
	if c.LLM.Enabled {
		switch c.LLM.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
