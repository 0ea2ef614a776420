package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/database"
	"github.com/clinsupply/insight-engine/pkg/logging"
	"github.com/clinsupply/insight-engine/pkg/models"
)

// QueryExecutor runs guardrail-accepted SQL. Database failures are captured
// in the result, never returned: a failed execution is a recoverable outcome
// of the pipeline, not an error of it.
type QueryExecutor interface {
	Execute(ctx context.Context, sqlText string, rowLimit int) models.ExecutionResult
}

// trailingLimitPattern detects a LIMIT clause at the end of the statement.
var trailingLimitPattern = regexp.MustCompile(`(?is)\blimit\s+\d+\s*;?\s*$`)

// Executor executes read-only SQL on the operational pool.
type Executor struct {
	db      *database.DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor creates an executor. timeout bounds each query independently
// of the request deadline.
func NewExecutor(db *database.DB, timeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		db:      db,
		timeout: timeout,
		logger:  logger.Named("executor"),
	}
}

var _ QueryExecutor = (*Executor)(nil)

// Execute runs the statement with a row cap. Statements without their own
// trailing LIMIT are wrapped so the database never streams more than the cap;
// the materialization loop enforces the same cap as a second line of defense.
func (e *Executor) Execute(ctx context.Context, sqlText string, rowLimit int) models.ExecutionResult {
	result := models.ExecutionResult{
		Rows:    []map[string]any{},
		SQLUsed: sqlText,
		Mode:    models.ModeLive,
	}

	queryToRun := limitStatement(sqlText, rowLimit)

	queryCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.db.Query(queryCtx, queryToRun)
	if err != nil {
		e.logger.Warn("Query execution failed",
			zap.String("sql", logging.SanitizeSQL(sqlText)),
			zap.Error(err))
		result.Error = fmt.Sprintf("query execution failed: %s", logging.SanitizeError(err))
		return result
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	for rows.Next() {
		if rowLimit > 0 && len(result.Rows) >= rowLimit {
			break
		}

		values, err := rows.Values()
		if err != nil {
			result.Rows = []map[string]any{}
			result.Error = fmt.Sprintf("failed to read row values: %s", logging.SanitizeError(err))
			return result
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, rowMap)
	}

	if err := rows.Err(); err != nil {
		result.Rows = []map[string]any{}
		result.Error = fmt.Sprintf("query execution failed: %s", logging.SanitizeError(err))
		return result
	}

	result.RowCount = len(result.Rows)
	return result
}

// limitStatement applies the row cap to a statement. Trailing semicolons are
// stripped first: a statement ending in ";" cannot appear inside the wrapping
// subquery.
func limitStatement(sqlText string, rowLimit int) string {
	trimmed := strings.TrimRight(sqlText, "; \t\r\n")
	if trimmed == "" {
		return sqlText
	}
	if rowLimit <= 0 || trailingLimitPattern.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", trimmed, rowLimit)
}

// normalizeValue converts driver-specific cell values to transport-safe
// primitives so rows serialize cleanly and feed the formatter prompt.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case pgtype.Numeric:
		if f, err := val.Float64Value(); err == nil && f.Valid {
			return f.Float64
		}
		return nil
	case []byte:
		return string(val)
	default:
		return v
	}
}
