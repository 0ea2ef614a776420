// Package repositories provides data access for engine-owned tables.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinsupply/insight-engine/pkg/database"
	"github.com/clinsupply/insight-engine/pkg/models"
)

// QueryLogRepository persists the query audit trail.
type QueryLogRepository interface {
	Create(ctx context.Context, entry *models.QueryLogEntry) error
	List(ctx context.Context, filters models.QueryLogFilters) ([]*models.QueryLogEntry, error)
}

type queryLogRepository struct {
	db *database.DB
}

// NewQueryLogRepository creates a new QueryLogRepository.
func NewQueryLogRepository(db *database.DB) QueryLogRepository {
	return &queryLogRepository{db: db}
}

var _ QueryLogRepository = (*queryLogRepository)(nil)

func (r *queryLogRepository) Create(ctx context.Context, entry *models.QueryLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	sql := `
		INSERT INTO engine_query_log (
			id, question, sql_text, provenance, row_count, duration_ms, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, sql,
		entry.ID, entry.Question, entry.SQL, entry.Provenance,
		entry.RowCount, entry.DurationMs, entry.Error, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create query log entry: %w", err)
	}

	return nil
}

func (r *queryLogRepository) List(ctx context.Context, filters models.QueryLogFilters) ([]*models.QueryLogEntry, error) {
	sql := `
		SELECT id, question, sql_text, provenance, row_count, duration_ms, error, created_at
		FROM engine_query_log`

	var args []any
	if filters.Since != nil {
		sql += ` WHERE created_at >= $1`
		args = append(args, *filters.Since)
	}

	sql += ` ORDER BY created_at DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	sql += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list query log entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueryLogEntry
	for rows.Next() {
		var e models.QueryLogEntry
		if err := rows.Scan(
			&e.ID, &e.Question, &e.SQL, &e.Provenance,
			&e.RowCount, &e.DurationMs, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan query log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query log entries: %w", err)
	}

	return entries, nil
}
