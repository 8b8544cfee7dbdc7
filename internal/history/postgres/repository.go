package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duckpad/duckpad/internal/history"
)

// maxStoredSQL bounds the stored query text; the UI accepts arbitrarily large
// input.
const maxStoredSQL = 16 * 1024

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) (history.Entry, error) {
	if strings.TrimSpace(entry.SQL) == "" {
		return history.Entry{}, fmt.Errorf("sql is required")
	}
	switch entry.Status {
	case history.StatusOK, history.StatusError:
	default:
		return history.Entry{}, fmt.Errorf("invalid status %q", entry.Status)
	}
	entry.SQL = truncateSQL(entry.SQL, maxStoredSQL)

	err := r.db.QueryRowContext(ctx, `
INSERT INTO query_history (sql_text, status, row_count, duration_ms, error_message, trace_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, executed_at`,
		entry.SQL,
		entry.Status,
		entry.RowCount,
		entry.DurationMs,
		nullableString(entry.ErrorMessage),
		nullableString(entry.TraceID),
	).Scan(&entry.ID, &entry.ExecutedAt)
	if err != nil {
		return history.Entry{}, fmt.Errorf("insert query history: %w", err)
	}
	return entry, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, sql_text, status, row_count, duration_ms, error_message, trace_id, executed_at
FROM query_history
ORDER BY executed_at DESC, id DESC
LIMIT $1`, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		var entry history.Entry
		var errorMessage, traceID sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.SQL,
			&entry.Status,
			&entry.RowCount,
			&entry.DurationMs,
			&errorMessage,
			&traceID,
			&entry.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		entry.ErrorMessage = errorMessage.String
		entry.TraceID = traceID.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries executed strictly before cutoff and returns how
// many were deleted.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM query_history WHERE executed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune query history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune query history rows affected: %w", err)
	}
	return deleted, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("history db ping: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var (
	_ history.Recorder = (*Repository)(nil)
	_ history.Pruner   = (*Repository)(nil)
)

// truncateSQL cuts text to at most limit bytes without splitting a rune.
func truncateSQL(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
