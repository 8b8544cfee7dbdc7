// Package history records executed queries.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("query history is disabled")

const (
	StatusOK    = "ok"
	StatusError = "error"

	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Entry struct {
	ID           int64     `json:"id"`
	SQL          string    `json:"sql"`
	Status       string    `json:"status"`
	RowCount     int       `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Pruner deletes entries older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClampLimit maps a requested page size into [1, MaxListLimit], using
// DefaultListLimit for non-positive values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
