package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/duckpad/duckpad/internal/config"
	"github.com/duckpad/duckpad/internal/history"
	"github.com/duckpad/duckpad/internal/observability"
	"github.com/duckpad/duckpad/internal/query"
	"github.com/duckpad/duckpad/internal/render"
)

type queryRequest struct {
	SQL     string `json:"sql"`
	MaxRows int    `json:"max_rows"`
}

type queryResponse struct {
	Columns   []string   `json:"columns"`
	Rows      [][]any    `json:"rows"`
	Truncated bool       `json:"truncated"`
	Stats     queryStats `json:"stats"`
}

type queryStats struct {
	DurationMs int64 `json:"duration_ms"`
	RowCount   int   `json:"row_count"`
}

// runQuery is the single execution path shared by every query route. Blank
// input is rejected before the engine is touched.
func runQuery(ctx context.Context, cfg config.Config, deps Dependencies, sqlText string, maxRows int) (query.Result, error) {
	logger := observability.LoggerFromContext(ctx, deps.Logger)

	normalized, err := query.Normalize(sqlText)
	if err != nil {
		observability.ObserveQuery(observability.QueryOutcomeRejected, 0, false, 0)
		return query.Result{}, err
	}
	if deps.Engine == nil {
		observability.ObserveQuery(observability.QueryOutcomeNotReady, 0, false, 0)
		return query.Result{}, query.ErrNotConnected
	}

	limit := cfg.Engine.MaxRows
	if maxRows > 0 && (limit <= 0 || maxRows < limit) {
		limit = maxRows
	}

	execCtx := ctx
	if cfg.Engine.QueryTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Engine.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := deps.Engine.Execute(execCtx, query.Request{SQL: normalized, MaxRows: limit})
	elapsed := time.Since(start)

	entry := history.Entry{
		SQL:        normalized,
		DurationMs: elapsed.Milliseconds(),
		TraceID:    observability.TraceIDFromContext(ctx),
	}
	switch {
	case errors.Is(err, query.ErrNotConnected):
		observability.ObserveQuery(observability.QueryOutcomeNotReady, 0, false, elapsed)
		logger.WarnContext(ctx, "query rejected: engine not connected", slog.Any("error", err))
		return query.Result{}, err
	case err != nil:
		observability.ObserveQuery(observability.QueryOutcomeFailed, 0, false, elapsed)
		logger.InfoContext(ctx, "query failed", slog.Any("error", err))
		entry.Status = history.StatusError
		entry.ErrorMessage = err.Error()
	default:
		observability.ObserveQuery(observability.QueryOutcomeOK, len(result.Rows), result.Truncated, elapsed)
		entry.Status = history.StatusOK
		entry.RowCount = len(result.Rows)
	}
	recordHistory(ctx, deps, logger, entry)
	return result, err
}

func recordHistory(ctx context.Context, deps Dependencies, logger *slog.Logger, entry history.Entry) {
	if deps.History == nil {
		return
	}
	if _, err := deps.History.Record(ctx, entry); err != nil {
		observability.IncrementHistoryWriteFailure()
		logger.WarnContext(ctx, "query history write failed", slog.Any("error", err))
	}
}

func handleQueryJSON(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	var request queryRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.MaxRows < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAX_ROWS", "max_rows must be >= 0", false, nil)
		return
	}

	result, err := runQuery(r.Context(), cfg, deps, request.SQL, request.MaxRows)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   result.Columns,
		Rows:      jsonRows(result.Rows),
		Truncated: result.Truncated,
		Stats: queryStats{
			DurationMs: result.Duration.Milliseconds(),
			RowCount:   len(result.Rows),
		},
	})
}

func writeQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		writeError(ctx, w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
	case errors.Is(err, query.ErrNotConnected):
		writeError(ctx, w, http.StatusServiceUnavailable, "ENGINE_NOT_READY", err.Error(), true, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "query exceeded the configured timeout", true, nil)
	default:
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
	}
}

// handleQueryHTML serves the page's results area. The body is always an HTML
// fragment; the status code distinguishes failures.
func handleQueryHTML(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := r.ParseForm(); err != nil {
		writeHTML(w, http.StatusBadRequest, func(out io.Writer) error {
			return render.Error(out, render.QueryErrorTitle, err)
		})
		return
	}

	result, err := runQuery(r.Context(), cfg, deps, r.PostFormValue("query"), 0)
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		writeHTML(w, http.StatusBadRequest, func(out io.Writer) error {
			return render.Message(out, "error", render.EmptyQueryText)
		})
	case errors.Is(err, query.ErrNotConnected):
		writeHTML(w, http.StatusServiceUnavailable, func(out io.Writer) error {
			return render.Error(out, render.QueryErrorTitle, err)
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeHTML(w, http.StatusGatewayTimeout, func(out io.Writer) error {
			return render.Error(out, render.QueryErrorTitle, err)
		})
	case err != nil:
		writeHTML(w, http.StatusBadRequest, func(out io.Writer) error {
			return render.Error(out, render.QueryErrorTitle, err)
		})
	default:
		writeHTML(w, http.StatusOK, func(out io.Writer) error {
			return render.Result(out, result)
		})
	}
}

func writeHTML(w http.ResponseWriter, status int, fill func(io.Writer) error) {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
