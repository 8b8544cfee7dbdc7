package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/duckpad/duckpad/internal/config"
	"github.com/duckpad/duckpad/internal/export"
	"github.com/duckpad/duckpad/internal/observability"
	"github.com/duckpad/duckpad/internal/storage"
)

type exportRequest struct {
	SQL string `json:"sql"`
}

type exportResponse struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	Rows int64  `json:"rows"`
	URL  string `json:"url,omitempty"`
}

func handleQueryExport(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	encoded, ok := runExport(deps, cfg, w, r)
	if !ok {
		return
	}
	observability.IncrementExport("download")

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="query-`+deps.NewID()+`.parquet"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(encoded.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded.Data)
}

func handleCreateExport(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "object store exports are not configured", false, nil)
		return
	}
	encoded, ok := runExport(deps, cfg, w, r)
	if !ok {
		return
	}

	key, err := storage.BuildExportPath(deps.Now(), deps.NewID())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_KEY_INVALID", err.Error(), false, nil)
		return
	}
	info, err := deps.Exports.Put(r.Context(), key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: export.ContentType,
		Metadata:    map[string]string{"rows": strconv.FormatInt(encoded.RowCount, 10)},
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_UPLOAD_FAILED", "failed to store export", true, map[string]any{"details": err.Error()})
		return
	}
	observability.IncrementExport("object_store")

	response := exportResponse{Key: info.Key, Size: info.Size, Rows: encoded.RowCount}
	downloadURL, err := deps.Exports.PresignGet(r.Context(), key, deps.ExportURLExpiry)
	if err != nil {
		observability.LoggerFromContext(r.Context(), deps.Logger).WarnContext(r.Context(), "presign export failed",
			slog.String("key", info.Key),
			slog.Any("error", err),
		)
	} else {
		response.URL = downloadURL
	}
	writeJSON(w, http.StatusCreated, response)
}

// runExport executes the requested query and encodes the full result. It
// writes the error response itself and reports whether the caller should
// continue.
func runExport(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) (export.Encoded, bool) {
	var request exportRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return export.Encoded{}, false
	}

	result, err := runQuery(r.Context(), cfg, deps, request.SQL, 0)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return export.Encoded{}, false
	}
	if result.Truncated {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "EXPORT_TOO_LARGE", "result exceeds the configured row limit", false, map[string]any{"max_rows": cfg.Engine.MaxRows})
		return export.Encoded{}, false
	}

	encoded, err := export.EncodeParquet(result)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "EXPORT_ENCODE_FAILED", "result cannot be exported", false, map[string]any{"details": err.Error()})
		return export.Encoded{}, false
	}
	return encoded, true
}
