package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckpad/duckpad/internal/export"
	"github.com/duckpad/duckpad/internal/query"
)

func exportEngine() *fakeQueryEngine {
	return &fakeQueryEngine{result: query.Result{
		Columns: []string{"id", "name", "age"},
		Rows: [][]any{
			{int32(1), "John", int32(25)},
			{int32(2), "Jane", int32(30)},
		},
	}}
}

func TestQueryExportDownloadsParquet(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Engine: exportEngine(),
		NewID:  func() string { return "abc123" },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/query/export", `{"sql":"SELECT * FROM data"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != export.ContentType {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="query-abc123.parquet"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	data := rr.Body.Bytes()
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parquet.OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
}

func TestQueryExportRejectsTruncatedResults(t *testing.T) {
	engine := exportEngine()
	engine.result.Truncated = true
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: engine})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/query/export", `{"sql":"SELECT * FROM data"}`))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCreateExportNotConfigured(t *testing.T) {
	engine := exportEngine()
	h := NewHandler(loadConfig(t, nil), Dependencies{Engine: engine})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT * FROM data"}`))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if engine.calls() != 0 {
		t.Fatalf("engine calls = %d", engine.calls())
	}
}

func TestCreateExportStoresObject(t *testing.T) {
	store := &fakeObjectStore{}
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Engine:  exportEngine(),
		Exports: store,
		Now:     func() time.Time { return time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC) },
		NewID:   func() string { return "e1" },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT * FROM data"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	wantKey := "exports/date=2026-03-04/query-e1.parquet"
	if body["key"] != wantKey {
		t.Fatalf("key = %v", body["key"])
	}
	if body["rows"] != float64(2) {
		t.Fatalf("rows = %v", body["rows"])
	}
	if body["url"] != "https://objects.example.com/"+wantKey+"?sig=1" {
		t.Fatalf("url = %v", body["url"])
	}
	stored, ok := store.objects[wantKey]
	if !ok || len(stored) == 0 {
		t.Fatalf("object %q not stored", wantKey)
	}
	if body["size"] != float64(len(stored)) {
		t.Fatalf("size = %v, stored %d bytes", body["size"], len(stored))
	}
	if store.lastOpts.ContentType != "application/vnd.apache.parquet" || store.lastOpts.Metadata["rows"] != "2" {
		t.Fatalf("put options = %+v", store.lastOpts)
	}
}

func TestCreateExportFailures(t *testing.T) {
	t.Run("upload failure", func(t *testing.T) {
		h := NewHandler(loadConfig(t, nil), Dependencies{
			Engine:  exportEngine(),
			Exports: &fakeObjectStore{putErr: errors.New("bucket gone")},
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT * FROM data"}`))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("presign failure keeps export", func(t *testing.T) {
		h := NewHandler(loadConfig(t, nil), Dependencies{
			Engine:  exportEngine(),
			Exports: &fakeObjectStore{presignErr: errors.New("no credentials")},
		})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT * FROM data"}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d", rr.Code)
		}
		if _, ok := decodeBody(t, rr)["url"]; ok {
			t.Fatal("url should be omitted when presign fails")
		}
	})

	t.Run("blank sql", func(t *testing.T) {
		h := NewHandler(loadConfig(t, nil), Dependencies{Engine: exportEngine(), Exports: &fakeObjectStore{}})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/exports", `{"sql":" "}`))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
	})
}
