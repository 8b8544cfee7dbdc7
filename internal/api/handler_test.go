package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duckpad/duckpad/internal/auth"
	"github.com/duckpad/duckpad/internal/config"
	"github.com/duckpad/duckpad/internal/history"
	"github.com/duckpad/duckpad/internal/query"
	"github.com/duckpad/duckpad/internal/storage"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: PingCheck("engine", func(context.Context) error {
			return errors.New("dependency down")
		}),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "engine: dependency down" {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DUCKPAD_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:query_reader,k2:bob:exporter|query_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	engine := &fakeQueryEngine{result: query.Result{Columns: []string{"x"}, Rows: [][]any{{int32(1)}}}}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Engine:         engine,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, jsonRequest(http.MethodPost, "/v1/query", `{"sql":"SELECT 1 AS x"}`))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := jsonRequest(http.MethodPost, "/v1/query", `{"sql":"SELECT 1 AS x"}`)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}

	readerExport := jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT 1 AS x"}`)
	readerExport.Header.Set("X-API-Key", "k1")
	readerResp := httptest.NewRecorder()
	h.ServeHTTP(readerResp, readerExport)
	if readerResp.Code != http.StatusForbidden {
		t.Fatalf("reader export status = %d", readerResp.Code)
	}

	exporterReq := jsonRequest(http.MethodPost, "/v1/exports", `{"sql":"SELECT 1 AS x"}`)
	exporterReq.Header.Set("X-API-Key", "k2")
	exporterResp := httptest.NewRecorder()
	h.ServeHTTP(exporterResp, exporterReq)
	if exporterResp.Code != http.StatusNotImplemented {
		t.Fatalf("exporter status = %d", exporterResp.Code)
	}

	healthResp := httptest.NewRecorder()
	h.ServeHTTP(healthResp, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if healthResp.Code != http.StatusOK {
		t.Fatalf("status route should stay public, got %d", healthResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DUCKPAD_AUTH_REQUIRED": "true"})
	engine := &fakeQueryEngine{}
	h := NewHandler(cfg, Dependencies{Engine: engine})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, jsonRequest(http.MethodPost, "/v1/query", `{"sql":"SELECT 1"}`))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if engine.calls() != 0 {
		t.Fatalf("engine calls = %d", engine.calls())
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestPingCheckNilPing(t *testing.T) {
	if PingCheck("history", nil) != nil {
		t.Fatal("expected nil check for nil ping")
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestStatusEndpoints(t *testing.T) {
	tests := []struct {
		name          string
		engine        QueryEngine
		wantConnected bool
		wantHTML      string
	}{
		{
			name:          "connected",
			engine:        &fakeQueryEngine{status: query.Status{Connected: true}},
			wantConnected: true,
			wantHTML:      "",
		},
		{
			name:          "init failed",
			engine:        &fakeQueryEngine{status: query.Status{Err: errors.New("no such file")}},
			wantConnected: false,
			wantHTML:      `<div class="error">Error initializing DuckDB: no such file</div>`,
		},
		{
			name:          "no engine",
			engine:        nil,
			wantConnected: false,
			wantHTML:      `<div class="error">Error initializing DuckDB: database connection not initialized</div>`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, nil), Dependencies{Engine: tc.engine})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["connected"] != tc.wantConnected {
				t.Fatalf("connected = %v", body["connected"])
			}

			htmlResp := httptest.NewRecorder()
			h.ServeHTTP(htmlResp, httptest.NewRequest(http.MethodGet, "/v1/status/html", nil))
			if got := htmlResp.Body.String(); got != tc.wantHTML {
				t.Fatalf("html = %q, want %q", got, tc.wantHTML)
			}
		})
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cfg, err := config.Load("duckpad", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(target, queryText string) *http.Request {
	form := "query=" + url.QueryEscape(queryText)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body = %s", err, rr.Body.String())
	}
	return body
}

type fakeQueryEngine struct {
	mu       sync.Mutex
	result   query.Result
	err      error
	status   query.Status
	requests []query.Request
}

func (f *fakeQueryEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	return f.result, f.err
}

func (f *fakeQueryEngine) Status() query.Status {
	return f.status
}

func (f *fakeQueryEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeRecorder struct {
	mu        sync.Mutex
	entries   []history.Entry
	recordErr error
	listErr   error
	lastLimit int
}

func (f *fakeRecorder) Record(_ context.Context, entry history.Entry) (history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return history.Entry{}, f.recordErr
	}
	entry.ID = int64(len(f.entries) + 1)
	entry.ExecutedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeRecorder) List(_ context.Context, limit int) ([]history.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]history.Entry, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

type fakeObjectStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	lastOpts   storage.PutOptions
	putErr     error
	presignErr error
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	f.lastOpts = opts
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://objects.example.com/" + key + "?sig=1", nil
}

func (f *fakeObjectStore) Ping(context.Context) error {
	return nil
}
