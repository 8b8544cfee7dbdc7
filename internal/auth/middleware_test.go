package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:exporter|query_reader, k2:bob:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if validator.Len() != 2 {
		t.Fatalf("Len() = %d", validator.Len())
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Name != "alice" {
		t.Fatalf("Name = %q", identity.Name)
	}
	if !identity.HasRole(RoleExporter) || !identity.HasRole(RoleQueryReader) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("unknown key should not validate")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::query_reader", "k1:alice:", "k1:a:r,k1:b:r"} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestStaticAPIKeyValidatorEmptySpec(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("  ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if validator.Len() != 0 {
		t.Fatalf("Len() = %d", validator.Len())
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error_code"] != "UNAUTHORIZED" {
		t.Fatalf("error_code = %v", payload["error_code"])
	}
}

func TestMiddlewareRejectsUnknownKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMiddlewareInjectsIdentityFromBearer(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Name != "alice" {
			t.Fatalf("Name = %q", identity.Name)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(RoleExporter)(next)

	tests := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{name: "no identity", identity: nil, want: http.StatusNoContent},
		{name: "missing role", identity: &Identity{Name: "bob", Roles: []string{RoleQueryReader}}, want: http.StatusForbidden},
		{name: "has role", identity: &Identity{Name: "alice", Roles: []string{RoleExporter}}, want: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/exports", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{name: "x-api-key", header: map[string]string{"X-API-Key": " k1 "}, want: "k1"},
		{name: "x-api-key wins", header: map[string]string{"X-API-Key": "k1", "Authorization": "Bearer k2"}, want: "k1"},
		{name: "bearer", header: map[string]string{"Authorization": "Bearer k2"}, want: "k2"},
		{name: "lowercase scheme", header: map[string]string{"Authorization": "bearer k2"}, want: "k2"},
		{name: "basic scheme", header: map[string]string{"Authorization": "Basic azE6"}, want: ""},
		{name: "scheme only", header: map[string]string{"Authorization": "Bearer"}, want: ""},
		{name: "none", header: nil, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			for key, value := range tc.header {
				header.Set(key, value)
			}
			if got := extractAPIKey(header); got != tc.want {
				t.Fatalf("extractAPIKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeniedResponsesCarryEnvelope(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:bob:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(nil, validator)(RequireRole(RoleExporter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	unauth := httptest.NewRecorder()
	handler.ServeHTTP(unauth, httptest.NewRequest(http.MethodPost, "/v1/exports", nil))
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", unauth.Code)
	}
	if got := unauth.Header().Get("WWW-Authenticate"); got != `Bearer realm="duckpad"` {
		t.Fatalf("WWW-Authenticate = %q", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/exports", nil)
	req.Header.Set("X-API-Key", "k1")
	forbidden := httptest.NewRecorder()
	handler.ServeHTTP(forbidden, req)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("status = %d", forbidden.Code)
	}
	if forbidden.Header().Get("WWW-Authenticate") != "" {
		t.Fatal("forbidden response should not ask for credentials")
	}
	var payload map[string]any
	if err := json.Unmarshal(forbidden.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error_code"] != "FORBIDDEN" || payload["message"] != "missing role exporter" {
		t.Fatalf("payload = %#v", payload)
	}
}
