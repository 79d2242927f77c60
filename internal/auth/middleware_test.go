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
	validator, err := NewStaticAPIKeyValidator("k1:tenant-a:query_reader|admin, k2:tenant-b:query_reader|query_reader")
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
	if identity.TenantID != "tenant-a" {
		t.Fatalf("TenantID = %q", identity.TenantID)
	}
	if !identity.HasRole(RoleQueryReader) || !identity.HasRole("admin") {
		t.Fatalf("Roles = %#v", identity.Roles)
	}
	second, _ := validator.Validate(context.Background(), "k2")
	if len(second.Roles) != 1 {
		t.Fatalf("duplicate roles kept: %#v", second.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "missing"); ok {
		t.Fatal("unknown key should not validate")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::query_reader", "k1:t1:|", "k1:t1:a,k1:t2:b"} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error_code"] != "UNAUTHORIZED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}

	badKey := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	badKey.Header.Set("X-API-Key", "nope")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, badKey)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d", rr.Code)
	}
}

func TestMiddlewareInjectsIdentityFromBearerToken(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.TenantID != "t1" {
			t.Fatalf("TenantID = %q", identity.TenantID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}
