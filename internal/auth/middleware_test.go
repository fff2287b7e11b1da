package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:writer|reader, k2:analyst:Reader,,k3:deployer:writer")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}

	ops, ok := validator.Validate(context.Background(), "k1")
	if !ok || ops.Name != "ops" || len(ops.Roles) != 2 {
		t.Fatalf("ops = %+v, %v", ops, ok)
	}
	analyst, ok := validator.Validate(context.Background(), "k2")
	if !ok || !analyst.Can(RoleReader) || analyst.Can(RoleWriter) {
		t.Fatalf("analyst = %+v, %v", analyst, ok)
	}
	deployer, ok := validator.Validate(context.Background(), "k3")
	if !ok || !deployer.Can(RoleReader) || !deployer.Can(RoleWriter) {
		t.Fatalf("writer should imply reader: %+v", deployer)
	}
	if _, ok := validator.Validate(context.Background(), "k4"); ok {
		t.Fatal("unknown key should be rejected")
	}
}

func TestStaticAPIKeyValidatorEmptySpecAcceptsNothing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("  ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), ""); ok {
		t.Fatal("empty key should be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::reader", "k1:ops:", "k1:ops:admin", "k1:a:reader,k1:b:writer"} {
		_, err := NewStaticAPIKeyValidator(spec)
		if err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
		if strings.Contains(err.Error(), "k1") {
			t.Fatalf("error leaks the key: %v", err)
		}
	}
}

func TestMiddlewareRejectsMissingAndUnknownKeys(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	cases := []struct {
		name     string
		header   string
		value    string
		wantCode string
	}{
		{"no key", "", "", "MISSING_KEY"},
		{"empty bearer", "Authorization", "Bearer   ", "MISSING_KEY"},
		{"basic auth", "Authorization", "Basic azE6", "MISSING_KEY"},
		{"wrong key", "X-API-Key", "wrong", "INVALID_KEY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d", rr.Code)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["success"] != false || body["error_code"] != tc.wantCode {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestMiddlewareInjectsIdentityFromBearerToken(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	var got Identity
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	req.Header.Set("Authorization", "bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || got.Name != "ops" {
		t.Fatalf("status = %d, identity = %+v", rr.Code, got)
	}
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		role     Role
		identity *Identity
		want     int
	}{
		{"auth disabled", RoleWriter, nil, http.StatusNoContent},
		{"reader cannot write", RoleWriter, &Identity{Name: "analyst", Roles: []Role{RoleReader}}, http.StatusForbidden},
		{"writer writes", RoleWriter, &Identity{Name: "ops", Roles: []Role{RoleWriter}}, http.StatusNoContent},
		{"writer reads", RoleReader, &Identity{Name: "ops", Roles: []Role{RoleWriter}}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/execute", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
			}
			rr := httptest.NewRecorder()
			RequireRole(tc.role, inner).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}
