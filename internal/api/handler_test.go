package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sqlgpt/sqlgpt/internal/auth"
	"github.com/sqlgpt/sqlgpt/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["service"] != "sqlgpt" {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false || body["error"] != "dependency down" || body["trace_id"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuthAndRole(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLGPT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("r1:analyst:reader,w1:ops:reader|writer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	exec := &fakeExecutor{}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Executor:       exec,
		Browser:        &fakeBrowser{},
	})

	cases := []struct {
		name   string
		method string
		target string
		body   string
		key    string
		want   int
	}{
		{"no key", http.MethodGet, "/api/browser/schemas", "", "", http.StatusUnauthorized},
		{"reader reads", http.MethodGet, "/api/browser/schemas", "", "r1", http.StatusOK},
		{"reader cannot execute", http.MethodPost, "/api/execute", `{"query":"SELECT 1"}`, "r1", http.StatusForbidden},
		{"writer executes", http.MethodPost, "/api/execute", `{"query":"SELECT 1"}`, "w1", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
	if len(exec.statements) != 1 {
		t.Fatalf("executed statements = %v", exec.statements)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLGPT_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Browser: &fakeBrowser{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/browser/schemas", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestReadinessChecks(t *testing.T) {
	if err := CheckDatabase(fakePinger{err: errors.New("refused")})(context.Background()); err == nil {
		t.Fatal("expected database check to fail")
	}
	if err := CheckDatabase(fakePinger{})(context.Background()); err != nil {
		t.Fatalf("CheckDatabase() error = %v", err)
	}

	disabled := loadConfig(t, nil)
	if err := CheckObjectStore(disabled, nil)(context.Background()); err != nil {
		t.Fatalf("disabled archive should be ready, got %v", err)
	}
	enabled := loadConfig(t, map[string]string{"SQLGPT_ARCHIVE_ENABLED": "true"})
	if err := CheckObjectStore(enabled, nil)(context.Background()); err == nil {
		t.Fatal("expected error without object store client")
	}
	if err := CheckObjectStore(enabled, fakePinger{})(context.Background()); err != nil {
		t.Fatalf("CheckObjectStore() error = %v", err)
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
	if rr.Code != http.StatusOK || rr.Body.String() != "<html>ok</html>" {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestMissingDependenciesReportNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	for _, target := range []string{"/api/schema", "/api/test-connection", "/api/browser/tables"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: status = %d", target, rr.Code)
		}
		if body := decodeBody(t, rr); body["success"] != false {
			t.Fatalf("%s: body = %v", target, body)
		}
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cfg, err := config.Load("sqlgpt", mapLookup(values))
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

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v, body=%s", err, rr.Body.String())
	}
	return body
}
