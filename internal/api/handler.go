// Package api serves the JSON endpoints behind the web UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlgpt/sqlgpt/internal/auth"
	"github.com/sqlgpt/sqlgpt/internal/browser"
	"github.com/sqlgpt/sqlgpt/internal/config"
	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
)

const maxRequestBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

type Processor interface {
	Process(ctx context.Context, prompt string) pipeline.Outcome
}

type Refiner interface {
	Refine(ctx context.Context, in intent.Intent, feedback string) (intent.Intent, error)
}

type StatementExecutor interface {
	Execute(ctx context.Context, statement string, args ...any) executor.Result
	TestConnection(ctx context.Context) (string, error)
	SchemaInfo(ctx context.Context) (executor.SchemaInfo, error)
}

type SchemaBrowser interface {
	Schemas(ctx context.Context) ([]string, error)
	Tables(ctx context.Context) ([]browser.Table, error)
	TableStructure(ctx context.Context, schema, table string) ([]browser.Column, error)
	TableData(ctx context.Context, req browser.TableDataRequest) (browser.TablePage, error)
	TableCount(ctx context.Context, schema, table string) (int64, error)
	Export(ctx context.Context, schema, table string) (browser.ExportResult, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Processor
	Refiner           Refiner
	Executor          StatementExecutor
	Browser           SchemaBrowser
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	s := &server{cfg: cfg, deps: deps, logger: observability.OrDiscard(deps.Logger)}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	routes := []struct {
		pattern string
		role    auth.Role
		handler http.HandlerFunc
	}{
		{"POST /api/process", auth.RoleWriter, s.handleProcess},
		{"POST /api/refine", auth.RoleWriter, s.handleRefine},
		{"POST /api/execute", auth.RoleWriter, s.handleExecute},
		{"GET /api/schema", auth.RoleReader, s.handleSchema},
		{"GET /api/test-connection", auth.RoleReader, s.handleTestConnection},
		{"GET /api/browser/schemas", auth.RoleReader, s.handleSchemas},
		{"GET /api/browser/tables", auth.RoleReader, s.handleTables},
		{"GET /api/browser/table/structure", auth.RoleReader, s.handleTableStructure},
		{"GET /api/browser/table/data", auth.RoleReader, s.handleTableData},
		{"POST /api/browser/table/export", auth.RoleWriter, s.handleTableExport},
	}
	guard := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			s.logger.Error("auth required but auth middleware missing")
			guard = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", nil)
				})
			}
		} else {
			guard = deps.AuthMiddleware
		}
	}
	for _, route := range routes {
		mux.Handle(route.pattern, guard(auth.RequireRole(route.role, route.handler)))
	}

	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

type server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
}

// CheckDatabase reports the target database as ready when it answers a ping.
func CheckDatabase(pinger interface{ Ping(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return errors.New("database is not configured")
		}
		return pinger.Ping(ctx)
	}
}

// CheckObjectStore is a no-op unless archiving is enabled.
func CheckObjectStore(cfg config.Config, pinger interface{ Ping(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if !cfg.Archive.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		if pinger == nil {
			return errors.New("object store is not connected")
		}
		return pinger.Ping(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// decodeJSON reads the request body into dst and answers 400 when it is
// missing or malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "No data received", nil)
			return false
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request: "+err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	payload := map[string]any{
		"success":    false,
		"error":      message,
		"error_code": code,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
	for key, value := range extra {
		payload[key] = value
	}
	writeJSON(w, status, payload)
}

func notConfigured(ctx context.Context, w http.ResponseWriter, what string) {
	writeError(ctx, w, http.StatusNotImplemented, "NOT_CONFIGURED", what+" is not configured", nil)
}
