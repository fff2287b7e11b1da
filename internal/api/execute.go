package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

type executeRequest struct {
	Query string `json:"query"`
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_QUERY", executor.EmptyQueryMessage, nil)
		return
	}
	if s.deps.Executor == nil {
		notConfigured(r.Context(), w, "database")
		return
	}

	result := s.deps.Executor.Execute(r.Context(), req.Query)
	response := map[string]any{
		"success":    result.Success(),
		"result":     result.Payload(),
		"kind":       result.Kind,
		"query_type": sqlgen.QueryType(req.Query),
	}
	if result.Columns != nil {
		response["columns"] = result.Columns
	}
	if !result.Success() {
		response["error"] = result.Message
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		notConfigured(r.Context(), w, "database")
		return
	}
	info, err := s.deps.Executor.SchemaInfo(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "schema fetch failed", slog.Any("error", err))
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "schema": info})
}

func (s *server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		notConfigured(r.Context(), w, "database")
		return
	}
	message, err := s.deps.Executor.TestConnection(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Connection failed: "+err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}
