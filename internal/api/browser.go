package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/browser"
)

type exportRequest struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func (s *server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if s.deps.Browser == nil {
		notConfigured(r.Context(), w, "database browser")
		return
	}
	schemas, err := s.deps.Browser.Schemas(r.Context())
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "schemas": schemas})
}

func (s *server) handleTables(w http.ResponseWriter, r *http.Request) {
	if s.deps.Browser == nil {
		notConfigured(r.Context(), w, "database browser")
		return
	}
	tables, err := s.deps.Browser.Tables(r.Context())
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tables": tables})
}

func (s *server) handleTableStructure(w http.ResponseWriter, r *http.Request) {
	table, schema, ok := tableParams(w, r)
	if !ok {
		return
	}
	if s.deps.Browser == nil {
		notConfigured(r.Context(), w, "database browser")
		return
	}
	structure, err := s.deps.Browser.TableStructure(r.Context(), schema, table)
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"structure": structure,
		"table":     table,
		"schema":    schema,
	})
}

func (s *server) handleTableData(w http.ResponseWriter, r *http.Request) {
	table, schema, ok := tableParams(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAGINATION", "limit must be an integer", nil)
		return
	}
	offset, err := intParam(query.Get("offset"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAGINATION", "offset must be an integer", nil)
		return
	}
	if s.deps.Browser == nil {
		notConfigured(r.Context(), w, "database browser")
		return
	}

	page, err := s.deps.Browser.TableData(r.Context(), browser.TableDataRequest{
		Schema:   schema,
		Table:    table,
		Limit:    limit,
		Offset:   offset,
		OrderBy:  strings.TrimSpace(query.Get("order_by")),
		OrderDir: query.Get("order_dir"),
	})
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	total, err := s.deps.Browser.TableCount(r.Context(), schema, table)
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"data":        page.Rows,
		"columns":     page.Columns,
		"total_count": total,
		"limit":       page.Limit,
		"offset":      page.Offset,
		"table":       table,
		"schema":      schema,
	})
}

func (s *server) handleTableExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Table) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "Table name is required", nil)
		return
	}
	if req.Schema == "" {
		req.Schema = browser.DefaultSchema
	}
	if s.deps.Browser == nil {
		notConfigured(r.Context(), w, "database browser")
		return
	}
	result, err := s.deps.Browser.Export(r.Context(), req.Schema, req.Table)
	if err != nil {
		s.browserError(w, r, err)
		return
	}
	payload := map[string]any{
		"success":   true,
		"key":       result.Key,
		"row_count": result.RowCount,
		"bytes":     result.Bytes,
		"truncated": result.Truncated,
	}
	if result.DownloadURL != "" {
		payload["download_url"] = result.DownloadURL
		payload["expires_at"] = result.ExpiresAt
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *server) browserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, browser.ErrInvalidIdentifier),
		errors.Is(err, browser.ErrInvalidPagination),
		errors.Is(err, browser.ErrUnknownColumn):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, browser.ErrArchiveDisabled):
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", err.Error(), nil)
	default:
		s.logger.ErrorContext(r.Context(), "browser query failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(r.Context(), w, http.StatusInternalServerError, "BROWSER_QUERY_FAILED", err.Error(), nil)
	}
}

func tableParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	query := r.URL.Query()
	table := query.Get("table")
	if strings.TrimSpace(table) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "Table name is required", nil)
		return "", "", false
	}
	schema := query.Get("schema")
	if schema == "" {
		schema = browser.DefaultSchema
	}
	return table, schema, true
}

func intParam(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}
