package observability

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/config"
)

type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	traceIDAttr        = "trace_id"
	redacted           = "[REDACTED]"
)

// NewLogger builds the process logger. Records logged with a request
// context carry its trace id, and credential-like attributes are masked.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: redactAttr}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(traceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("ai_provider", cfg.AI.Provider),
	)
}

// OrDiscard returns logger, or a logger that drops every record when nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" && !hasAttr(record, traceIDAttr) {
		record = record.Clone()
		record.AddAttrs(slog.String(traceIDAttr, traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}

func hasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}

// redactAttr masks API keys and passwords. Connection strings keep their
// host and database so failures stay debuggable.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	switch {
	case key == "dsn" || key == "db_connection":
		if u, err := url.Parse(attr.Value.String()); err == nil && u.User != nil {
			return slog.String(attr.Key, u.Redacted())
		}
		return attr
	case strings.Contains(key, "api_key"), strings.Contains(key, "password"),
		strings.Contains(key, "secret"), key == "authorization", key == "x-api-key":
		return slog.String(attr.Key, redacted)
	}
	return attr
}
