package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/observability"
)

type Instrumented struct {
	Next   Completer
	Logger *slog.Logger
}

func (i *Instrumented) Complete(ctx context.Context, req Request) (string, error) {
	logger := observability.OrDiscard(i.Logger)
	start := time.Now()
	text, err := i.Next.Complete(ctx, req)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	observability.ObserveLLMCall(req.Stage, outcome, elapsed)

	attrs := []slog.Attr{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("stage", req.Stage),
		slog.String("outcome", outcome),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		logger.LogAttrs(ctx, slog.LevelWarn, "llm_call", attrs...)
		return "", err
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "llm_call", append(attrs, slog.Int("reply_bytes", len(text)))...)
	return text, nil
}
