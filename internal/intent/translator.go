package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/llm"
	"github.com/sqlgpt/sqlgpt/internal/observability"
)

var ErrEmptyPrompt = errors.New("prompt is required")

// TranslationError reports a failed language-model step. Stage is one of the
// llm.Stage* values.
type TranslationError struct {
	Stage string
	Err   error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s translation failed: %v", e.Stage, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

const processSystemPrompt = `You are an expert PostgreSQL database engineer. Your task is to analyze natural language
requests and extract structured information needed to generate SQL queries.

For each request, provide a JSON response with the following structure:
{
    "operation_type": "CREATE_TABLE|ALTER_TABLE|SELECT|INSERT|UPDATE|DELETE|CREATE_INDEX|etc.",
    "entities": [{"name": "entity_name", "type": "table|view|index|etc."}],
    "fields": [{"name": "field_name", "data_type": "text|integer|etc.", "constraints": ["NOT NULL", "UNIQUE", etc.]}],
    "conditions": ["condition1", "condition2"],
    "relationships": [{"from": "table1.field1", "to": "table2.field2", "type": "one_to_many|many_to_one|etc."}],
    "advanced_features": {
        "partitioning": {"type": "range|list|hash", "by": "field_name"},
        "indexes": [{"name": "index_name", "fields": ["field1", "field2"], "type": "btree|hash|etc."}]
    },
    "explanation": "Brief explanation of what this SQL will accomplish"
}

Only include relevant fields based on the operation type. Ensure the response is valid JSON.`

const refineSystemPrompt = `You are an expert PostgreSQL database engineer. Your task is to refine a structured intent
based on user feedback. The original intent is provided along with the user's feedback.

Modify the intent to incorporate the feedback while maintaining the same JSON structure.
Return the complete updated intent as a single JSON object.`

type Translator struct {
	llm    llm.Completer
	logger *slog.Logger
}

func NewTranslator(completer llm.Completer, logger *slog.Logger) *Translator {
	return &Translator{llm: completer, logger: observability.OrDiscard(logger)}
}

// Process asks the model for the structured intent behind prompt.
func (t *Translator) Process(ctx context.Context, prompt string) (Intent, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Intent{}, ErrEmptyPrompt
	}
	t.logger.InfoContext(ctx, "processing prompt", slog.Int("prompt_chars", len(prompt)))
	return t.complete(ctx, llm.Request{
		Stage:  llm.StageIntent,
		System: processSystemPrompt,
		User:   prompt,
		JSON:   true,
	})
}

// Refine asks the model for a replacement of in that incorporates feedback.
// The reply replaces the intent wholesale; nothing is merged locally.
func (t *Translator) Refine(ctx context.Context, in Intent, feedback string) (Intent, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return Intent{}, fmt.Errorf("feedback is required")
	}
	encoded, err := json.Marshal(in)
	if err != nil {
		return Intent{}, fmt.Errorf("encode intent: %w", err)
	}
	t.logger.InfoContext(ctx, "refining intent", slog.String("operation_type", in.OperationType))
	return t.complete(ctx, llm.Request{
		Stage:  llm.StageRefine,
		System: refineSystemPrompt,
		User:   fmt.Sprintf("Original intent: %s\n\nFeedback: %s", encoded, feedback),
		JSON:   true,
	})
}

func (t *Translator) complete(ctx context.Context, req llm.Request) (Intent, error) {
	if t.llm == nil {
		return Intent{}, &TranslationError{Stage: req.Stage, Err: errors.New("language model is not configured")}
	}
	reply, err := t.llm.Complete(ctx, req)
	if err != nil {
		return Intent{}, &TranslationError{Stage: req.Stage, Err: err}
	}
	var out Intent
	if err := llm.ParseJSON(reply, &out); err != nil {
		t.logger.WarnContext(ctx, "unparseable intent reply", slog.String("stage", req.Stage), slog.Any("error", err))
		return Intent{}, &TranslationError{Stage: req.Stage, Err: err}
	}
	if strings.TrimSpace(out.OperationType) == "" {
		return Intent{}, &TranslationError{Stage: req.Stage, Err: errors.New("reply has no operation_type")}
	}
	if out.Entities == nil {
		out.Entities = []Entity{}
	}
	t.logger.DebugContext(ctx, "intent ready",
		slog.String("stage", req.Stage),
		slog.String("operation_type", out.OperationType),
		slog.Int("entities", len(out.Entities)),
	)
	return out, nil
}
