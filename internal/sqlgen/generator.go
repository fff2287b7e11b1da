// Package sqlgen asks a language model for PostgreSQL that satisfies an
// intent, formats the reply and has the model review it.
package sqlgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/llm"
	"github.com/sqlgpt/sqlgpt/internal/observability"
)

const generateSystemPrompt = `You are an expert PostgreSQL database engineer. Your task is to generate optimized PostgreSQL
queries based on the structured intent provided.

Follow these guidelines:
1. Use PostgreSQL-specific syntax and features when appropriate
2. Include comments explaining complex parts of the query
3. Format the SQL for readability
4. Consider performance implications and add appropriate indexes
5. Use best practices for the specific operation type
6. Support advanced PostgreSQL features like partitioning, JSON operations, CTEs, etc.

Only return the SQL query without any additional text or markdown formatting.`

const validateSystemPrompt = `You are an expert PostgreSQL database engineer. Your task is to validate the provided SQL query
for syntax errors and potential issues.

Provide a JSON response with the following structure:
{
    "valid": true|false,
    "errors": ["error1", "error2"],
    "warnings": ["warning1", "warning2"],
    "suggestions": ["suggestion1", "suggestion2"]
}`

// Validation is advisory; it never blocks execution.
type Validation struct {
	Valid       bool     `json:"valid" yaml:"valid"`
	Errors      []string `json:"errors" yaml:"errors"`
	Warnings    []string `json:"warnings" yaml:"warnings"`
	Suggestions []string `json:"suggestions" yaml:"suggestions"`
}

func (v Validation) normalized() Validation {
	if v.Errors == nil {
		v.Errors = []string{}
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	if v.Suggestions == nil {
		v.Suggestions = []string{}
	}
	return v
}

func failedValidation(err error) Validation {
	return Validation{
		Valid:       false,
		Errors:      []string{fmt.Sprintf("Validation process failed: %v", err)},
		Warnings:    []string{},
		Suggestions: []string{},
	}
}

type Generator struct {
	llm    llm.Completer
	logger *slog.Logger
}

func NewGenerator(completer llm.Completer, logger *slog.Logger) *Generator {
	return &Generator{llm: completer, logger: observability.OrDiscard(logger)}
}

// Generate returns formatted SQL for in. Failures are *intent.TranslationError
// with the sql stage.
func (g *Generator) Generate(ctx context.Context, in intent.Intent) (string, error) {
	fail := func(err error) (string, error) {
		return "", &intent.TranslationError{Stage: llm.StageSQL, Err: err}
	}
	if g.llm == nil {
		return fail(errors.New("language model is not configured"))
	}
	encoded, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("encode intent: %w", err))
	}
	g.logger.InfoContext(ctx, "generating sql", slog.String("operation_type", in.OperationType))

	reply, err := g.llm.Complete(ctx, llm.Request{
		Stage:  llm.StageSQL,
		System: generateSystemPrompt,
		User:   "Generate PostgreSQL query for this intent:\n" + string(encoded),
	})
	if err != nil {
		return fail(err)
	}
	sql := llm.StripCodeFence(reply)
	if sql == "" {
		return fail(llm.ErrEmptyCompletion)
	}
	formatted := Format(sql)
	g.logger.DebugContext(ctx, "generated sql", slog.String("query_type", QueryType(formatted)))
	return formatted, nil
}

// Validate asks the model to review sql. Any failure is folded into an
// invalid result instead of being returned.
func (g *Generator) Validate(ctx context.Context, sql string) Validation {
	if strings.TrimSpace(sql) == "" {
		return failedValidation(errors.New("empty SQL"))
	}
	if g.llm == nil {
		return failedValidation(errors.New("language model is not configured"))
	}
	reply, err := g.llm.Complete(ctx, llm.Request{
		Stage:  llm.StageValidate,
		System: validateSystemPrompt,
		User:   "Validate this PostgreSQL query:\n" + sql,
		JSON:   true,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "sql validation failed", slog.Any("error", err))
		return failedValidation(err)
	}
	var out Validation
	if err := llm.ParseJSON(reply, &out); err != nil {
		g.logger.WarnContext(ctx, "unparseable validation reply", slog.Any("error", err))
		return failedValidation(err)
	}
	return out.normalized()
}
