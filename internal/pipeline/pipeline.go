// Package pipeline chains the prompt translator, SQL generator and script
// builder into the request flow shared by the HTTP API and the CLI.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/deploy"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

type Stage string

const (
	StageInput  Stage = "input"
	StageIntent Stage = "intent"
	StageSQL    Stage = "sql"
	StageScript Stage = "script"
)

type Translator interface {
	Process(ctx context.Context, prompt string) (intent.Intent, error)
}

type Generator interface {
	Generate(ctx context.Context, in intent.Intent) (string, error)
	Validate(ctx context.Context, sql string) sqlgen.Validation
}

type ScriptBuilder interface {
	CreateScript(ctx context.Context, sql string, in intent.Intent) (deploy.Deployment, error)
}

// Outcome carries whatever the pipeline produced before it stopped. When
// Err is set, Stage names the step that failed and Intent is valid for any
// stage after StageIntent.
type Outcome struct {
	Prompt     string
	Intent     intent.Intent
	SQL        string
	Validation sqlgen.Validation
	Deployment deploy.Deployment
	Stage      Stage
	Err        error
}

func (o Outcome) Failed() bool { return o.Err != nil }

// HasIntent reports whether translation got far enough to produce an intent.
func (o Outcome) HasIntent() bool {
	return o.Err == nil || (o.Stage != StageInput && o.Stage != StageIntent)
}

type Pipeline struct {
	translator Translator
	generator  Generator
	builder    ScriptBuilder
	logger     *slog.Logger
}

func New(translator Translator, generator Generator, builder ScriptBuilder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		translator: translator,
		generator:  generator,
		builder:    builder,
		logger:     observability.OrDiscard(logger),
	}
}

// Generate turns prompt into an intent and a SQL statement.
func (p *Pipeline) Generate(ctx context.Context, prompt string) Outcome {
	out := Outcome{Prompt: prompt}
	if strings.TrimSpace(prompt) == "" {
		out.Stage, out.Err = StageInput, intent.ErrEmptyPrompt
		return out
	}
	start := time.Now()

	in, err := p.translator.Process(ctx, prompt)
	if err != nil {
		return p.fail(ctx, out, StageIntent, err)
	}
	out.Intent = in

	sql, err := p.generator.Generate(ctx, in)
	if err != nil {
		return p.fail(ctx, out, StageSQL, err)
	}
	out.SQL = sql

	p.logger.InfoContext(ctx, "prompt translated",
		slog.String("operation", in.Operation()),
		slog.Int("sql_bytes", len(sql)),
		slog.Duration("duration", time.Since(start)),
	)
	return out
}

// Process runs Generate, then validates the statement and builds its
// deployment script. Validation problems are reported in the outcome, not
// as a failure; a script that cannot be built is replaced by an error note.
func (p *Pipeline) Process(ctx context.Context, prompt string) Outcome {
	out := p.Generate(ctx, prompt)
	if out.Failed() {
		return out
	}

	out.Validation = p.generator.Validate(ctx, out.SQL)
	if !out.Validation.Valid {
		p.logger.InfoContext(ctx, "generated sql did not validate",
			slog.Int("errors", len(out.Validation.Errors)),
			slog.Int("warnings", len(out.Validation.Warnings)),
		)
	}

	deployment, err := p.builder.CreateScript(ctx, out.SQL, out.Intent)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return p.fail(ctx, out, StageScript, err)
		}
		p.logger.WarnContext(ctx, "deployment script not created", slog.Any("error", err))
		deployment = deploy.Deployment{Text: "-- Error generating deployment script: " + err.Error()}
	}
	out.Deployment = deployment
	return out
}

func (p *Pipeline) fail(ctx context.Context, out Outcome, stage Stage, err error) Outcome {
	out.Stage, out.Err = stage, err
	p.logger.WarnContext(ctx, "prompt processing failed",
		slog.String("stage", string(stage)),
		slog.Any("error", err),
	)
	return out
}
