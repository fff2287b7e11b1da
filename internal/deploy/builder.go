package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/llm"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/storage"
)

const rollbackSystemPrompt = `You are an expert PostgreSQL database engineer. Your task is to generate rollback SQL
for the provided forward migration SQL.

The rollback SQL should undo the changes made by the forward migration, returning the
database to its previous state. Only return the SQL query without any additional text
or markdown formatting.`

// Deployment is a rendered script and, when archiving is enabled and the
// upload succeeded, the object key it was stored under.
type Deployment struct {
	Script
	Text       string
	ArchiveKey string
}

type Builder struct {
	llm     llm.Completer
	archive storage.ObjectStore
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Builder)

// WithArchive uploads every script to store.
func WithArchive(store storage.ObjectStore) Option {
	return func(b *Builder) { b.archive = store }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(completer llm.Completer, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{llm: completer, now: time.Now, logger: observability.OrDiscard(logger)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultFilename is the file name offered when saving a script for in.
func DefaultFilename(in intent.Intent) string {
	return "migration_" + in.Operation() + ".sql"
}

// CreateScript renders the deployment script for sql. A failed rollback
// request is written into the script as a manual-rollback note rather than
// returned; archive failures are logged and leave ArchiveKey empty.
func (b *Builder) CreateScript(ctx context.Context, sql string, in intent.Intent) (Deployment, error) {
	if strings.TrimSpace(sql) == "" {
		return Deployment{}, errors.New("sql is required")
	}
	op := in.Operation()
	script := Script{
		Name:      in.MigrationName(),
		Operation: op,
		CreatedAt: b.now(),
		SQL:       sql,
	}
	b.logger.InfoContext(ctx, "creating deployment script",
		slog.String("operation", op),
		slog.String("migration", script.Name),
		slog.String("layout", script.Layout()),
	)
	if IsReversible(op) {
		script.RollbackSQL = b.rollback(ctx, sql, in)
	}

	out := Deployment{Script: script, Text: Render(script)}
	observability.IncrementDeploymentScript(script.Layout())
	out.ArchiveKey = b.store(ctx, script, out.Text)
	return out, nil
}

func (b *Builder) rollback(ctx context.Context, sql string, in intent.Intent) string {
	failed := func(err error) string {
		b.logger.WarnContext(ctx, "rollback generation failed", slog.Any("error", err))
		return fmt.Sprintf("-- Error generating rollback SQL: %v\n-- Manual rollback required", err)
	}
	if b.llm == nil {
		return failed(errors.New("language model is not configured"))
	}
	encoded, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return failed(fmt.Errorf("encode intent: %w", err))
	}
	reply, err := b.llm.Complete(ctx, llm.Request{
		Stage:  llm.StageRollback,
		System: rollbackSystemPrompt,
		User:   fmt.Sprintf("Generate rollback SQL for this migration:\n%s\n\nIntent: %s", sql, encoded),
	})
	if err != nil {
		return failed(err)
	}
	rollback := llm.StripCodeFence(reply)
	if rollback == "" {
		return failed(llm.ErrEmptyCompletion)
	}
	return rollback
}

func (b *Builder) store(ctx context.Context, script Script, text string) string {
	if b.archive == nil {
		return ""
	}
	key, err := storage.BuildScriptKey(script.Revision(), script.Name, script.CreatedAt)
	if err != nil {
		b.logger.WarnContext(ctx, "deployment script not archived", slog.Any("error", err))
		observability.IncrementArchivedObject("script", "error")
		return ""
	}
	if _, err := storage.PutBytes(ctx, b.archive, key, []byte(text), storage.ScriptObject(script.Revision(), script.Operation, script.Name)); err != nil {
		b.logger.WarnContext(ctx, "deployment script not archived", slog.String("key", key), slog.Any("error", err))
		observability.IncrementArchivedObject("script", "error")
		return ""
	}
	observability.IncrementArchivedObject("script", "success")
	b.logger.InfoContext(ctx, "deployment script archived", slog.String("key", key))
	return key
}
