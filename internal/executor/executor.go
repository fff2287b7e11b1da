// Package executor runs statements against the target PostgreSQL database and
// reports its schema.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

// EmptyQueryMessage is returned for blank statements without touching the
// database.
const EmptyQueryMessage = "Empty query. Please provide a valid SQL query."

// PostgreSQL error codes with dedicated handling.
const (
	codeDuplicateTable  = "42P07"
	codeDuplicateColumn = "42701"
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeSyntaxError     = "42601"
)

// Executor runs statements over a shared connection pool.
type Executor struct {
	db     *sql.DB
	logger *slog.Logger
}

// New returns an Executor over db. A nil logger discards output.
func New(db *sql.DB, logger *slog.Logger) *Executor {
	return &Executor{db: db, logger: observability.OrDiscard(logger)}
}

func (e *Executor) DB() *sql.DB { return e.db }

func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Execute runs statement in its own transaction. Known PostgreSQL errors are
// classified; re-creating an existing table or column succeeds with an
// explanatory message.
func (e *Executor) Execute(ctx context.Context, statement string, args ...any) Result {
	if strings.TrimSpace(statement) == "" {
		return Result{Kind: KindOther, Message: EmptyQueryMessage}
	}
	queryType := sqlgen.QueryType(statement)
	start := time.Now()

	result, outcome := e.execute(ctx, statement, args)

	observability.ObserveStatement(queryType, outcome, time.Since(start))
	level := slog.LevelInfo
	if !result.Success() || outcome == "duplicate_column" {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "statement executed",
		slog.String("query_type", queryType),
		slog.String("outcome", outcome),
		slog.Int("rows", len(result.Rows)),
		slog.Int64("rows_affected", result.RowsAffected),
		slog.Duration("duration", time.Since(start)),
	)
	return result
}

func (e *Executor) execute(ctx context.Context, statement string, args []any) (Result, string) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var result Result
	if sqlgen.ReturnsRows(statement) {
		rows, err := tx.QueryContext(ctx, statement, args...)
		if err != nil {
			return classify(err)
		}
		columns, scanned, err := ScanRows(rows)
		_ = rows.Close()
		if err != nil {
			return classify(err)
		}
		if len(columns) == 0 {
			result = Result{Kind: KindOK, Message: "Query executed successfully. Rows affected: 0"}
		} else {
			result = Result{Kind: KindOK, Columns: columns, Rows: scanned, RowsAffected: int64(len(scanned))}
		}
	} else {
		res, err := tx.ExecContext(ctx, statement, args...)
		if err != nil {
			return classify(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		result = Result{
			Kind:         KindOK,
			Message:      fmt.Sprintf("Query executed successfully. Rows affected: %d", affected),
			RowsAffected: affected,
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return result, string(KindOK)
}

// classify maps a failed statement to a Result and a metrics outcome label.
func classify(err error) (Result, string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return Result{Kind: KindOther, Message: "Error: " + err.Error()}, string(KindOther)
	}
	switch pgErr.Code {
	case codeDuplicateTable:
		return Result{
			Kind:    KindAlreadyExists,
			Message: fmt.Sprintf("Table '%s' already exists. No changes were made.", quotedName(pgErr, "table")),
		}, string(KindAlreadyExists)
	case codeDuplicateColumn:
		// The existing column definition is not compared with the requested one.
		return Result{Kind: KindAlreadyExists, Message: "Column already exists. No changes were made."}, "duplicate_column"
	case codeUndefinedTable:
		return Result{
			Kind:    KindUndefinedObject,
			Message: fmt.Sprintf("Error: Table '%s' does not exist.", quotedName(pgErr, "table")),
		}, string(KindUndefinedObject)
	case codeUndefinedColumn:
		return Result{Kind: KindUndefinedObject, Message: "Error: " + firstLine(pgErr.Message)}, string(KindUndefinedObject)
	case codeSyntaxError:
		return Result{Kind: KindSyntaxError, Message: "SQL syntax error: " + firstLine(pgErr.Message)}, string(KindSyntaxError)
	default:
		return Result{Kind: KindOther, Message: "Error: " + pgErr.Message}, string(KindOther)
	}
}

// quotedName returns the first double-quoted name in the server message,
// e.g. users in `relation "users" already exists`.
func quotedName(pgErr *pgconn.PgError, fallback string) string {
	if pgErr.TableName != "" {
		return pgErr.TableName
	}
	parts := strings.Split(pgErr.Message, `"`)
	if len(parts) >= 3 && parts[1] != "" {
		return parts[1]
	}
	return fallback
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}

func (e *Executor) TestConnection(ctx context.Context) (string, error) {
	var version string
	if err := e.db.QueryRowContext(ctx, "SELECT version();").Scan(&version); err != nil {
		return "", fmt.Errorf("query server version: %w", err)
	}
	return "Connected to PostgreSQL: " + version, nil
}
