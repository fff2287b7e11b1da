// Package browser answers read-only questions about the target database:
// schemas, tables, column structure and paginated table rows.
package browser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sqlgpt/sqlgpt/internal/config"
	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/storage"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidPagination = errors.New("invalid pagination")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrArchiveDisabled   = errors.New("object store is not configured")
)

const DefaultSchema = "public"

const (
	schemasQuery = `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
ORDER BY schema_name`

	tablesQuery = `
SELECT
  t.table_name,
  t.table_schema,
  pg_catalog.obj_description(pgc.oid, 'pg_class') AS table_description,
  (SELECT COUNT(*) FROM information_schema.columns c
    WHERE c.table_name = t.table_name AND c.table_schema = t.table_schema) AS column_count,
  pg_total_relation_size(pgc.oid) AS table_size
FROM information_schema.tables t
JOIN pg_catalog.pg_class pgc ON pgc.relname = t.table_name
JOIN pg_catalog.pg_namespace pgn ON pgn.oid = pgc.relnamespace AND pgn.nspname = t.table_schema
WHERE t.table_schema NOT IN ('pg_catalog', 'information_schema')
  AND t.table_type = 'BASE TABLE'
ORDER BY t.table_schema, t.table_name`

	structureQuery = `
SELECT
  c.column_name,
  c.data_type,
  c.is_nullable,
  c.column_default,
  c.character_maximum_length,
  c.numeric_precision,
  c.numeric_scale,
  pg_catalog.col_description(format('%I.%I', c.table_schema, c.table_name)::regclass::oid, c.ordinal_position) AS column_description,
  pk.column_name IS NOT NULL AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
  SELECT kcu.column_name, kcu.table_name, kcu.table_schema
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage kcu
    ON kcu.constraint_name = tc.constraint_name AND kcu.constraint_schema = tc.constraint_schema
  WHERE tc.constraint_type = 'PRIMARY KEY'
) pk ON pk.column_name = c.column_name AND pk.table_name = c.table_name AND pk.table_schema = c.table_schema
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

	columnNamesQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`
)

type Table struct {
	Name        string  `json:"table_name"`
	Schema      string  `json:"table_schema"`
	Description *string `json:"table_description"`
	ColumnCount int64   `json:"column_count"`
	Size        int64   `json:"table_size"`
}

type Column struct {
	ColumnName             string  `json:"column_name"`
	DataType               string  `json:"data_type"`
	IsNullable             string  `json:"is_nullable"`
	ColumnDefault          *string `json:"column_default"`
	CharacterMaximumLength *int64  `json:"character_maximum_length"`
	NumericPrecision       *int64  `json:"numeric_precision"`
	NumericScale           *int64  `json:"numeric_scale"`
	ColumnDescription      *string `json:"column_description"`
	IsPrimaryKey           bool    `json:"is_primary_key"`
}

// TableDataRequest selects one page of a table. Zero Limit means the
// configured default; OrderDir other than DESC (any case) sorts ascending.
type TableDataRequest struct {
	Schema   string
	Table    string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

type TablePage struct {
	Columns []string
	Rows    []executor.Row
	Limit   int
	Offset  int
}

type Browser struct {
	db      *sql.DB
	limits  config.BrowserConfig
	archive storage.ObjectStore
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Browser)

func WithLimits(limits config.BrowserConfig) Option {
	return func(b *Browser) { b.limits = limits }
}

// WithArchive enables Export to store.
func WithArchive(store storage.ObjectStore) Option {
	return func(b *Browser) { b.archive = store }
}

func WithClock(now func() time.Time) Option {
	return func(b *Browser) { b.now = now }
}

func New(db *sql.DB, logger *slog.Logger, opts ...Option) *Browser {
	b := &Browser{
		db:     db,
		limits: config.BrowserConfig{DefaultLimit: 100, MaxLimit: 1000, ExportLimit: 100000},
		now:    time.Now,
		logger: observability.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Browser) Schemas(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, schemasQuery)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schemas := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return schemas, nil
}

func (b *Browser) Tables(ctx context.Context) ([]Table, error) {
	rows, err := b.db.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := []Table{}
	for rows.Next() {
		var table Table
		var description sql.NullString
		if err := rows.Scan(&table.Name, &table.Schema, &description, &table.ColumnCount, &table.Size); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if description.Valid {
			table.Description = &description.String
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (b *Browser) TableStructure(ctx context.Context, schema, table string) ([]Column, error) {
	schema = schemaOrDefault(schema)
	if err := validateIdentifiers(schema, table); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, structureQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schema, table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := []Column{}
	for rows.Next() {
		var column Column
		var (
			columnDefault, description  sql.NullString
			maxLength, precision, scale sql.NullInt64
		)
		if err := rows.Scan(
			&column.ColumnName,
			&column.DataType,
			&column.IsNullable,
			&columnDefault,
			&maxLength,
			&precision,
			&scale,
			&description,
			&column.IsPrimaryKey,
		); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.ColumnDefault = nullString(columnDefault)
		column.ColumnDescription = nullString(description)
		column.CharacterMaximumLength = nullInt(maxLength)
		column.NumericPrecision = nullInt(precision)
		column.NumericScale = nullInt(scale)
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schema, table, err)
	}
	return columns, nil
}

// TableData returns one page of rows. The limit is capped at the configured
// maximum and OrderBy must name an existing column of the table.
func (b *Browser) TableData(ctx context.Context, req TableDataRequest) (TablePage, error) {
	req.Schema = schemaOrDefault(req.Schema)
	if err := validateIdentifiers(req.Schema, req.Table); err != nil {
		return TablePage{}, err
	}
	limit, err := b.pageLimit(req.Limit)
	if err != nil {
		return TablePage{}, err
	}
	if req.Offset < 0 {
		return TablePage{}, fmt.Errorf("%w: offset must be non-negative", ErrInvalidPagination)
	}

	query := "SELECT * FROM " + qualified(req.Schema, req.Table)
	if req.OrderBy != "" {
		if err := b.requireColumn(ctx, req.Schema, req.Table, req.OrderBy); err != nil {
			return TablePage{}, err
		}
		query += " ORDER BY " + pgx.Identifier{req.OrderBy}.Sanitize() + " " + orderDirection(req.OrderDir)
	}
	query += " LIMIT $1 OFFSET $2"

	rows, err := b.db.QueryContext(ctx, query, limit, req.Offset)
	if err != nil {
		return TablePage{}, fmt.Errorf("read %s.%s: %w", req.Schema, req.Table, err)
	}
	defer func() { _ = rows.Close() }()
	columns, data, err := executor.ScanRows(rows)
	if err != nil {
		return TablePage{}, fmt.Errorf("read %s.%s: %w", req.Schema, req.Table, err)
	}
	b.logger.DebugContext(ctx, "table page read",
		slog.String("schema", req.Schema),
		slog.String("table", req.Table),
		slog.Int("limit", limit),
		slog.Int("offset", req.Offset),
		slog.Int("rows", len(data)),
	)
	return TablePage{Columns: columns, Rows: data, Limit: limit, Offset: req.Offset}, nil
}

func (b *Browser) TableCount(ctx context.Context, schema, table string) (int64, error) {
	schema = schemaOrDefault(schema)
	if err := validateIdentifiers(schema, table); err != nil {
		return 0, err
	}
	var count int64
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified(schema, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", schema, table, err)
	}
	return count, nil
}

func (b *Browser) pageLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: limit must be non-negative", ErrInvalidPagination)
	case limit == 0:
		limit = b.limits.DefaultLimit
	}
	if b.limits.MaxLimit > 0 && limit > b.limits.MaxLimit {
		limit = b.limits.MaxLimit
	}
	return limit, nil
}

func (b *Browser) requireColumn(ctx context.Context, schema, table, column string) error {
	if err := validateIdentifier(column, "order_by"); err != nil {
		return err
	}
	rows, err := b.db.QueryContext(ctx, columnNamesQuery, schema, table)
	if err != nil {
		return fmt.Errorf("list columns of %s.%s: %w", schema, table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column name: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list columns of %s.%s: %w", schema, table, err)
	}
	return fmt.Errorf("%w: %q is not a column of %s.%s", ErrUnknownColumn, column, schema, table)
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return DefaultSchema
	}
	return schema
}

func validateIdentifiers(schema, table string) error {
	if err := validateIdentifier(schema, "schema"); err != nil {
		return err
	}
	return validateIdentifier(table, "table")
}

func validateIdentifier(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidIdentifier, field)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidIdentifier, field)
	}
	return nil
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func orderDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "DESC") {
		return "DESC"
	}
	return "ASC"
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
