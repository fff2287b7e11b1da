package executor

import (
	"context"
	"database/sql"
	"fmt"
)

type SchemaInfo struct {
	Tables    []TableInfo    `json:"tables"`
	Views     []ViewInfo     `json:"views"`
	Functions []FunctionInfo `json:"functions"`
}

type TableInfo struct {
	Name    string       `json:"name"`
	Schema  string       `json:"schema"`
	Columns []ColumnInfo `json:"columns"`
}

type ColumnInfo struct {
	ColumnName    string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	IsNullable    string  `json:"is_nullable"`
	ColumnDefault *string `json:"column_default"`
}

type ViewInfo struct {
	ViewName   string `json:"view_name"`
	ViewSchema string `json:"view_schema"`
}

type FunctionInfo struct {
	FunctionName   string `json:"function_name"`
	FunctionSchema string `json:"function_schema"`
}

const (
	schemaTablesQuery = `
SELECT table_name, table_schema
FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_type = 'BASE TABLE'
ORDER BY table_schema, table_name`

	schemaColumnsQuery = `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	schemaViewsQuery = `
SELECT table_name AS view_name, table_schema AS view_schema
FROM information_schema.views
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name`

	schemaFunctionsQuery = `
SELECT routine_name AS function_name, routine_schema AS function_schema
FROM information_schema.routines
WHERE routine_schema NOT IN ('pg_catalog', 'information_schema')
  AND routine_type = 'FUNCTION'
ORDER BY routine_schema, routine_name`
)

// SchemaInfo lists user tables with their columns, then views and functions.
// It issues one column query per table.
func (e *Executor) SchemaInfo(ctx context.Context) (SchemaInfo, error) {
	info := SchemaInfo{Tables: []TableInfo{}, Views: []ViewInfo{}, Functions: []FunctionInfo{}}

	err := queryEach(ctx, e.db, schemaTablesQuery, nil, func(rows *sql.Rows) error {
		var table TableInfo
		if err := rows.Scan(&table.Name, &table.Schema); err != nil {
			return err
		}
		info.Tables = append(info.Tables, table)
		return nil
	})
	if err != nil {
		return SchemaInfo{}, fmt.Errorf("list tables: %w", err)
	}

	for i := range info.Tables {
		table := &info.Tables[i]
		table.Columns = []ColumnInfo{}
		err := queryEach(ctx, e.db, schemaColumnsQuery, []any{table.Schema, table.Name}, func(rows *sql.Rows) error {
			var column ColumnInfo
			var columnDefault sql.NullString
			if err := rows.Scan(&column.ColumnName, &column.DataType, &column.IsNullable, &columnDefault); err != nil {
				return err
			}
			if columnDefault.Valid {
				column.ColumnDefault = &columnDefault.String
			}
			table.Columns = append(table.Columns, column)
			return nil
		})
		if err != nil {
			return SchemaInfo{}, fmt.Errorf("list columns of %s.%s: %w", table.Schema, table.Name, err)
		}
	}

	err = queryEach(ctx, e.db, schemaViewsQuery, nil, func(rows *sql.Rows) error {
		var view ViewInfo
		if err := rows.Scan(&view.ViewName, &view.ViewSchema); err != nil {
			return err
		}
		info.Views = append(info.Views, view)
		return nil
	})
	if err != nil {
		return SchemaInfo{}, fmt.Errorf("list views: %w", err)
	}

	err = queryEach(ctx, e.db, schemaFunctionsQuery, nil, func(rows *sql.Rows) error {
		var fn FunctionInfo
		if err := rows.Scan(&fn.FunctionName, &fn.FunctionSchema); err != nil {
			return err
		}
		info.Functions = append(info.Functions, fn)
		return nil
	})
	if err != nil {
		return SchemaInfo{}, fmt.Errorf("list functions: %w", err)
	}
	return info, nil
}

func queryEach(ctx context.Context, db *sql.DB, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
