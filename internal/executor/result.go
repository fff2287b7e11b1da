package executor

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

type Kind string

const (
	KindOK              Kind = "ok"
	KindAlreadyExists   Kind = "already_exists"
	KindUndefinedObject Kind = "undefined_object"
	KindSyntaxError     Kind = "syntax_error"
	KindOther           Kind = "other"
)

// Result is the outcome of one statement. Database failures are reported
// here, never as Go errors. Rows is set for result-bearing statements and
// Message otherwise.
type Result struct {
	Kind         Kind
	Columns      []string
	Rows         []Row
	Message      string
	RowsAffected int64
}

// Success is true for OK and for idempotent "already exists" outcomes.
func (r Result) Success() bool {
	return r.Kind == KindOK || r.Kind == KindAlreadyExists
}

// Payload is the rows when the statement produced a result set, otherwise
// the message.
func (r Result) Payload() any {
	if r.Rows != nil {
		return r.Rows
	}
	return r.Message
}

// Row keeps column order; it encodes as a JSON object with keys in select
// order.
type Row struct {
	Columns []string
	Values  []any
}

func (r Row) Get(column string) (any, bool) {
	for i, name := range r.Columns {
		if name == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ScanRows drains rows into ordered Row values. Text-like byte slices are
// returned as strings.
func ScanRows(rows *sql.Rows) ([]string, []Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	out := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range values {
			if raw, ok := value.([]byte); ok && utf8.Valid(raw) {
				values[i] = string(raw)
			}
		}
		out = append(out, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}
	return columns, out, nil
}
