// Package deploy assembles deployment scripts around generated SQL.
package deploy

import (
	"fmt"
	"strings"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/migrations"
)

const (
	LayoutPlain     = "plain"
	LayoutMigration = "migration"
)

const (
	revisionFormat  = "20060102150405"
	createdAtFormat = "2006-01-02 15:04:05"
)

var reversibleOperations = map[string]struct{}{
	"create_table": {},
	"alter_table":  {},
	"create_index": {},
	"insert":       {},
	"update":       {},
	"delete":       {},
}

var migrationOperations = map[string]struct{}{
	"create_table": {},
	"alter_table":  {},
	"drop_table":   {},
	"create_index": {},
	"drop_index":   {},
}

// IsReversible reports whether a rollback can be generated for op. Unknown
// operations, drop_table, drop_index and truncate are not reversible.
func IsReversible(op string) bool {
	_, ok := reversibleOperations[normalizeOperation(op)]
	return ok
}

// UsesMigrationFramework reports whether op is a schema change rendered in
// the migration layout.
func UsesMigrationFramework(op string) bool {
	_, ok := migrationOperations[normalizeOperation(op)]
	return ok
}

func normalizeOperation(op string) string {
	return strings.ToLower(strings.TrimSpace(op))
}

// Script is everything a deployment script is rendered from.
type Script struct {
	Name        string
	Operation   string
	CreatedAt   time.Time
	SQL         string
	RollbackSQL string
}

func (s Script) Revision() string { return s.CreatedAt.Format(revisionFormat) }

func (s Script) Layout() string {
	if UsesMigrationFramework(s.Operation) {
		return LayoutMigration
	}
	return LayoutPlain
}

// Render picks the layout for the script's operation.
func Render(s Script) string {
	if s.Layout() == LayoutMigration {
		return RenderMigration(s)
	}
	return RenderPlain(s)
}

// RenderPlain wraps the forward SQL in BEGIN;/COMMIT; with the rollback kept
// in a comment block for manual use.
func RenderPlain(s Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration: %s\n", s.Name)
	fmt.Fprintf(&b, "-- Created: %s\n", s.CreatedAt.Format(createdAtFormat))
	fmt.Fprintf(&b, "-- Migration ID: %s\n\n", s.Revision())
	b.WriteString("-- Transaction to ensure the migration is atomic\n")
	b.WriteString("BEGIN;\n\n")
	b.WriteString("-- Forward migration\n")
	b.WriteString(strings.TrimSpace(s.SQL))
	b.WriteString("\n\n")
	b.WriteString("-- To roll back this migration, run the following SQL:\n")
	b.WriteString("/*\n")
	b.WriteString("-- Rollback migration\n")
	b.WriteString(strings.TrimSpace(s.RollbackSQL))
	b.WriteString("\n*/\n\n")
	b.WriteString("COMMIT;\n")
	return b.String()
}

// RenderMigration writes the upgrade/downgrade layout read back by the
// migrations runner. The revision id is the creation timestamp.
func RenderMigration(s Script) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration: %s\n", s.Name)
	fmt.Fprintf(&b, "-- Revision ID: %s\n", s.Revision())
	b.WriteString("-- Down Revision: none\n")
	fmt.Fprintf(&b, "-- Create Date: %s\n\n", s.CreatedAt.Format(createdAtFormat))

	b.WriteString(migrations.UpgradeMarker + "\n")
	b.WriteString("BEGIN;\n\n")
	b.WriteString(strings.TrimSpace(s.SQL))
	b.WriteString("\n\nCOMMIT;\n\n")

	b.WriteString(migrations.DowngradeMarker + "\n")
	rollback := strings.TrimSpace(s.RollbackSQL)
	if rollback == "" {
		rollback = "-- No rollback: this operation is not reversible"
	}
	b.WriteString(rollback)
	b.WriteString("\n")
	return b.String()
}
