// Package migrations reads deployment scripts written in the migration layout
// and applies or reverts them against the target database, recording applied
// revisions in a tracking table.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Section markers of the migration layout.
const (
	UpgradeMarker   = "-- +migrate upgrade"
	DowngradeMarker = "-- +migrate downgrade"
)

const migrationTable = "sqlgpt_schema_migrations"

var (
	revisionPattern = regexp.MustCompile(`(?m)^-- Revision ID: ([0-9]{14})\s*$`)
	namePattern     = regexp.MustCompile(`(?m)^-- Migration: (.+?)\s*$`)
)

type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Parse reads one script in the migration layout. A BEGIN;/COMMIT; pair
// wrapping the upgrade section is removed because the runner supplies the
// transaction.
func Parse(script string) (Migration, error) {
	matches := revisionPattern.FindStringSubmatch(script)
	if len(matches) != 2 {
		return Migration{}, fmt.Errorf("script has no revision id")
	}
	version, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return Migration{}, fmt.Errorf("parse revision %q: %w", matches[1], err)
	}
	var name string
	if m := namePattern.FindStringSubmatch(script); len(m) == 2 {
		name = m[1]
	}

	up := strings.Index(script, UpgradeMarker)
	down := strings.Index(script, DowngradeMarker)
	if up < 0 {
		return Migration{}, fmt.Errorf("migration %d has no upgrade section", version)
	}
	if down < 0 || down < up {
		return Migration{}, fmt.Errorf("migration %d has no downgrade section after upgrade", version)
	}
	upSQL := unwrapTransaction(script[up+len(UpgradeMarker) : down])
	if !hasStatements(upSQL) {
		return Migration{}, fmt.Errorf("migration %d missing upgrade SQL", version)
	}
	return Migration{
		Version: version,
		Name:    name,
		UpSQL:   upSQL,
		DownSQL: strings.TrimSpace(script[down+len(DowngradeMarker):]),
	}, nil
}

func unwrapTransaction(section string) string {
	trimmed := strings.TrimSpace(section)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "BEGIN;") && strings.HasSuffix(upper, "COMMIT;") {
		trimmed = strings.TrimSpace(trimmed[len("BEGIN;") : len(trimmed)-len("COMMIT;")])
	}
	return trimmed
}

// hasStatements reports whether sql holds anything besides line comments.
func hasStatements(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}

type Runner struct {
	fsys fs.FS
}

// NewRunner reads migration scripts from the *.sql files at the root of fsys,
// typically os.DirFS of the directory scripts are saved to.
func NewRunner(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

// Up applies pending migrations in revision order. Steps 0 applies all of
// them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, applied, err := r.state(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}
	done := make(map[int64]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	count := 0
	for _, m := range scripts {
		if done[m.Version] {
			continue
		}
		if steps > 0 && count == steps {
			break
		}
		err := inTx(ctx, db, m.UpSQL, `INSERT INTO `+migrationTable+` (version, name) VALUES ($1, $2)`, m.Version, m.Name)
		if err != nil {
			return count, fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the newest applied migrations. Steps 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	scripts, applied, err := r.state(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]Migration, len(scripts))
	for _, m := range scripts {
		byVersion[m.Version] = m
	}

	count := 0
	for _, version := range applied[:min(steps, len(applied))] {
		m, ok := byVersion[version]
		switch {
		case !ok:
			return count, fmt.Errorf("applied migration %d is missing from source", version)
		case !hasStatements(m.DownSQL):
			return count, fmt.Errorf("migration %d has empty down SQL", version)
		}
		if err := inTx(ctx, db, m.DownSQL, `DELETE FROM `+migrationTable+` WHERE version = $1`, m.Version); err != nil {
			return count, fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		count++
	}
	return count, nil
}

// state loads the scripts on disk and the applied versions in the given
// order, creating the tracking table on first use.
func (r *Runner) state(ctx context.Context, db *sql.DB, order string) ([]Migration, []int64, error) {
	scripts, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var applied []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read applied versions: %w", err)
	}
	return scripts, applied, nil
}

// inTx runs a script section and its bookkeeping statement atomically.
func inTx(ctx context.Context, db *sql.DB, section, bookkeeping string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, section); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

// loadMigrations parses every .sql file carrying an upgrade marker. Plain
// transactional scripts saved alongside are skipped.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}

	var scripts []Migration
	origin := map[int64]string{}
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}
		if !strings.Contains(string(body), UpgradeMarker) {
			continue
		}
		m, err := Parse(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", name, err)
		}
		if first, dup := origin[m.Version]; dup {
			return nil, fmt.Errorf("migration %d defined by both %q and %q", m.Version, first, name)
		}
		origin[m.Version] = name
		scripts = append(scripts, m)
	}
	slices.SortFunc(scripts, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return scripts, nil
}
