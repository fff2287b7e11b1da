package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	revisionPattern      = regexp.MustCompile(`^[0-9]{14}$`)
	unsafeRunPattern     = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// BuildScriptKey returns scripts/<yyyy>/<mm>/<dd>/<revision>_<name>.sql for a
// deployment script created at createdAt. The name is sanitized; the revision
// must be a YYYYMMDDHHMMSS timestamp.
func BuildScriptKey(revision, migrationName string, createdAt time.Time) (string, error) {
	if !revisionPattern.MatchString(revision) {
		return "", fmt.Errorf("invalid revision: %q", revision)
	}
	name, err := sanitizeComponent(migrationName, "migration name")
	if err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"scripts",
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
		fmt.Sprintf("%s_%s.sql", revision, name),
	), nil
}

// BuildExportKey returns the parquet object key for a table export taken at
// exportedAt.
func BuildExportKey(schema, table string, exportedAt time.Time) (string, error) {
	schemaPart, err := sanitizeComponent(schema, "schema name")
	if err != nil {
		return "", err
	}
	tablePart, err := sanitizeComponent(table, "table name")
	if err != nil {
		return "", err
	}
	ts := exportedAt.UTC()
	return path.Join(
		"exports",
		schemaPart,
		tablePart,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%s.parquet", tablePart, ts.Format("20060102T150405Z")),
	), nil
}

// sanitizeComponent collapses characters that are unsafe in object keys to a
// single dash. Names with nothing usable left are rejected.
func sanitizeComponent(value, field string) (string, error) {
	cleaned := unsafeRunPattern.ReplaceAllString(strings.TrimSpace(value), "-")
	cleaned = strings.Trim(cleaned, ".-_")
	if len(cleaned) > 128 {
		cleaned = cleaned[:128]
	}
	if err := validatePathComponent(cleaned, field); err != nil {
		return "", fmt.Errorf("invalid %s: %q", field, value)
	}
	return cleaned, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
