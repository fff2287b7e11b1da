package executor

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlgpt/sqlgpt/internal/config"
)

const applicationName = "sqlgpt"

// Pool settings for the target database.
type DBConfig struct {
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

func ConfigFrom(cfg config.DatabaseConfig) DBConfig {
	return DBConfig{
		DSN:              cfg.ConnString(),
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxIdleTime:  cfg.ConnMaxIdleTime,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		StatementTimeout: cfg.StatementTimeout,
	}
}

// Dial builds the connection pool without contacting the server.
// Connections are established on first use and replaced after a disconnect,
// which is what lets the web server start before the database is up.
func Dial(cfg DBConfig) (*sql.DB, error) {
	connConfig, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connConfig)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// connConfig tags sessions with the application name unless the DSN sets
// one and applies the statement timeout.
func connConfig(cfg DBConfig) (*pgx.ConnConfig, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}
	parsed, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if parsed.RuntimeParams == nil {
		parsed.RuntimeParams = map[string]string{}
	}
	if _, ok := parsed.RuntimeParams["application_name"]; !ok {
		parsed.RuntimeParams["application_name"] = applicationName
	}
	if cfg.StatementTimeout > 0 {
		parsed.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return parsed, nil
}
