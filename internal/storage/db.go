// Package storage provides the relational store of a single workspace.
//
// A workspace store is either a SQLite file under the workspace data
// directory (the default, pure Go via modernc.org/sqlite) or a dedicated
// schema in a shared Postgres database reached through pgx. Both dialects
// share the same query code; placeholders are written as ? and rebound for
// Postgres.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Dialect selects the relational backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect validates a configured dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectSQLite, DialectPostgres:
		return d, nil
	default:
		return "", fmt.Errorf("storage: unknown dialect %q", s)
	}
}

// Options describes how to open a workspace store.
type Options struct {
	Dialect Dialect

	// Path is the SQLite database file.
	Path string

	// DSN and Schema select the Postgres database and the schema that
	// holds this workspace's tables.
	DSN    string
	Schema string

	MaxOpenConns int
}

// DB is an open workspace store.
type DB struct {
	db      *sql.DB
	dialect Dialect
	name    string // file path or schema, for logs
	logger  *slog.Logger

	// docMu serializes read-merge-write cycles on context documents.
	docMu   sync.Mutex
	version atomic.Int64
}

// Open connects to the store described by opts and verifies connectivity.
// It does not run migrations.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*DB, error) {
	var (
		sqlDB *sql.DB
		name  string
		err   error
	)
	switch opts.Dialect {
	case DialectSQLite, "":
		opts.Dialect = DialectSQLite
		sqlDB, err = openSQLite(ctx, opts.Path)
		name = opts.Path
	case DialectPostgres:
		sqlDB, err = openPostgres(ctx, opts.DSN, opts.Schema)
		name = opts.Schema
	default:
		return nil, fmt.Errorf("storage: unknown dialect %q", opts.Dialect)
	}
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", name, err)
	}

	return &DB{
		db:      sqlDB,
		dialect: opts.Dialect,
		name:    name,
		logger:  logger,
	}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	return sqlDB, nil
}

func openPostgres(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	if schema == "" {
		return nil, fmt.Errorf("storage: postgres schema is required")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres DSN: %w", err)
	}

	// The schema must exist before any pooled connection selects it.
	conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: create schema %s: %w", schema, err)
	}

	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = schema
	return stdlib.OpenDB(*cfg), nil
}

// SchemaName derives the Postgres schema used for a workspace path.
func SchemaName(workspacePath string) string {
	sum := sha256.Sum256([]byte(workspacePath))
	return "ws_" + hex.EncodeToString(sum[:])[:16]
}

// Dialect returns the backend in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// SchemaVersion returns the version reached by the last migration run.
func (db *DB) SchemaVersion() int {
	return int(db.version.Load())
}

// SQL returns the underlying handle for use by tests and tooling.
func (db *DB) SQL() *sql.DB {
	return db.db
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	if err := db.db.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", db.name, err)
	}
	return nil
}

// q rewrites ? placeholders to $n for Postgres.
func (db *DB) q(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate returns the row-locking suffix for the dialect.
func (db *DB) forUpdate() string {
	if db.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// inTx runs fn inside a transaction, retrying transient conflicts.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit: %w", err)
		}
		return nil
	})
}
