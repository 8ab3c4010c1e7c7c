package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one ordered schema step loaded from a file named
// NNN_name.sql, e.g. 001_initial.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads and orders the migration steps in fsys. Versions must
// be positive and unique.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, &SchemaError{Err: fmt.Errorf("read migrations dir: %w", err)}
	}

	var steps []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		file := entry.Name()
		version, name, err := parseMigrationName(file)
		if err != nil {
			return nil, &SchemaError{Err: err}
		}
		if prev, dup := seen[version]; dup {
			return nil, &SchemaError{Version: version, Name: name, Err: fmt.Errorf("duplicate version (also %s)", prev)}
		}
		seen[version] = file

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, &SchemaError{Version: version, Name: name, Err: fmt.Errorf("read %s: %w", file, err)}
		}
		steps = append(steps, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Version < steps[j].Version
	})
	return steps, nil
}

func parseMigrationName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration file %q: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration file %q: invalid version %q", file, num)
	}
	return version, name, nil
}

// RunMigrations applies every step in migrationsFS newer than the current
// schema version and returns the resulting version. Each step commits in its
// own transaction together with its schema_migrations row, so a failure
// leaves the schema at the last step that succeeded. Running against an
// up-to-date schema is a no-op.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) (int, error) {
	steps, err := LoadMigrations(migrationsFS)
	if err != nil {
		return 0, err
	}

	// Ensure the tracking table exists. This is idempotent.
	if _, err := db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return 0, &SchemaError{Err: fmt.Errorf("create schema_migrations: %w", err)}
	}

	current, err := db.currentVersion(ctx)
	if err != nil {
		return 0, &SchemaError{Err: fmt.Errorf("load schema version: %w", err)}
	}
	db.version.Store(int64(current))

	if n := len(steps); n > 0 && current > steps[n-1].Version {
		db.logger.Warn("storage: schema is newer than known migrations",
			"store", db.name, "version", current, "latest_known", steps[n-1].Version)
	}

	for _, step := range steps {
		if step.Version <= current {
			db.logger.Debug("migration already applied, skipping", "version", step.Version, "name", step.Name)
			continue
		}

		db.logger.Info("running migration", "store", db.name, "version", step.Version, "name", step.Name)
		if err := db.applyStep(ctx, step); err != nil {
			return current, &SchemaError{Version: step.Version, Name: step.Name, Err: err}
		}
		current = step.Version
		db.version.Store(int64(current))
	}

	return current, nil
}

func (db *DB) applyStep(ctx context.Context, step Migration) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		db.q(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		step.Version, step.Name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (db *DB) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := db.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
