// Package testutil provides shared test infrastructure: loggers, migrated
// SQLite workspace stores, and an optional Postgres container for the
// network dialect.
//
// Usage:
//
//	db := testutil.NewSQLiteDB(t)
//	dsn := testutil.StartPostgres(t) // skips when Docker is unavailable
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/migrations"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewSQLiteDB opens a fully migrated SQLite store in a temporary directory.
// The store is closed when the test ends.
func NewSQLiteDB(t testing.TB) *storage.DB {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Options{
		Dialect: storage.DialectSQLite,
		Path:    filepath.Join(t.TempDir(), "conport.db"),
	}, TestLogger())
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fsys, err := migrations.For(string(storage.DialectSQLite))
	if err != nil {
		t.Fatalf("testutil: migrations: %v", err)
	}
	if _, err := db.RunMigrations(ctx, fsys); err != nil {
		t.Fatalf("testutil: run migrations: %v", err)
	}
	return db
}

// StartPostgres starts a disposable Postgres container and returns its DSN.
// The test is skipped in -short mode or when no container runtime is
// reachable.
func StartPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("testutil: postgres container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "novaport",
			"POSTGRES_PASSWORD": "novaport",
			"POSTGRES_DB":       "novaport",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("testutil: failed to start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("testutil: failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("testutil: failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://novaport:novaport@%s:%s/novaport?sslmode=disable", host, port.Port())
}
