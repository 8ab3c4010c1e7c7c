// Package migrations embeds the workspace schema migrations for each
// relational dialect. Migrations are embedded so they work regardless of
// working directory.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// For returns the migration steps for a dialect ("sqlite" or "postgres").
// Each file is named NNN_name.sql.
func For(dialect string) (fs.FS, error) {
	switch dialect {
	case "sqlite", "postgres":
		return fs.Sub(files, dialect)
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}
