package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/testutil"
	"github.com/ashita-ai/novaport/migrations"
)

// Two workspaces sharing one Postgres database live in separate schemas and
// never see each other's rows.
func TestPostgresWorkspaceSchemasAreIsolated(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	ctx := context.Background()
	fsys, err := migrations.For("postgres")
	require.NoError(t, err)

	open := func(path string) *storage.DB {
		db, err := storage.Open(ctx, storage.Options{
			Dialect: storage.DialectPostgres,
			DSN:     dsn,
			Schema:  storage.SchemaName(path),
		}, testutil.TestLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		v, err := db.RunMigrations(ctx, fsys)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
		return db
	}
	a := open("/work/a")
	b := open("/work/b")

	_, rec, err := a.UpdateContext(ctx, model.ProductContext, "test", func(cur map[string]any) (map[string]any, error) {
		return docpatch.Merge(cur, docpatch.Full(map[string]any{"name": "a"})), nil
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	docB, err := b.GetContext(ctx, model.ProductContext)
	require.NoError(t, err)
	assert.Empty(t, docB.Content)

	d, err := a.CreateDecision(ctx, model.Decision{Summary: "pg", Tags: []string{"x"}})
	require.NoError(t, err)
	_, err = b.GetDecision(ctx, d.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Full-text search stays inside the workspace schema.
	_, err = a.UpsertCustomData(ctx, model.CustomData{Category: "ProjectGlossary", Key: "ws", Value: "workspace directory"})
	require.NoError(t, err)
	found, err := a.SearchDecisionsText(ctx, "pg", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, d.ID, found[0].ID)
	found, err = b.SearchDecisionsText(ctx, "pg", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
	entries, err := a.SearchCustomDataText(ctx, "work*", "ProjectGlossary", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	entries, err = a.SearchCustomDataText(ctx, "workspace", "other", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Re-running migrations on an up-to-date schema is a no-op.
	v, err := a.RunMigrations(ctx, fsys)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
