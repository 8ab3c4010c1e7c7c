package workspace

import (
	"context"
	"sync/atomic"

	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/storage"
)

// Workspace holds the open handles of one provisioned workspace. It is safe
// for concurrent use.
type Workspace struct {
	paths  Paths
	db     *storage.DB
	reg    *Registry
	closed atomic.Bool
}

// Path returns the resolved workspace path.
func (w *Workspace) Path() string { return w.paths.Root }

// Paths returns the on-disk layout.
func (w *Workspace) Paths() Paths { return w.paths }

// DB returns the relational store.
func (w *Workspace) DB() *storage.DB { return w.db }

// Closed reports whether the workspace was cleaned up.
func (w *Workspace) Closed() bool { return w.closed.Load() }

// Index returns the vector index, opening it if an earlier open failed.
// Errors match search.ErrVectorStore and never affect the store.
func (w *Workspace) Index(ctx context.Context) (search.Index, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	idx, err := w.reg.indexes.GetOrCreate(ctx, w.paths.VectorDir)
	if err != nil {
		return nil, err
	}
	if w.closed.Load() {
		// Cleanup ran while the index was opening.
		w.reg.dropStaleIndex(ctx, w)
		return nil, ErrClosed
	}
	return idx, nil
}
