package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Opener opens the index stored at a resolved vector path.
type Opener func(ctx context.Context, path string) (Index, error)

// LocalOpener opens LocalIndex collections.
func LocalOpener(collection string, dims int, logger *slog.Logger) Opener {
	return func(ctx context.Context, path string) (Index, error) {
		return OpenLocalIndex(ctx, path, collection, dims, logger)
	}
}

// QdrantOpener opens one collection per path on a shared backend.
func QdrantOpener(b *QdrantBackend) Opener {
	return func(ctx context.Context, path string) (Index, error) {
		return b.Open(ctx, path)
	}
}

// Cache keeps at most one open index per vector path.
type Cache struct {
	open   Opener
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	indexes map[string]Index
}

// NewCache returns an empty cache that opens indexes with open.
func NewCache(open Opener, logger *slog.Logger) *Cache {
	return &Cache{open: open, logger: logger, indexes: make(map[string]Index)}
}

func (c *Cache) lookup(path string) (Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[path]
	return idx, ok
}

// GetOrCreate returns the cached index for path, opening it on first use.
// Concurrent first callers share one open. A caller whose ctx ends stops
// waiting; the open still completes and is cached for the others.
func (c *Cache) GetOrCreate(ctx context.Context, path string) (Index, error) {
	if idx, ok := c.lookup(path); ok {
		return idx, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		if idx, ok := c.lookup(path); ok {
			return idx, nil
		}
		idx, err := c.open(context.WithoutCancel(ctx), path)
		if err != nil {
			var se *StoreError
			if !errors.As(err, &se) {
				err = &StoreError{Op: "open", Path: path, Err: err}
			}
			return nil, err
		}
		c.mu.Lock()
		c.indexes[path] = idx
		c.mu.Unlock()
		c.logger.Info("search: index opened", "path", path)
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Index), nil
	}
}

// Release evicts the index for path and closes it with CloseWithRetry.
// Releasing an unknown path is a no-op.
func (c *Cache) Release(ctx context.Context, path string, opts ReleaseOptions) error {
	c.mu.Lock()
	idx, ok := c.indexes[path]
	delete(c.indexes, path)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := CloseWithRetry(ctx, idx, opts); err != nil {
		c.logger.Warn("search: index release failed", "path", path, "error", err)
		return &StoreError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// CloseAll releases every cached index.
func (c *Cache) CloseAll(ctx context.Context, opts ReleaseOptions) error {
	c.mu.Lock()
	paths := make([]string, 0, len(c.indexes))
	for p := range c.indexes {
		paths = append(paths, p)
	}
	c.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := c.Release(ctx, p, opts); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("search: close all: %w", errors.Join(errs...))
	}
	return nil
}

// Len returns the number of open indexes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indexes)
}
