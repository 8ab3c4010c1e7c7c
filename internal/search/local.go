package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	// LocalIndexFile is the database file inside a workspace vector directory.
	LocalIndexFile = "index.sqlite"
	// DefaultCollection names the collection every workspace index uses.
	DefaultCollection = "conport_default"
)

var errIndexClosed = errors.New("index is closed")

// LocalIndex is a vector collection stored in a SQLite file inside the
// workspace. Vectors are kept as pgvector text literals and ranked by exact
// cosine similarity in process; equal scores keep insertion order.
type LocalIndex struct {
	db         *sql.DB
	path       string
	collection string
	dims       int
	logger     *slog.Logger
	closed     atomic.Bool
}

// OpenLocalIndex opens (creating when missing) the index under dir. dims,
// when positive, is enforced on every stored and queried vector.
func OpenLocalIndex(ctx context.Context, dir, collection string, dims int, logger *slog.Logger) (*LocalIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	path := filepath.Join(dir, LocalIndexFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &StoreError{Op: "open", Path: path, Err: err}
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Path: path, Err: err}
	}
	// One connection: writes are serialized by the pool instead of by SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS vectors (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		embedding  TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		UNIQUE (collection, id)
	)`); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "open", Path: path, Err: err}
	}

	logger.Debug("search: local index opened", "path", path, "collection", collection)
	return &LocalIndex{db: db, path: path, collection: collection, dims: dims, logger: logger}, nil
}

// Path returns the index database file.
func (l *LocalIndex) Path() string { return l.path }

func (l *LocalIndex) checkDims(v []float32) error {
	if l.dims > 0 && len(v) != l.dims {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(v), l.dims)
	}
	return nil
}

// Upsert inserts or replaces items in a single transaction. A replaced item
// keeps its original insertion position.
func (l *LocalIndex) Upsert(ctx context.Context, items []Item) error {
	if l.closed.Load() {
		return &StoreError{Op: "upsert", Path: l.path, Err: errIndexClosed}
	}
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.ID == "" {
			return &StoreError{Op: "upsert", Path: l.path, Err: errors.New("item id is empty")}
		}
		if err := l.checkDims(it.Vector); err != nil {
			return &StoreError{Op: "upsert", Path: l.path, Err: fmt.Errorf("%s: %w", it.ID, err)}
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "upsert", Path: l.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, it := range items {
		meta := it.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return &StoreError{Op: "upsert", Path: l.path, Err: fmt.Errorf("%s: encode metadata: %w", it.ID, err)}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vectors (collection, id, embedding, metadata) VALUES (?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata`,
			l.collection, it.ID, pgvector.NewVector(it.Vector), string(metaJSON),
		); err != nil {
			return &StoreError{Op: "upsert", Path: l.path, Err: fmt.Errorf("%s: %w", it.ID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "upsert", Path: l.path, Err: err}
	}
	return nil
}

// Delete removes items by ID.
func (l *LocalIndex) Delete(ctx context.Context, ids []string) error {
	if l.closed.Load() {
		return &StoreError{Op: "delete", Path: l.path, Err: errIndexClosed}
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "delete", Path: l.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ? AND id = ?`, l.collection, id); err != nil {
			return &StoreError{Op: "delete", Path: l.path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "delete", Path: l.path, Err: err}
	}
	return nil
}

// Query scans the collection, keeps items passing filter and returns the
// topK most similar.
func (l *LocalIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if l.closed.Load() {
		return nil, &StoreError{Op: "query", Path: l.path, Err: errIndexClosed}
	}
	if err := l.checkDims(vector); err != nil {
		return nil, &StoreError{Op: "query", Path: l.path, Err: err}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, embedding, metadata FROM vectors WHERE collection = ? ORDER BY seq`, l.collection)
	if err != nil {
		return nil, &StoreError{Op: "query", Path: l.path, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var (
			id       string
			emb      pgvector.Vector
			metaJSON string
		)
		if err := rows.Scan(&id, &emb, &metaJSON); err != nil {
			return nil, &StoreError{Op: "query", Path: l.path, Err: err}
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			l.logger.Warn("search: skipping item with corrupt metadata", "path", l.path, "id", id, "error", err)
			continue
		}
		if !filter.Match(meta) {
			continue
		}
		score, ok := cosine(vector, emb.Slice())
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "query", Path: l.path, Err: err}
	}

	// Stable: rows arrive in insertion order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of items in the collection.
func (l *LocalIndex) Count(ctx context.Context) (int, error) {
	if l.closed.Load() {
		return 0, &StoreError{Op: "count", Path: l.path, Err: errIndexClosed}
	}
	var n int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE collection = ?`, l.collection).Scan(&n); err != nil {
		return 0, &StoreError{Op: "count", Path: l.path, Err: err}
	}
	return n, nil
}

// Close releases the database file. Operations started after Close fail;
// Close may be called again to retry a failed release.
func (l *LocalIndex) Close() error {
	l.closed.Store(true)
	if err := l.db.Close(); err != nil {
		return &StoreError{Op: "close", Path: l.path, Err: err}
	}
	return nil
}

// cosine returns the cosine similarity of a and b. ok is false when the
// lengths differ or either vector is zero.
func cosine(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), true
}
