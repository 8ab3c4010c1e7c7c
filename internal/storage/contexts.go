package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
)

// MutateFunc computes the next content of a context document from its
// current content. It may be called more than once if the write is retried.
type MutateFunc func(current map[string]any) (map[string]any, error)

// GetContext returns the context document of the given kind, creating an
// empty one on first access.
func (db *DB) GetContext(ctx context.Context, kind model.ContextKind) (model.ContextDocument, error) {
	var doc model.ContextDocument
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		doc, err = db.loadContext(ctx, tx, kind, false)
		return err
	})
	return doc, err
}

// UpdateContext runs a read-merge-write cycle on a context document. The
// mutation, the history record and the new content commit together; when the
// result equals the current content nothing is written and the returned
// history record is nil. Concurrent updates of the same store are applied
// one after another, so none is lost.
func (db *DB) UpdateContext(ctx context.Context, kind model.ContextKind, changeSource string, mutate MutateFunc) (model.ContextDocument, *model.HistoryRecord, error) {
	db.docMu.Lock()
	defer db.docMu.Unlock()

	var (
		doc model.ContextDocument
		rec *model.HistoryRecord
	)
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		rec = nil
		current, err := db.loadContext(ctx, tx, kind, true)
		if err != nil {
			return err
		}

		next, err := mutate(current.Content)
		if err != nil {
			return err
		}
		if docpatch.Equal(current.Content, next) {
			doc = current
			return nil
		}

		now := time.Now().UTC()
		rec, err = db.insertHistory(ctx, tx, kind, current.Content, next, changeSource, now)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("storage: encode %s: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx,
			db.q(`UPDATE context_documents SET content = ?, updated_at = ? WHERE kind = ?`),
			string(raw), now, string(kind),
		); err != nil {
			return fmt.Errorf("storage: update %s: %w", kind, err)
		}

		doc = model.ContextDocument{Kind: kind, Content: next, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return model.ContextDocument{}, nil, err
	}
	return doc, rec, nil
}

// loadContext reads a context row inside tx, inserting the empty singleton
// if it does not exist yet. lock takes a row lock where the dialect has one.
func (db *DB) loadContext(ctx context.Context, tx *sql.Tx, kind model.ContextKind, lock bool) (model.ContextDocument, error) {
	if _, err := tx.ExecContext(ctx,
		db.q(`INSERT INTO context_documents (kind, content, updated_at) VALUES (?, '{}', ?) ON CONFLICT (kind) DO NOTHING`),
		string(kind), time.Now().UTC(),
	); err != nil {
		return model.ContextDocument{}, fmt.Errorf("storage: ensure %s: %w", kind, err)
	}

	query := `SELECT content, updated_at FROM context_documents WHERE kind = ?`
	if lock {
		query += db.forUpdate()
	}

	var (
		raw string
		doc = model.ContextDocument{Kind: kind}
	)
	if err := tx.QueryRowContext(ctx, db.q(query), string(kind)).Scan(&raw, &doc.UpdatedAt); err != nil {
		return model.ContextDocument{}, fmt.Errorf("storage: get %s: %w", kind, err)
	}
	content, err := decodeObject(raw)
	if err != nil {
		return model.ContextDocument{}, fmt.Errorf("storage: decode %s: %w", kind, err)
	}
	doc.Content = content
	return doc, nil
}

func decodeObject(raw string) (map[string]any, error) {
	m := map[string]any{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
