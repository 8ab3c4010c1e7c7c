package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
)

// insertHistory appends the snapshot of prior with the next version number
// for kind.
func (db *DB) insertHistory(ctx context.Context, tx *sql.Tx, kind model.ContextKind, prior, next map[string]any, changeSource string, at time.Time) (*model.HistoryRecord, error) {
	var version int
	if err := tx.QueryRowContext(ctx,
		db.q(`SELECT COALESCE(MAX(version), 0) + 1 FROM context_history WHERE kind = ?`),
		string(kind),
	).Scan(&version); err != nil {
		return nil, fmt.Errorf("storage: next history version for %s: %w", kind, err)
	}

	diff := docpatch.Compute(prior, next)
	rawContent, err := json.Marshal(prior)
	if err != nil {
		return nil, fmt.Errorf("storage: encode history content: %w", err)
	}
	rawDiff, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("storage: encode history diff: %w", err)
	}

	rec := &model.HistoryRecord{
		Kind:         kind,
		Version:      version,
		Timestamp:    at,
		Content:      prior,
		Diff:         diff,
		ChangeSource: changeSource,
	}
	if err := tx.QueryRowContext(ctx,
		db.q(`INSERT INTO context_history (kind, version, timestamp, content, diff, change_source)
		      VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		string(kind), version, at, string(rawContent), string(rawDiff), changeSource,
	).Scan(&rec.ID); err != nil {
		return nil, fmt.Errorf("storage: insert history for %s: %w", kind, err)
	}
	return rec, nil
}

// ContextHistory returns history records of kind, newest version first.
func (db *DB) ContextHistory(ctx context.Context, kind model.ContextKind, f model.HistoryFilter) ([]model.HistoryRecord, error) {
	var (
		where = []string{"kind = ?"}
		args  = []any{string(kind)}
	)
	if f.Version != nil {
		where = append(where, "version = ?")
		args = append(args, *f.Version)
	}
	if f.Before != nil {
		where = append(where, "timestamp < ?")
		args = append(args, f.Before.UTC())
	}
	if f.After != nil {
		where = append(where, "timestamp > ?")
		args = append(args, f.After.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = model.DefaultHistoryLimit
	}
	args = append(args, limit)

	query := `SELECT id, kind, version, timestamp, content, diff, change_source
	          FROM context_history WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY version DESC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query %s history: %w", kind, err)
	}
	defer rows.Close()

	var out []model.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ContextHistoryVersion returns a single history record, or ErrNotFound.
func (db *DB) ContextHistoryVersion(ctx context.Context, kind model.ContextKind, version int) (model.HistoryRecord, error) {
	row := db.db.QueryRowContext(ctx,
		db.q(`SELECT id, kind, version, timestamp, content, diff, change_source
		      FROM context_history WHERE kind = ? AND version = ?`),
		string(kind), version,
	)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryRecord{}, fmt.Errorf("storage: %s history version %d: %w", kind, version, ErrNotFound)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (model.HistoryRecord, error) {
	var (
		rec             model.HistoryRecord
		kind            string
		rawContent, raw string
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Version, &rec.Timestamp, &rawContent, &raw, &rec.ChangeSource); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("storage: scan history: %w", err)
	}
	rec.Kind = model.ContextKind(kind)

	content, err := decodeObject(rawContent)
	if err != nil {
		return rec, fmt.Errorf("storage: decode history content: %w", err)
	}
	rec.Content = content

	rec.Diff = docpatch.Diff{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Diff); err != nil {
			return rec, fmt.Errorf("storage: decode history diff: %w", err)
		}
	}
	return rec, nil
}
