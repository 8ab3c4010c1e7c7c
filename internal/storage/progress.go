package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
)

// CreateProgress inserts a progress entry. A non-nil ParentID must refer to
// an existing entry.
func (db *DB) CreateProgress(ctx context.Context, p model.ProgressEntry) (model.ProgressEntry, error) {
	p.Timestamp = time.Now().UTC()
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if p.ParentID != nil {
			if err := progressExists(ctx, db, tx, *p.ParentID); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx,
			db.q(`INSERT INTO progress_entries (timestamp, status, description, parent_id) VALUES (?, ?, ?, ?) RETURNING id`),
			p.Timestamp, p.Status, p.Description, nullableID(p.ParentID),
		).Scan(&p.ID)
	})
	if err != nil {
		return model.ProgressEntry{}, fmt.Errorf("storage: create progress: %w", err)
	}
	return p, nil
}

// GetProgress returns a progress entry by ID, or ErrNotFound.
func (db *DB) GetProgress(ctx context.Context, id int64) (model.ProgressEntry, error) {
	row := db.db.QueryRowContext(ctx,
		db.q(`SELECT id, timestamp, status, description, parent_id FROM progress_entries WHERE id = ?`), id)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProgressEntry{}, fmt.Errorf("storage: progress %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProgress returns progress entries newest first.
func (db *DB) ListProgress(ctx context.Context, f model.ProgressFilter) ([]model.ProgressEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *f.ParentID)
	}
	if f.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := `SELECT id, timestamp, status, description, parent_id FROM progress_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`

	rows, err := db.db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list progress: %w", err)
	}
	defer rows.Close()

	var out []model.ProgressEntry
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProgress applies the non-nil fields of u and returns the new entry.
func (db *DB) UpdateProgress(ctx context.Context, id int64, u model.ProgressUpdate) (model.ProgressEntry, error) {
	var (
		sets []string
		args []any
	)
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.ParentID != nil {
		if *u.ParentID == id {
			return model.ProgressEntry{}, fmt.Errorf("storage: progress %d cannot be its own parent", id)
		}
		sets = append(sets, "parent_id = ?")
		args = append(args, *u.ParentID)
	}
	if len(sets) == 0 {
		return db.GetProgress(ctx, id)
	}
	args = append(args, id)

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if u.ParentID != nil {
			if err := progressExists(ctx, db, tx, *u.ParentID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			db.q(`UPDATE progress_entries SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("storage: progress %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return model.ProgressEntry{}, fmt.Errorf("storage: update progress: %w", err)
	}
	return db.GetProgress(ctx, id)
}

// DeleteProgress removes an entry together with all of its descendants and
// returns the IDs removed, the requested entry first.
func (db *DB) DeleteProgress(ctx context.Context, id int64) ([]int64, error) {
	var removed []int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := progressExists(ctx, db, tx, id); err != nil {
			return err
		}
		removed = []int64{id}
		seen := map[int64]bool{id: true}
		for i := 0; i < len(removed); i++ {
			children, err := childProgressIDs(ctx, db, tx, removed[i])
			if err != nil {
				return err
			}
			for _, c := range children {
				if !seen[c] {
					seen[c] = true
					removed = append(removed, c)
				}
			}
		}
		// Leaves first so no parent reference dangles mid-way.
		for i := len(removed) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM progress_entries WHERE id = ?`), removed[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: delete progress: %w", err)
	}
	return removed, nil
}

func progressExists(ctx context.Context, db *DB, tx *sql.Tx, id int64) error {
	var found int64
	err := tx.QueryRowContext(ctx, db.q(`SELECT id FROM progress_entries WHERE id = ?`), id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage: progress %d: %w", id, ErrNotFound)
	}
	return err
}

func childProgressIDs(ctx context.Context, db *DB, tx *sql.Tx, parent int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, db.q(`SELECT id FROM progress_entries WHERE parent_id = ? ORDER BY id`), parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProgress(row rowScanner) (model.ProgressEntry, error) {
	var (
		p      model.ProgressEntry
		parent sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Timestamp, &p.Status, &p.Description, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("storage: scan progress: %w", err)
	}
	if parent.Valid {
		v := parent.Int64
		p.ParentID = &v
	}
	return p, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
