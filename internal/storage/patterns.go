package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
)

// UpsertSystemPattern stores a pattern keyed by its unique name. Logging a
// name that exists replaces its description and tags.
func (db *DB) UpsertSystemPattern(ctx context.Context, p model.SystemPattern) (model.SystemPattern, error) {
	p.Timestamp = time.Now().UTC()
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return model.SystemPattern{}, err
	}
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			db.q(`INSERT INTO system_patterns (timestamp, name, description, tags) VALUES (?, ?, ?, ?)
			      ON CONFLICT (name) DO UPDATE SET
			          timestamp = excluded.timestamp,
			          description = excluded.description,
			          tags = excluded.tags
			      RETURNING id`),
			p.Timestamp, p.Name, p.Description, tags,
		).Scan(&p.ID)
	})
	if err != nil {
		return model.SystemPattern{}, fmt.Errorf("storage: upsert system pattern: %w", err)
	}
	return p, nil
}

// GetSystemPattern returns a pattern by ID, or ErrNotFound.
func (db *DB) GetSystemPattern(ctx context.Context, id int64) (model.SystemPattern, error) {
	row := db.db.QueryRowContext(ctx,
		db.q(`SELECT id, timestamp, name, description, tags FROM system_patterns WHERE id = ?`), id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SystemPattern{}, fmt.Errorf("storage: system pattern %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ListSystemPatterns returns patterns newest first, filtered by tags.
func (db *DB) ListSystemPatterns(ctx context.Context, limit int, tagsAll, tagsAny []string) ([]model.SystemPattern, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, timestamp, name, description, tags FROM system_patterns ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list system patterns: %w", err)
	}
	defer rows.Close()

	var out []model.SystemPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		if !hasAllTags(p.Tags, tagsAll) || !hasAnyTag(p.Tags, tagsAny) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

// DeleteSystemPattern removes a pattern, or returns ErrNotFound.
func (db *DB) DeleteSystemPattern(ctx context.Context, id int64) error {
	return db.deleteByID(ctx, "system_patterns", id)
}

func scanPattern(row rowScanner) (model.SystemPattern, error) {
	var (
		p    model.SystemPattern
		tags string
	)
	if err := row.Scan(&p.ID, &p.Timestamp, &p.Name, &p.Description, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("storage: scan system pattern: %w", err)
	}
	var err error
	p.Tags, err = decodeTags(tags)
	return p, err
}
