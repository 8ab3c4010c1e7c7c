package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
)

// defaultListLimit caps listings when the caller gives no limit.
const defaultListLimit = 50

// CreateDecision inserts a decision and returns it with ID and timestamp set.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	d.Timestamp = time.Now().UTC()
	tags, err := encodeTags(d.Tags)
	if err != nil {
		return model.Decision{}, err
	}
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			db.q(`INSERT INTO decisions (timestamp, summary, rationale, implementation_details, tags)
			      VALUES (?, ?, ?, ?, ?) RETURNING id`),
			d.Timestamp, d.Summary, d.Rationale, d.ImplementationDetails, tags,
		).Scan(&d.ID)
	})
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

// GetDecision returns a decision by ID, or ErrNotFound.
func (db *DB) GetDecision(ctx context.Context, id int64) (model.Decision, error) {
	row := db.db.QueryRowContext(ctx,
		db.q(`SELECT id, timestamp, summary, rationale, implementation_details, tags FROM decisions WHERE id = ?`), id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Decision{}, fmt.Errorf("storage: decision %d: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDecisions returns decisions newest first. Tag filters are applied
// before the limit.
func (db *DB) ListDecisions(ctx context.Context, f model.DecisionFilter) ([]model.Decision, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	filtered := len(f.TagsAll) > 0 || len(f.TagsAny) > 0

	query := `SELECT id, timestamp, summary, rationale, implementation_details, tags FROM decisions ORDER BY id DESC`
	var args []any
	if !filtered {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		if !hasAllTags(d.Tags, f.TagsAll) || !hasAnyTag(d.Tags, f.TagsAny) {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

// DeleteDecision removes a decision, or returns ErrNotFound.
func (db *DB) DeleteDecision(ctx context.Context, id int64) error {
	return db.deleteByID(ctx, "decisions", id)
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var (
		d    model.Decision
		tags string
	)
	if err := row.Scan(&d.ID, &d.Timestamp, &d.Summary, &d.Rationale, &d.ImplementationDetails, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("storage: scan decision: %w", err)
	}
	var err error
	d.Tags, err = decodeTags(tags)
	return d, err
}

// deleteByID removes one row from table. table is always a constant.
func (db *DB) deleteByID(ctx context.Context, table string, id int64) error {
	var affected int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, db.q(`DELETE FROM `+table+` WHERE id = ?`), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: delete from %s: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("storage: %s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("storage: encode tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("storage: decode tags: %w", err)
	}
	return tags, nil
}

func hasAllTags(tags, want []string) bool {
	for _, w := range want {
		if !slices.Contains(tags, w) {
			return false
		}
	}
	return true
}

func hasAnyTag(tags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if slices.Contains(tags, w) {
			return true
		}
	}
	return false
}
