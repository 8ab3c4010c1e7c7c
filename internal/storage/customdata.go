package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
)

// UpsertCustomData stores value under (category, key), replacing any
// existing value.
func (db *DB) UpsertCustomData(ctx context.Context, c model.CustomData) (model.CustomData, error) {
	c.Timestamp = time.Now().UTC()
	raw, err := json.Marshal(c.Value)
	if err != nil {
		return model.CustomData{}, fmt.Errorf("storage: encode custom data %s/%s: %w", c.Category, c.Key, err)
	}
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			db.q(`INSERT INTO custom_data (timestamp, category, key, value) VALUES (?, ?, ?, ?)
			      ON CONFLICT (category, key) DO UPDATE SET
			          timestamp = excluded.timestamp,
			          value = excluded.value
			      RETURNING id`),
			c.Timestamp, c.Category, c.Key, string(raw),
		).Scan(&c.ID)
	})
	if err != nil {
		return model.CustomData{}, fmt.Errorf("storage: upsert custom data: %w", err)
	}
	return c, nil
}

// GetCustomData returns one entry, or ErrNotFound.
func (db *DB) GetCustomData(ctx context.Context, category, key string) (model.CustomData, error) {
	row := db.db.QueryRowContext(ctx,
		db.q(`SELECT id, timestamp, category, key, value FROM custom_data WHERE category = ? AND key = ?`),
		category, key)
	c, err := scanCustomData(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CustomData{}, fmt.Errorf("storage: custom data %s/%s: %w", category, key, ErrNotFound)
	}
	return c, err
}

// ListCustomData returns entries ordered by category and key. An empty
// category lists everything.
func (db *DB) ListCustomData(ctx context.Context, category string) ([]model.CustomData, error) {
	query := `SELECT id, timestamp, category, key, value FROM custom_data`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, key`

	rows, err := db.db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list custom data: %w", err)
	}
	defer rows.Close()

	var out []model.CustomData
	for rows.Next() {
		c, err := scanCustomData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCustomData removes an entry and returns its ID, or ErrNotFound.
func (db *DB) DeleteCustomData(ctx context.Context, category, key string) (int64, error) {
	var id int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			db.q(`SELECT id FROM custom_data WHERE category = ? AND key = ?`), category, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("storage: custom data %s/%s: %w", category, key, ErrNotFound)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, db.q(`DELETE FROM custom_data WHERE id = ?`), id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storage: delete custom data: %w", err)
	}
	return id, nil
}

func scanCustomData(row rowScanner) (model.CustomData, error) {
	var (
		c   model.CustomData
		raw string
	)
	if err := row.Scan(&c.ID, &c.Timestamp, &c.Category, &c.Key, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("storage: scan custom data: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &c.Value); err != nil {
		return c, fmt.Errorf("storage: decode custom data %s/%s: %w", c.Category, c.Key, err)
	}
	return c, nil
}
