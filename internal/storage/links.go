package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashita-ai/novaport/internal/model"
)

// CreateLink records a relationship between two items. Item existence is not
// checked; links may refer to items of any type.
func (db *DB) CreateLink(ctx context.Context, l model.ContextLink) (model.ContextLink, error) {
	l.Timestamp = time.Now().UTC()
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			db.q(`INSERT INTO context_links
			      (timestamp, source_item_type, source_item_id, target_item_type, target_item_id, relationship_type, description)
			      VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			l.Timestamp, l.SourceItemType, l.SourceItemID, l.TargetItemType, l.TargetItemID, l.RelationshipType, l.Description,
		).Scan(&l.ID)
	})
	if err != nil {
		return model.ContextLink{}, fmt.Errorf("storage: create link: %w", err)
	}
	return l, nil
}

// LinksForItem returns links in which the item is either source or target,
// newest first.
func (db *DB) LinksForItem(ctx context.Context, itemType, itemID string, limit int) ([]model.ContextLink, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := db.db.QueryContext(ctx,
		db.q(`SELECT id, timestamp, source_item_type, source_item_id, target_item_type, target_item_id, relationship_type, description
		      FROM context_links
		      WHERE (source_item_type = ? AND source_item_id = ?) OR (target_item_type = ? AND target_item_id = ?)
		      ORDER BY id DESC LIMIT ?`),
		itemType, itemID, itemType, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: links for %s %s: %w", itemType, itemID, err)
	}
	defer rows.Close()

	var out []model.ContextLink
	for rows.Next() {
		var l model.ContextLink
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.SourceItemType, &l.SourceItemID,
			&l.TargetItemType, &l.TargetItemID, &l.RelationshipType, &l.Description); err != nil {
			return nil, fmt.Errorf("storage: scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecentActivity returns up to limit of the newest decisions, progress
// entries and system patterns.
func (db *DB) RecentActivity(ctx context.Context, limit int) (model.ActivitySummary, error) {
	var (
		sum model.ActivitySummary
		err error
	)
	if sum.Decisions, err = db.ListDecisions(ctx, model.DecisionFilter{Limit: limit}); err != nil {
		return sum, err
	}
	if sum.Progress, err = db.ListProgress(ctx, model.ProgressFilter{Limit: limit}); err != nil {
		return sum, err
	}
	if sum.SystemPatterns, err = db.ListSystemPatterns(ctx, limit, nil, nil); err != nil {
		return sum, err
	}
	return sum, nil
}
