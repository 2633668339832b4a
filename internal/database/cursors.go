package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCursor returns the stored sync cursor for a user, or ErrNotFound on the
// first sync (no baseline established yet).
func (db *DB) GetCursor(ctx context.Context, userID string) (string, error) {
	var cursor string
	err := db.Pool.QueryRow(ctx,
		`SELECT cursor FROM sync_cursors WHERE user_id = $1`, userID,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// UpsertCursor stores the latest cursor for a user. Called immediately after
// every successful change-list page so a bad file downstream cannot wedge the
// sync position.
func (db *DB) UpsertCursor(ctx context.Context, userID, cursor string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sync_cursors (user_id, cursor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()
	`, userID, cursor)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// DeleteCursor drops a user's cursor, forcing the next sync to re-baseline.
// Used on disconnect and by operator reinitialization.
func (db *DB) DeleteCursor(ctx context.Context, userID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM sync_cursors WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}
