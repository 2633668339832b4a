package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertOAuthState stores a single-use handshake state bound to a user.
func (db *DB) InsertOAuthState(ctx context.Context, state, userID string, expiresAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO oauth_states (state, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, state, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically deletes the state row and returns the bound
// user id. Expired or unknown states return ErrNotFound, so a state can be
// used at most once.
func (db *DB) ConsumeOAuthState(ctx context.Context, state string) (string, error) {
	var userID string
	err := db.Pool.QueryRow(ctx, `
		DELETE FROM oauth_states
		WHERE state = $1 AND expires_at > now()
		RETURNING user_id
	`, state).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume oauth state: %w", err)
	}
	return userID, nil
}

// PurgeExpiredOAuthStates removes handshake states past their TTL.
func (db *DB) PurgeExpiredOAuthStates(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return tag.RowsAffected(), nil
}
