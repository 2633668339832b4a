package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Credential is the stored OAuth credential for one user's provider account.
// At most one live credential exists per user (user_id is the primary key).
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken *string
	Expiry       *time.Time // nil = non-expiring token
	Scope        string
	AccountID    string
	UpdatedAt    time.Time
}

// GetCredential returns the credential for a user, or ErrNotFound.
func (db *DB) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	var c Credential
	err := db.Pool.QueryRow(ctx, `
		SELECT user_id, access_token, refresh_token, expiry, scope, account_id, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(
		&c.UserID, &c.AccessToken, &c.RefreshToken, &c.Expiry, &c.Scope, &c.AccountID, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential inserts or replaces the credential row for a user. The
// whole row is replaced in one statement so a refresh swaps access token,
// expiry, and refresh token atomically.
func (db *DB) UpsertCredential(ctx context.Context, c *Credential) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO credentials (user_id, access_token, refresh_token, expiry, scope, account_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			scope = EXCLUDED.scope,
			account_id = EXCLUDED.account_id,
			updated_at = now()
	`, c.UserID, c.AccessToken, c.RefreshToken, c.Expiry, c.Scope, c.AccountID)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the credential for a user (revocation).
func (db *DB) DeleteCredential(ctx context.Context, userID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListCredentialUserIDs returns the user ids of all connected accounts.
// The webhook handler iterates these to run per-user sync passes.
func (db *DB) ListCredentialUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list credential users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindUserByAccountID maps a provider account id from a webhook payload back
// to a connected user. Returns ErrNotFound if no credential matches.
func (db *DB) FindUserByAccountID(ctx context.Context, accountID string) (string, error) {
	var userID string
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id FROM credentials WHERE account_id = $1 LIMIT 1`, accountID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find user by account: %w", err)
	}
	return userID, nil
}
