package database

import (
	"context"
	"fmt"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add records transcript search index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_records_transcript_tsv ON records USING gin (to_tsvector('english', coalesce(transcript, '')))`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_records_transcript_tsv')`,
	},
	{
		name:  "add credentials.account_id index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_credentials_account ON credentials (account_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_credentials_account')`,
	},
	{
		name:  "add oauth_states expiry index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_oauth_states_expires ON oauth_states (expires_at)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_oauth_states_expires')`,
	},
}

// Migrate runs all pending schema migrations. For each migration, it first
// checks whether the change is already present. If not, it attempts to apply
// it. Apply failures are fatal since queries depend on the schema.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		db.log.Debug().Msg("no pending migrations")
		return nil
	}

	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
		db.log.Info().Str("migration", m.name).Msg("migration applied")
	}
	return nil
}
