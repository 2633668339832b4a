package sync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/vault"
)

// AccountResolver maps webhook account ids to connected users.
type AccountResolver interface {
	FindUserByAccountID(ctx context.Context, accountID string) (string, error)
	ListCredentialUserIDs(ctx context.Context) ([]string, error)
}

// Intaker materializes a detected file as a record.
type Intaker interface {
	Intake(ctx context.Context, userID string, file NewFile) (*database.Record, error)
}

// Runner drives a sync pass across connected users in response to a
// webhook. Users are processed sequentially; failures are scoped to one
// user and never abort the rest of the batch.
type Runner struct {
	accounts AccountResolver
	syncer   *Syncer
	intake   Intaker
	log      zerolog.Logger
}

func NewRunner(accounts AccountResolver, syncer *Syncer, intake Intaker, log zerolog.Logger) *Runner {
	return &Runner{
		accounts: accounts,
		syncer:   syncer,
		intake:   intake,
		log:      log.With().Str("component", "sync-runner").Logger(),
	}
}

// RunForAccounts syncs the users behind the given provider account ids.
// Unknown accounts are skipped. An empty list falls back to all connected
// users (the provider webhook omits accounts on some notification types).
func (r *Runner) RunForAccounts(ctx context.Context, accountIDs []string) {
	var userIDs []string
	if len(accountIDs) == 0 {
		ids, err := r.accounts.ListCredentialUserIDs(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("failed to list connected users")
			return
		}
		userIDs = ids
	} else {
		for _, acct := range accountIDs {
			userID, err := r.accounts.FindUserByAccountID(ctx, acct)
			if errors.Is(err, database.ErrNotFound) {
				r.log.Debug().Str("account_id", acct).Msg("webhook for unconnected account, skipping")
				continue
			}
			if err != nil {
				r.log.Error().Err(err).Str("account_id", acct).Msg("account lookup failed")
				continue
			}
			userIDs = append(userIDs, userID)
		}
	}

	for _, userID := range userIDs {
		r.runUser(ctx, userID)
	}
}

func (r *Runner) runUser(ctx context.Context, userID string) {
	files, err := r.syncer.Sync(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrReauthRequired), errors.Is(err, vault.ErrUnauthorized):
			// Terminal for this user only; others proceed unaffected.
			r.log.Warn().Err(err).Str("user_id", userID).Msg("user needs reauthorization, skipping sync")
		default:
			r.log.Error().Err(err).Str("user_id", userID).Msg("sync failed")
		}
		return
	}

	for _, f := range files {
		if _, err := r.intake.Intake(ctx, userID, f); err != nil {
			// Per-file failure; the cursor has already advanced and
			// redelivery plus intake idempotency covers recovery.
			r.log.Error().Err(err).Str("user_id", userID).Str("path", f.Path).Msg("intake failed")
		}
	}
}
