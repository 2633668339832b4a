// Package vault manages per-user Dropbox OAuth credentials: transparent
// refresh ahead of expiry and the authorization handshake with single-use
// state values.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/dropbox"
)

// Credentials with expiry inside this window are refreshed before use, so a
// returned token stays valid for the duration of a sync pass.
const refreshWindow = 5 * time.Minute

// stateTTL bounds the handshake: a state value not redeemed within this
// window is dead.
const stateTTL = 10 * time.Minute

var (
	// ErrUnauthorized means no credential exists for the user.
	ErrUnauthorized = errors.New("no credential for user")

	// ErrReauthRequired means the stored credential cannot be refreshed:
	// either no refresh token is stored or the provider rejected the
	// exchange. Terminal until the user re-runs the handshake.
	ErrReauthRequired = errors.New("reauthorization required")

	// ErrInvalidState means the callback state did not match a live
	// handshake. The code is not exchanged.
	ErrInvalidState = errors.New("invalid or expired oauth state")
)

// Store is the credential persistence surface the vault needs.
type Store interface {
	GetCredential(ctx context.Context, userID string) (*database.Credential, error)
	UpsertCredential(ctx context.Context, c *database.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
	InsertOAuthState(ctx context.Context, state, userID string, expiresAt time.Time) error
	ConsumeOAuthState(ctx context.Context, state string) (string, error)
	DeleteCursor(ctx context.Context, userID string) error
}

// Provider is the token-endpoint surface of the Dropbox client.
type Provider interface {
	AuthorizeURL(redirectURL, state string) string
	ExchangeCode(ctx context.Context, code, redirectURL string) (*dropbox.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*dropbox.Token, error)
	RevokeToken(ctx context.Context, token string) error
}

type Vault struct {
	store       Store
	provider    Provider
	redirectURL string
	log         zerolog.Logger
	now         func() time.Time
}

func New(store Store, provider Provider, redirectURL string, log zerolog.Logger) *Vault {
	return &Vault{
		store:       store,
		provider:    provider,
		redirectURL: redirectURL,
		log:         log.With().Str("component", "vault").Logger(),
		now:         time.Now,
	}
}

// GetValidToken returns an access token valid for at least the refresh
// window, refreshing transparently when the stored expiry is near. A nil
// expiry marks a non-expiring token and is never refreshed.
func (v *Vault) GetValidToken(ctx context.Context, userID string) (string, error) {
	cred, err := v.store.GetCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return "", fmt.Errorf("user %s: %w", userID, ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}

	if cred.Expiry == nil || v.now().Add(refreshWindow).Before(*cred.Expiry) {
		return cred.AccessToken, nil
	}

	return v.refresh(ctx, cred)
}

func (v *Vault) refresh(ctx context.Context, cred *database.Credential) (string, error) {
	if cred.RefreshToken == nil || *cred.RefreshToken == "" {
		return "", fmt.Errorf("user %s: no refresh token: %w", cred.UserID, ErrReauthRequired)
	}

	tok, err := v.provider.RefreshToken(ctx, *cred.RefreshToken)
	if err != nil {
		// Any rejection of the refresh grant means the credential is dead;
		// only a fresh user-driven handshake can recover.
		return "", fmt.Errorf("user %s: refresh rejected: %v: %w", cred.UserID, err, ErrReauthRequired)
	}

	updated := *cred
	updated.AccessToken = tok.AccessToken
	updated.Expiry = expiryFrom(v.now(), tok.ExpiresIn)
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		updated.RefreshToken = &rt
	}
	if err := v.store.UpsertCredential(ctx, &updated); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}

	v.log.Info().Str("user_id", cred.UserID).Msg("credential refreshed")
	return updated.AccessToken, nil
}

// BeginAuth issues a single-use, time-bounded state for the user and returns
// the provider authorization URL.
func (v *Vault) BeginAuth(ctx context.Context, userID string) (string, error) {
	state := uuid.NewString()
	if err := v.store.InsertOAuthState(ctx, state, userID, v.now().Add(stateTTL)); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return v.provider.AuthorizeURL(v.redirectURL, state), nil
}

// CompleteAuth redeems the callback. The state must match exactly and is
// consumed before the code exchange, so it cannot be replayed.
func (v *Vault) CompleteAuth(ctx context.Context, state, code string) (string, error) {
	userID, err := v.store.ConsumeOAuthState(ctx, state)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", err
	}

	tok, err := v.provider.ExchangeCode(ctx, code, v.redirectURL)
	if err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}

	cred := &database.Credential{
		UserID:      userID,
		AccessToken: tok.AccessToken,
		Expiry:      expiryFrom(v.now(), tok.ExpiresIn),
		Scope:       tok.Scope,
		AccountID:   tok.AccountID,
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		cred.RefreshToken = &rt
	}
	if err := v.store.UpsertCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}

	v.log.Info().Str("user_id", userID).Str("account_id", tok.AccountID).Msg("account connected")
	return userID, nil
}

// Disconnect revokes the provider token (best effort), deletes the
// stored credential, and drops the sync cursor so a reconnect starts
// from a fresh baseline.
func (v *Vault) Disconnect(ctx context.Context, userID string) error {
	cred, err := v.store.GetCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("user %s: %w", userID, ErrUnauthorized)
	}
	if err != nil {
		return err
	}

	if err := v.provider.RevokeToken(ctx, cred.AccessToken); err != nil {
		v.log.Warn().Err(err).Str("user_id", userID).Msg("provider revocation failed, deleting credential anyway")
	}
	if err := v.store.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if err := v.store.DeleteCursor(ctx, userID); err != nil {
		v.log.Warn().Err(err).Str("user_id", userID).Msg("cursor cleanup failed")
	}

	v.log.Info().Str("user_id", userID).Msg("account disconnected")
	return nil
}

func expiryFrom(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(expiresIn) * time.Second)
	return &t
}
