package vault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/dropbox"
)

type fakeStore struct {
	creds          map[string]*database.Credential
	states         map[string]stateRow
	cursorsDeleted []string
}

type stateRow struct {
	userID    string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creds:  make(map[string]*database.Credential),
		states: make(map[string]stateRow),
	}
}

func (s *fakeStore) GetCredential(_ context.Context, userID string) (*database.Credential, error) {
	c, ok := s.creds[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpsertCredential(_ context.Context, c *database.Credential) error {
	cp := *c
	s.creds[c.UserID] = &cp
	return nil
}

func (s *fakeStore) DeleteCredential(_ context.Context, userID string) error {
	delete(s.creds, userID)
	return nil
}

func (s *fakeStore) InsertOAuthState(_ context.Context, state, userID string, expiresAt time.Time) error {
	s.states[state] = stateRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *fakeStore) ConsumeOAuthState(_ context.Context, state string) (string, error) {
	row, ok := s.states[state]
	if !ok || time.Now().After(row.expiresAt) {
		return "", database.ErrNotFound
	}
	delete(s.states, state)
	return row.userID, nil
}

func (s *fakeStore) DeleteCursor(_ context.Context, userID string) error {
	s.cursorsDeleted = append(s.cursorsDeleted, userID)
	return nil
}

type fakeProvider struct {
	refreshCalls int
	refreshErr   error
	refreshTok   *dropbox.Token
	exchangeTok  *dropbox.Token
	exchangeErr  error
	revoked      []string
}

func (p *fakeProvider) AuthorizeURL(redirectURL, state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, redirectURL string) (*dropbox.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.exchangeTok, nil
}

func (p *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*dropbox.Token, error) {
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshTok, nil
}

func (p *fakeProvider) RevokeToken(_ context.Context, token string) error {
	p.revoked = append(p.revoked, token)
	return nil
}

func newTestVault(store *fakeStore, provider *fakeProvider) *Vault {
	return New(store, provider, "https://cb.example", zerolog.Nop())
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestGetValidTokenRefreshThreshold(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiry      *time.Time
		wantRefresh bool
	}{
		{"expires_in_4m_refreshes", timePtr(now.Add(4 * time.Minute)), true},
		{"expires_in_6m_no_refresh", timePtr(now.Add(6 * time.Minute)), false},
		{"already_expired_refreshes", timePtr(now.Add(-time.Hour)), true},
		{"null_expiry_never_refreshes", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.creds["u1"] = &database.Credential{
				UserID:       "u1",
				AccessToken:  "old-token",
				RefreshToken: strPtr("rt"),
				Expiry:       tt.expiry,
			}
			provider := &fakeProvider{
				refreshTok: &dropbox.Token{AccessToken: "new-token", ExpiresIn: 14400},
			}
			v := newTestVault(store, provider)
			v.now = func() time.Time { return now }

			tok, err := v.GetValidToken(context.Background(), "u1")
			if err != nil {
				t.Fatalf("GetValidToken: %v", err)
			}

			if tt.wantRefresh {
				if provider.refreshCalls != 1 {
					t.Errorf("refresh calls = %d, want 1", provider.refreshCalls)
				}
				if tok != "new-token" {
					t.Errorf("token = %q, want new-token", tok)
				}
				stored := store.creds["u1"]
				if stored.AccessToken != "new-token" {
					t.Errorf("stored access token = %q, want new-token", stored.AccessToken)
				}
				if stored.Expiry == nil || !stored.Expiry.Equal(now.Add(4*time.Hour)) {
					t.Errorf("stored expiry = %v, want %v", stored.Expiry, now.Add(4*time.Hour))
				}
			} else {
				if provider.refreshCalls != 0 {
					t.Errorf("refresh calls = %d, want 0", provider.refreshCalls)
				}
				if tok != "old-token" {
					t.Errorf("token = %q, want old-token", tok)
				}
			}
		})
	}
}

func TestGetValidTokenNoCredential(t *testing.T) {
	v := newTestVault(newFakeStore(), &fakeProvider{})
	_, err := v.GetValidToken(context.Background(), "nobody")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGetValidTokenNoRefreshToken(t *testing.T) {
	store := newFakeStore()
	store.creds["u1"] = &database.Credential{
		UserID:      "u1",
		AccessToken: "old",
		Expiry:      timePtr(time.Now().Add(time.Minute)),
	}
	provider := &fakeProvider{}
	v := newTestVault(store, provider)

	_, err := v.GetValidToken(context.Background(), "u1")
	if !errors.Is(err, ErrReauthRequired) {
		t.Errorf("err = %v, want ErrReauthRequired", err)
	}
	if provider.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", provider.refreshCalls)
	}
}

func TestGetValidTokenRefreshRejected(t *testing.T) {
	store := newFakeStore()
	store.creds["u1"] = &database.Credential{
		UserID:       "u1",
		AccessToken:  "old",
		RefreshToken: strPtr("rt"),
		Expiry:       timePtr(time.Now().Add(time.Minute)),
	}
	provider := &fakeProvider{refreshErr: errors.New("invalid_grant")}
	v := newTestVault(store, provider)

	_, err := v.GetValidToken(context.Background(), "u1")
	if !errors.Is(err, ErrReauthRequired) {
		t.Errorf("err = %v, want ErrReauthRequired", err)
	}
	// The dead credential stays in place until the user reconnects.
	if store.creds["u1"].AccessToken != "old" {
		t.Error("credential mutated on rejected refresh")
	}
}

func TestRefreshPreservesRefreshTokenWhenNotReissued(t *testing.T) {
	store := newFakeStore()
	store.creds["u1"] = &database.Credential{
		UserID:       "u1",
		AccessToken:  "old",
		RefreshToken: strPtr("original-rt"),
		Expiry:       timePtr(time.Now().Add(time.Minute)),
	}
	provider := &fakeProvider{
		refreshTok: &dropbox.Token{AccessToken: "new", ExpiresIn: 3600},
	}
	v := newTestVault(store, provider)

	if _, err := v.GetValidToken(context.Background(), "u1"); err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if rt := store.creds["u1"].RefreshToken; rt == nil || *rt != "original-rt" {
		t.Errorf("refresh token = %v, want original-rt preserved", rt)
	}
}

func TestHandshake(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{
		exchangeTok: &dropbox.Token{
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresIn:    14400,
			AccountID:    "dbid:x",
		},
	}
	v := newTestVault(store, provider)
	ctx := context.Background()

	authURL, err := v.BeginAuth(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if len(store.states) != 1 {
		t.Fatalf("states stored = %d, want 1", len(store.states))
	}
	var state string
	for s := range store.states {
		state = s
	}
	if want := "state=" + state; !strings.Contains(authURL, want) {
		t.Errorf("authorize URL %q missing %q", authURL, want)
	}

	userID, err := v.CompleteAuth(ctx, state, "code-1")
	if err != nil {
		t.Fatalf("CompleteAuth: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want u1", userID)
	}
	cred := store.creds["u1"]
	if cred == nil || cred.AccessToken != "at" || cred.AccountID != "dbid:x" {
		t.Errorf("stored credential = %+v", cred)
	}

	// State is single-use: a replay must fail.
	if _, err := v.CompleteAuth(ctx, state, "code-1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed state err = %v, want ErrInvalidState", err)
	}
}

func TestCompleteAuthWrongState(t *testing.T) {
	v := newTestVault(newFakeStore(), &fakeProvider{})
	_, err := v.CompleteAuth(context.Background(), "forged", "code")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestDisconnect(t *testing.T) {
	store := newFakeStore()
	store.creds["u1"] = &database.Credential{UserID: "u1", AccessToken: "at"}
	provider := &fakeProvider{}
	v := newTestVault(store, provider)

	if err := v.Disconnect(context.Background(), "u1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, ok := store.creds["u1"]; ok {
		t.Error("credential still present after disconnect")
	}
	if len(provider.revoked) != 1 || provider.revoked[0] != "at" {
		t.Errorf("revoked = %v, want [at]", provider.revoked)
	}
	if len(store.cursorsDeleted) != 1 || store.cursorsDeleted[0] != "u1" {
		t.Errorf("cursors deleted = %v, want [u1]", store.cursorsDeleted)
	}
}
