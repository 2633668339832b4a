// Package dropbox is a minimal client for the Dropbox HTTP API: OAuth token
// exchange, cursor-based change listing, file download, and revocation.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBase     = "https://api.dropboxapi.com"
	defaultContentBase = "https://content.dropboxapi.com"
)

// Client calls the Dropbox API on behalf of connected users. App key/secret
// authenticate token-endpoint calls; everything else carries a per-user
// bearer token supplied by the caller.
type Client struct {
	appKey      string
	appSecret   string
	apiBase     string
	contentBase string
	http        *http.Client
}

// Option customizes a Client. Used by tests to point at httptest servers.
type Option func(*Client)

// WithAPIBase overrides the RPC endpoint base URL.
func WithAPIBase(u string) Option { return func(c *Client) { c.apiBase = strings.TrimRight(u, "/") } }

// WithContentBase overrides the content (download) endpoint base URL.
func WithContentBase(u string) Option {
	return func(c *Client) { c.contentBase = strings.TrimRight(u, "/") }
}

// New creates a Dropbox client.
func New(appKey, appSecret string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		appKey:      appKey,
		appSecret:   appSecret,
		apiBase:     defaultAPIBase,
		contentBase: defaultContentBase,
		http:        &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response from Dropbox.
type APIError struct {
	Status  int
	Summary string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox API error (status %d): %s", e.Status, e.Summary)
}

// IsAuthError reports whether err is an APIError indicating an invalid or
// expired token, which requires reauthorization rather than a retry.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized
}

// Token is the result of an OAuth token-endpoint exchange.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds; 0 = non-expiring
	Scope        string `json:"scope"`
	AccountID    string `json:"account_id"`
}

// AuthorizeURL builds the user-facing authorization URL for the handshake.
// token_access_type=offline requests a refresh token alongside the
// short-lived access token.
func (c *Client) AuthorizeURL(redirectURL, state string) string {
	q := url.Values{}
	q.Set("client_id", c.appKey)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURL)
	q.Set("state", state)
	q.Set("token_access_type", "offline")
	return "https://www.dropbox.com/oauth2/authorize?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURL string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURL)
	return c.tokenRequest(ctx, form)
}

// RefreshToken exchanges a refresh token for a new access token. Dropbox may
// reissue the refresh token; callers must persist it when non-empty.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.appKey, c.appSecret)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tok, nil
}

// Entry is one change-list entry. Tag discriminates files from folders and
// deletions.
type Entry struct {
	Tag         string `json:".tag"` // "file", "folder", "deleted"
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// ListFolderResult is one page of changes plus the advanced cursor.
type ListFolderResult struct {
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// GetLatestCursor fetches a baseline cursor for the folder without listing
// pre-existing contents.
func (c *Client) GetLatestCursor(ctx context.Context, token, path string) (string, error) {
	payload := map[string]any{"path": path, "recursive": true}
	body, err := c.rpc(ctx, token, "/2/files/list_folder/get_latest_cursor", payload)
	if err != nil {
		return "", err
	}
	var out struct {
		Cursor string `json:"cursor"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode cursor response: %w", err)
	}
	if out.Cursor == "" {
		return "", fmt.Errorf("empty cursor in response")
	}
	return out.Cursor, nil
}

// ListFolderContinue lists changes since the given cursor.
func (c *Client) ListFolderContinue(ctx context.Context, token, cursor string) (*ListFolderResult, error) {
	body, err := c.rpc(ctx, token, "/2/files/list_folder/continue", map[string]any{"cursor": cursor})
	if err != nil {
		return nil, err
	}
	var out ListFolderResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return &out, nil
}

// Download fetches a file's content by path.
func (c *Client) Download(ctx context.Context, token, path string) ([]byte, error) {
	arg, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return nil, fmt.Errorf("marshal api arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.contentBase+"/2/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	return c.do(req)
}

// RevokeToken invalidates the user's access token server-side.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/2/auth/token/revoke", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = c.do(req)
	return err
}

func (c *Client) rpc(ctx context.Context, token, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dropbox request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		summary := summarize(body)
		return nil, &APIError{Status: resp.StatusCode, Summary: summary}
	}
	return body, nil
}

// summarize pulls error_summary out of a Dropbox error body, falling back to
// a trimmed raw body.
func summarize(body []byte) string {
	var e struct {
		ErrorSummary string `json:"error_summary"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.ErrorSummary != "" {
		return e.ErrorSummary
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
