package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HalSarj/JaaS/internal/vault"
)

// Authorizer is the credential lifecycle surface of the vault.
type Authorizer interface {
	BeginAuth(ctx context.Context, userID string) (string, error)
	CompleteAuth(ctx context.Context, state, code string) (string, error)
	Disconnect(ctx context.Context, userID string) error
}

type AuthHandler struct {
	vault Authorizer
}

func NewAuthHandler(v Authorizer) *AuthHandler {
	return &AuthHandler{vault: v}
}

// Connect starts the OAuth handshake and redirects to the provider's
// consent page.
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := QueryString(r, "user_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	authorizeURL, err := h.vault.BeginAuth(r.Context(), userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// Callback completes the handshake with the code and state the provider
// sends back.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state, ok := QueryString(r, "state")
	if !ok {
		WriteError(w, http.StatusBadRequest, "state is required")
		return
	}
	code, ok := QueryString(r, "code")
	if !ok {
		WriteError(w, http.StatusBadRequest, "code is required")
		return
	}

	userID, err := h.vault.CompleteAuth(r.Context(), state, code)
	if errors.Is(err, vault.ErrInvalidState) {
		WriteError(w, http.StatusForbidden, "invalid or expired state")
		return
	}
	if err != nil {
		WriteError(w, http.StatusBadGateway, "authorization exchange failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"connected": true,
	})
}

// Disconnect revokes the provider token and removes the credential.
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	err := h.vault.Disconnect(r.Context(), userID)
	if errors.Is(err, vault.ErrUnauthorized) {
		WriteError(w, http.StatusNotFound, "user not connected")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"connected": false,
	})
}

// BrowserRoutes registers the handshake endpoints the user's browser and
// the provider redirect reach directly, so they cannot carry a bearer
// token. The single-use state value authenticates the callback.
func (h *AuthHandler) BrowserRoutes(r chi.Router) {
	r.Get("/auth/connect", h.Connect)
	r.Get("/auth/callback", h.Callback)
}

// Routes registers the token-authenticated management endpoints.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Delete("/auth/{user_id}", h.Disconnect)
}
