package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/metrics"
)

// 1 MiB is far above any real notification payload.
const maxWebhookBody = 1 << 20

// BackgroundSyncer runs a change-sync pass for the named provider
// accounts, or for every connected user when the list is empty.
type BackgroundSyncer interface {
	RunForAccounts(ctx context.Context, accountIDs []string)
}

// webhookPayload is the subset of the Dropbox notification body we act on.
type webhookPayload struct {
	ListFolder struct {
		Accounts []string `json:"accounts"`
	} `json:"list_folder"`
}

type WebhookHandler struct {
	appSecret string
	runner    BackgroundSyncer
	log       zerolog.Logger
}

func NewWebhookHandler(appSecret string, runner BackgroundSyncer, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		appSecret: appSecret,
		runner:    runner,
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

// Challenge answers the provider's endpoint verification: echo the
// challenge parameter back as plain text.
func (h *WebhookHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	if h.appSecret == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("not_configured").Inc()
		WriteError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}
	challenge := r.URL.Query().Get("challenge")
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	io.WriteString(w, challenge)
}

// Notify handles a change notification. The signature is verified
// against the raw body before anything is parsed; sync runs in the
// background so the provider gets its 200 within its delivery timeout.
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	if h.appSecret == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("not_configured").Inc()
		WriteError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	signature := r.Header.Get("X-Dropbox-Signature")
	if signature == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("missing_signature").Inc()
		WriteError(w, http.StatusBadRequest, "missing signature")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !VerifySignature(h.appSecret, body, signature) {
		metrics.WebhookRequestsTotal.WithLabelValues("bad_signature").Inc()
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature mismatch")
		WriteError(w, http.StatusForbidden, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Authenticated but malformed. Accept it and sync everyone
		// rather than drop a legitimate notification.
		h.log.Warn().Err(err).Msg("unparseable webhook payload, syncing all users")
	}

	metrics.WebhookRequestsTotal.WithLabelValues("accepted").Inc()
	accounts := payload.ListFolder.Accounts
	h.log.Info().Int("accounts", len(accounts)).Msg("webhook accepted")

	// The request context dies with the response; the sync must not.
	go h.runner.RunForAccounts(context.Background(), accounts)

	w.WriteHeader(http.StatusOK)
}
