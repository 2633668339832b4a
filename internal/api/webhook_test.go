package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingSyncer struct {
	mu       sync.Mutex
	accounts [][]string
	done     chan struct{}
}

func newRecordingSyncer() *recordingSyncer {
	return &recordingSyncer{done: make(chan struct{}, 1)}
}

func (s *recordingSyncer) RunForAccounts(_ context.Context, accountIDs []string) {
	s.mu.Lock()
	s.accounts = append(s.accounts, accountIDs)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *recordingSyncer) waitForRun(t *testing.T) []string {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("sync never ran")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[len(s.accounts)-1]
}

func (s *recordingSyncer) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func TestChallengeEcho(t *testing.T) {
	h := NewWebhookHandler("secret", newRecordingSyncer(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/webhook?challenge=abc123", nil)
	rr := httptest.NewRecorder()
	h.Challenge(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "abc123" {
		t.Errorf("body = %q, want the challenge echoed", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type = %q", ct)
	}
}

func TestChallengeNotConfigured(t *testing.T) {
	h := NewWebhookHandler("", newRecordingSyncer(), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Challenge(rr, httptest.NewRequest(http.MethodGet, "/webhook?challenge=abc", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestNotifyValidSignature(t *testing.T) {
	syncer := newRecordingSyncer()
	h := NewWebhookHandler("secret", syncer, zerolog.Nop())

	body := `{"list_folder":{"accounts":["dbid:AAA","dbid:BBB"]}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Dropbox-Signature", sign("secret", []byte(body)))
	rr := httptest.NewRecorder()
	h.Notify(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	got := syncer.waitForRun(t)
	if len(got) != 2 || got[0] != "dbid:AAA" || got[1] != "dbid:BBB" {
		t.Errorf("accounts = %v", got)
	}
}

func TestNotifyBadSignature(t *testing.T) {
	syncer := newRecordingSyncer()
	h := NewWebhookHandler("secret", syncer, zerolog.Nop())

	body := `{"list_folder":{"accounts":["dbid:AAA"]}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Dropbox-Signature", sign("wrong-secret", []byte(body)))
	rr := httptest.NewRecorder()
	h.Notify(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
	if syncer.runCount() != 0 {
		t.Error("forged notification must not trigger a sync")
	}
}

func TestNotifyMissingSignature(t *testing.T) {
	syncer := newRecordingSyncer()
	h := NewWebhookHandler("secret", syncer, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	h.Notify(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if syncer.runCount() != 0 {
		t.Error("unsigned notification must not trigger a sync")
	}
}

func TestNotifyMalformedBodySyncsAll(t *testing.T) {
	syncer := newRecordingSyncer()
	h := NewWebhookHandler("secret", syncer, zerolog.Nop())

	body := "not json"
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Dropbox-Signature", sign("secret", []byte(body)))
	rr := httptest.NewRecorder()
	h.Notify(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := syncer.waitForRun(t); len(got) != 0 {
		t.Errorf("accounts = %v, want empty (sync everyone)", got)
	}
}
