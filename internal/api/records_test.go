package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/HalSarj/JaaS/internal/database"
)

type fakeRecordStore struct {
	records map[string]*database.Record
	byUser  []database.Record
}

func (f *fakeRecordStore) GetRecord(_ context.Context, id string) (*database.Record, error) {
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeRecordStore) ListRecordsByUser(context.Context, string, int, int) ([]database.Record, error) {
	return f.byUser, nil
}

func (f *fakeRecordStore) SearchRecords(context.Context, string, string, int) ([]database.Record, error) {
	return f.byUser, nil
}

type fakeEnqueuer struct {
	ids  []string
	full bool
}

func (f *fakeEnqueuer) Enqueue(id string) bool {
	if f.full {
		return false
	}
	f.ids = append(f.ids, id)
	return true
}

type fakeBlobURLer struct{ url string }

func (f *fakeBlobURLer) URL(context.Context, string) (string, error) { return f.url, nil }

func recordsRouter(store *fakeRecordStore, q *fakeEnqueuer) chi.Router {
	r := chi.NewRouter()
	NewRecordsHandler(store, &fakeBlobURLer{url: "https://blobs.example/rec"}, q).Routes(r)
	return r
}

func TestGetRecord(t *testing.T) {
	store := &fakeRecordStore{records: map[string]*database.Record{
		"rec-1": {ID: "rec-1", Status: database.StatusComplete},
	}}
	router := recordsRouter(store, &fakeEnqueuer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/rec-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got struct {
		database.Record
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "rec-1" {
		t.Errorf("id = %q", got.ID)
	}
	if got.AudioURL != "https://blobs.example/rec" {
		t.Errorf("audio_url = %q", got.AudioURL)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", rr.Code)
	}
}

func TestListRecordsRequiresUser(t *testing.T) {
	router := recordsRouter(&fakeRecordStore{}, &fakeEnqueuer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records?user_id=u1", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestSearchRecordsRequiresQuery(t *testing.T) {
	router := recordsRouter(&fakeRecordStore{}, &fakeEnqueuer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/search?user_id=u1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/search?user_id=u1&q=sea", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestProcessRecord(t *testing.T) {
	store := &fakeRecordStore{records: map[string]*database.Record{
		"failed-1":   {ID: "failed-1", Status: database.StatusFailed},
		"complete-1": {ID: "complete-1", Status: database.StatusComplete},
	}}
	q := &fakeEnqueuer{}
	router := recordsRouter(store, q)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/records/failed-1/process", nil))
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	if len(q.ids) != 1 || q.ids[0] != "failed-1" {
		t.Errorf("enqueued = %v", q.ids)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/records/complete-1/process", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("completed record status = %d, want 409", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/records/nope/process", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", rr.Code)
	}
}

func TestProcessRecordQueueFull(t *testing.T) {
	store := &fakeRecordStore{records: map[string]*database.Record{
		"rec-1": {ID: "rec-1", Status: database.StatusFailed},
	}}
	router := recordsRouter(store, &fakeEnqueuer{full: true})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/records/rec-1/process", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
