package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HalSarj/JaaS/internal/database"
)

// RecordStore is the read surface the record endpoints need.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*database.Record, error)
	ListRecordsByUser(ctx context.Context, userID string, limit, offset int) ([]database.Record, error)
	SearchRecords(ctx context.Context, userID, query string, limit int) ([]database.Record, error)
}

// Enqueuer submits a record id for pipeline processing.
type Enqueuer interface {
	Enqueue(recordID string) bool
}

// BlobURLer resolves a blob key to a client-fetchable URL. Local
// backends return "".
type BlobURLer interface {
	URL(ctx context.Context, key string) (string, error)
}

type RecordsHandler struct {
	store    RecordStore
	blobs    BlobURLer
	pipeline Enqueuer
}

func NewRecordsHandler(store RecordStore, blobs BlobURLer, pipeline Enqueuer) *RecordsHandler {
	return &RecordsHandler{store: store, blobs: blobs, pipeline: pipeline}
}

type recordResponse struct {
	*database.Record
	AudioURL string `json:"audio_url,omitempty"`
}

func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load record")
		return
	}

	resp := recordResponse{Record: rec}
	// Presign failures just drop the link from the response.
	if url, err := h.blobs.URL(r.Context(), rec.BlobKey); err == nil {
		resp.AudioURL = url
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := QueryString(r, "user_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListRecordsByUser(r.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   p.Limit,
		"offset":  p.Offset,
	})
}

func (h *RecordsHandler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := QueryString(r, "user_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	query, ok := QueryString(r, "q")
	if !ok {
		WriteError(w, http.StatusBadRequest, "q is required")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.SearchRecords(r.Context(), userID, query, p.Limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"query":   query,
	})
}

// ProcessRecord re-queues a record for pipeline processing. Completed
// records are rejected; everything else goes back on the queue and the
// pipeline's own guards decide whether attempts remain.
func (h *RecordsHandler) ProcessRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	if rec.Status == database.StatusComplete {
		WriteError(w, http.StatusConflict, "record already complete")
		return
	}

	if !h.pipeline.Enqueue(rec.ID) {
		WriteError(w, http.StatusServiceUnavailable, "pipeline queue full")
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":     rec.ID,
		"queued": true,
	})
}

func (h *RecordsHandler) Routes(r chi.Router) {
	r.Get("/records", h.ListRecords)
	r.Get("/records/search", h.SearchRecords)
	r.Get("/records/{id}", h.GetRecord)
	r.Post("/records/{id}/process", h.ProcessRecord)
}
