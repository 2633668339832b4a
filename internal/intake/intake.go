// Package intake turns files detected by change sync into stored records.
package intake

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/metrics"
	"github.com/HalSarj/JaaS/internal/storage"
	"github.com/HalSarj/JaaS/internal/sync"
)

// Store is the record persistence surface intake needs.
type Store interface {
	GetRecordByUserAndPath(ctx context.Context, userID, externalPath string) (*database.Record, error)
	InsertRecord(ctx context.Context, r *database.Record) error
}

// Downloader fetches file content from the provider.
type Downloader interface {
	Download(ctx context.Context, token, path string) ([]byte, error)
}

// TokenSource supplies a valid provider access token for a user.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
}

// Enqueuer hands a newly created record to the processing pipeline.
type Enqueuer interface {
	Enqueue(recordID string) bool
}

// Intake downloads a detected file, writes the blob, and creates the
// record. The (user, external path) pair is the idempotency key: a file
// already seen yields the existing record and no side effects.
type Intake struct {
	store      Store
	blobs      storage.BlobStore
	downloader Downloader
	tokens     TokenSource
	pipeline   Enqueuer
	log        zerolog.Logger
	now        func() time.Time
}

func New(store Store, blobs storage.BlobStore, downloader Downloader, tokens TokenSource, pipeline Enqueuer, log zerolog.Logger) *Intake {
	return &Intake{
		store:      store,
		blobs:      blobs,
		downloader: downloader,
		tokens:     tokens,
		pipeline:   pipeline,
		log:        log.With().Str("component", "intake").Logger(),
		now:        time.Now,
	}
}

// Intake materializes a provider file as a record. Safe to call more
// than once for the same file.
func (in *Intake) Intake(ctx context.Context, userID string, file sync.NewFile) (*database.Record, error) {
	existing, err := in.store.GetRecordByUserAndPath(ctx, userID, file.Path)
	if err == nil {
		in.log.Debug().
			Str("user_id", userID).
			Str("path", file.Path).
			Str("record_id", existing.ID).
			Msg("file already ingested, skipping")
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	token, err := in.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := in.downloader.Download(ctx, token, file.Path)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", file.Path, err)
	}

	key := fmt.Sprintf("%s/%s/%s", userID, in.now().UTC().Format("2006-01-02"), file.Name)
	if err := in.blobs.Save(ctx, key, data, contentTypeFor(file.Name)); err != nil {
		return nil, fmt.Errorf("save blob %s: %w", key, err)
	}

	rec := &database.Record{
		ID:           uuid.NewString(),
		UserID:       &userID,
		BlobKey:      key,
		ExternalPath: &file.Path,
		Status:       database.StatusUploaded,
	}
	if err := in.store.InsertRecord(ctx, rec); err != nil {
		// The blob write already happened. Remove it so a retry starts
		// from a clean slate; a failed delete only leaves an orphan blob.
		if delErr := in.blobs.Delete(ctx, key); delErr != nil {
			in.log.Warn().Err(delErr).Str("key", key).Msg("orphan blob cleanup failed")
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}

	metrics.RecordsCreatedTotal.Inc()
	in.log.Info().
		Str("record_id", rec.ID).
		Str("user_id", userID).
		Str("path", file.Path).
		Int("size", len(data)).
		Msg("record created")

	if !in.pipeline.Enqueue(rec.ID) {
		// The sweeper picks the record up later; creation still succeeded.
		in.log.Warn().Str("record_id", rec.ID).Msg("pipeline queue full, record left for sweep")
	}
	return rec, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
