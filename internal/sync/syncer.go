// Package sync tracks each user's position in the provider change stream
// and turns webhook notifications into concrete new-file work.
package sync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/database"
	"github.com/HalSarj/JaaS/internal/dropbox"
	"github.com/HalSarj/JaaS/internal/metrics"
)

// audioExtensions are the file types accepted for ingestion.
var audioExtensions = map[string]bool{
	".m4a": true,
	".mp3": true,
	".wav": true,
	".ogg": true,
}

// NewFile is a provider file detected since the last cursor position.
type NewFile struct {
	Path string // provider path (lowercased), the intake idempotency key
	Name string
	Size int64
}

// CursorStore persists per-user sync cursors.
type CursorStore interface {
	GetCursor(ctx context.Context, userID string) (string, error)
	UpsertCursor(ctx context.Context, userID, cursor string) error
}

// Provider is the change-listing surface of the Dropbox client.
type Provider interface {
	GetLatestCursor(ctx context.Context, token, path string) (string, error)
	ListFolderContinue(ctx context.Context, token, cursor string) (*dropbox.ListFolderResult, error)
}

// TokenSource supplies a valid access token for a user.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
}

type Syncer struct {
	cursors  CursorStore
	provider Provider
	tokens   TokenSource
	folder   string // provider folder to watch; "" = whole app folder
	log      zerolog.Logger
}

func NewSyncer(cursors CursorStore, provider Provider, tokens TokenSource, folder string, log zerolog.Logger) *Syncer {
	return &Syncer{
		cursors:  cursors,
		provider: provider,
		tokens:   tokens,
		folder:   folder,
		log:      log.With().Str("component", "sync").Logger(),
	}
}

// Sync lists provider changes for a user since the stored cursor and returns
// the new audio files. The first sync establishes a baseline cursor and
// returns nothing: pre-existing files are never replayed.
//
// The advanced cursor is persisted as soon as a page succeeds, before any
// downstream per-file work, so one bad file cannot wedge the sync position.
// Intake's idempotency makes redelivery of already-seen entries safe.
func (s *Syncer) Sync(ctx context.Context, userID string) ([]NewFile, error) {
	token, err := s.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.cursors.GetCursor(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		baseline, err := s.provider.GetLatestCursor(ctx, token, s.folder)
		if err != nil {
			return nil, fmt.Errorf("baseline cursor: %w", err)
		}
		if err := s.cursors.UpsertCursor(ctx, userID, baseline); err != nil {
			return nil, err
		}
		s.log.Info().Str("user_id", userID).Msg("sync baseline established")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// One page per invocation; provider redelivery covers has_more.
	page, err := s.provider.ListFolderContinue(ctx, token, cursor)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	if err := s.cursors.UpsertCursor(ctx, userID, page.Cursor); err != nil {
		return nil, err
	}

	var files []NewFile
	for _, e := range page.Entries {
		if e.Tag != "file" {
			continue
		}
		if !audioExtensions[strings.ToLower(path.Ext(e.PathLower))] {
			continue
		}
		files = append(files, NewFile{
			Path: e.PathLower,
			Name: e.Name,
			Size: e.Size,
		})
	}

	if len(files) > 0 {
		metrics.SyncFilesTotal.Add(float64(len(files)))
	}
	s.log.Debug().
		Str("user_id", userID).
		Int("entries", len(page.Entries)).
		Int("new_files", len(files)).
		Bool("has_more", page.HasMore).
		Msg("sync page processed")

	return files, nil
}
