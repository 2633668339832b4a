package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Record statuses. Transitions are owned by the processing pipeline:
// uploaded → transcribing → analyzing → complete, with failed reachable
// from transcribing or analyzing.
const (
	StatusUploaded     = "uploaded"
	StatusTranscribing = "transcribing"
	StatusAnalyzing    = "analyzing"
	StatusComplete     = "complete"
	StatusFailed       = "failed"
)

// Record is one ingested audio file plus its derived data.
type Record struct {
	ID           string          `json:"id"`
	UserID       *string         `json:"user_id,omitempty"`
	BlobKey      string          `json:"blob_key"`
	ExternalPath *string         `json:"external_path,omitempty"`
	Transcript   *string         `json:"transcript,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	Embedding    []float32       `json:"embedding,omitempty"`
	Status       string          `json:"status"`
	ErrorDetail  *string         `json:"error_detail,omitempty"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const recordColumns = `id, user_id, blob_key, external_path, transcript, analysis,
	embedding, status, error_detail, attempts, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID, &r.UserID, &r.BlobKey, &r.ExternalPath, &r.Transcript, &r.Analysis,
		&r.Embedding, &r.Status, &r.ErrorDetail, &r.Attempts, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertRecord inserts a new record in status uploaded.
func (db *DB) InsertRecord(ctx context.Context, r *Record) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO records (id, user_id, blob_key, external_path, status, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, r.ID, r.UserID, r.BlobKey, r.ExternalPath, StatusUploaded)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord returns a record by id, or ErrNotFound.
func (db *DB) GetRecord(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(db.Pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, err
}

// GetRecordByUserAndPath returns the record matching the intake idempotency
// key (user, external path), or ErrNotFound.
func (db *DB) GetRecordByUserAndPath(ctx context.Context, userID, externalPath string) (*Record, error) {
	r, err := scanRecord(db.Pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE user_id = $1 AND external_path = $2`,
		userID, externalPath))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get record by path: %w", err)
	}
	return r, err
}

// IncrementAttempts bumps the attempt counter and returns the new value.
// The pipeline calls this before any external work so a mid-attempt crash
// still consumes an attempt.
func (db *DB) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := db.Pool.QueryRow(ctx, `
		UPDATE records SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// SetRecordStatus moves a record to an intermediate status (transcribing,
// analyzing) and clears any stale error detail.
func (db *DB) SetRecordStatus(ctx context.Context, id, status string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE records SET status = $2, error_detail = NULL, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// SetTranscript stores the transcription result and advances to analyzing.
func (db *DB) SetTranscript(ctx context.Context, id, transcript string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE records SET transcript = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, id, transcript, StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	return nil
}

// CompleteRecord stores the analysis document and embedding (embedding may be
// nil) and marks the record complete.
func (db *DB) CompleteRecord(ctx context.Context, id string, analysis json.RawMessage, embedding []float32) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE records SET analysis = $2, embedding = $3, status = $4,
			error_detail = NULL, updated_at = now()
		WHERE id = $1
	`, id, analysis, embedding, StatusComplete)
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	return nil
}

// FailRecord marks the record failed with the given error detail.
func (db *DB) FailRecord(ctx context.Context, id, detail string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE records SET status = $2, error_detail = $3, updated_at = now()
		WHERE id = $1
	`, id, StatusFailed, detail)
	if err != nil {
		return fmt.Errorf("fail record: %w", err)
	}
	return nil
}

// ListRecordsByUser returns a user's records ordered by recency.
func (db *DB) ListRecordsByUser(ctx context.Context, userID string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// SearchRecords filters a user's records by transcript substring,
// case-insensitive. Results are ordered by full-text rank against the
// query, then recency, so multi-word queries surface the best match
// first while single-token substring hits still come back.
func (db *DB) SearchRecords(ctx context.Context, userID, query string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE user_id = $1 AND transcript ILIKE '%' || $2 || '%'
		ORDER BY ts_rank(to_tsvector('english', coalesce(transcript, '')),
			plainto_tsquery('english', $2)) DESC, created_at DESC
		LIMIT $3
	`, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListRecentCompleted returns a user's most recent completed records, newest
// first. Used by the history selector to build analysis context.
func (db *DB) ListRecentCompleted(ctx context.Context, userID string, limit int) ([]Record, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, StatusComplete, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListStalledRecords returns records sitting in a non-terminal status with
// attempts headroom whose last update is older than cutoff. The reconciler
// sweep re-enqueues these.
func (db *DB) ListStalledRecords(ctx context.Context, cutoff time.Time, maxAttempts int) ([]Record, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE status IN ($1, $2, $3) AND updated_at < $4 AND attempts < $5
		ORDER BY updated_at
		LIMIT 100
	`, StatusUploaded, StatusTranscribing, StatusAnalyzing, cutoff, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list stalled: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if result == nil {
		result = []Record{}
	}
	return result, rows.Err()
}
