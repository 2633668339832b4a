package database

import (
	"context"
	"fmt"
	"time"
)

// MotifCounter tracks a recurring symbol or theme for one user.
// count and last_seen only move forward; confidence keeps its maximum.
type MotifCounter struct {
	UserID     string    `json:"user_id"`
	Label      string    `json:"label"`
	Category   string    `json:"category"` // "symbol" or "theme"
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Count      int       `json:"count"`
	Confidence float32   `json:"confidence"`
}

// UpsertMotif inserts a counter with count 1 on first occurrence, otherwise
// increments the count, advances last_seen, and raises confidence to the
// maximum of old and new.
func (db *DB) UpsertMotif(ctx context.Context, userID, label, category string, confidence float32) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO motif_counters (user_id, label, category, first_seen, last_seen, count, confidence)
		VALUES ($1, $2, $3, now(), now(), 1, $4)
		ON CONFLICT (user_id, label) DO UPDATE SET
			count = motif_counters.count + 1,
			last_seen = GREATEST(motif_counters.last_seen, now()),
			confidence = GREATEST(motif_counters.confidence, EXCLUDED.confidence)
	`, userID, label, category, confidence)
	if err != nil {
		return fmt.Errorf("upsert motif: %w", err)
	}
	return nil
}

// ListActiveMotifs returns a user's motifs seen since the given time with at
// least minCount occurrences, sorted by count descending, capped at limit.
// Ties are broken by label so the ordering is deterministic.
func (db *DB) ListActiveMotifs(ctx context.Context, userID string, since time.Time, minCount, limit int) ([]MotifCounter, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, label, category, first_seen, last_seen, count, confidence
		FROM motif_counters
		WHERE user_id = $1 AND last_seen >= $2 AND count >= $3
		ORDER BY count DESC, label
		LIMIT $4
	`, userID, since, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("list motifs: %w", err)
	}
	defer rows.Close()

	var result []MotifCounter
	for rows.Next() {
		var m MotifCounter
		if err := rows.Scan(&m.UserID, &m.Label, &m.Category, &m.FirstSeen, &m.LastSeen, &m.Count, &m.Confidence); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if result == nil {
		result = []MotifCounter{}
	}
	return result, rows.Err()
}
