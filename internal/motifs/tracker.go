// Package motifs maintains cross-record aggregate counters of recurring
// symbols and themes per user.
package motifs

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/analyze"
)

// Symbols below this confidence are too speculative to count.
const confidenceThreshold = 0.6

// Store is the counter persistence surface.
type Store interface {
	UpsertMotif(ctx context.Context, userID, label, category string, confidence float32) error
}

type Tracker struct {
	store Store
	log   zerolog.Logger
}

func NewTracker(store Store, log zerolog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log.With().Str("component", "motifs").Logger(),
	}
}

// Record updates motif counters from a completed analysis: every symbol at
// or above the confidence threshold, and every theme unconditionally.
// Store failures are logged and swallowed; counter drift never reverts a
// completed record.
func (t *Tracker) Record(ctx context.Context, userID string, a *analyze.Analysis) {
	for _, sym := range a.Symbols {
		if sym.Confidence < confidenceThreshold {
			continue
		}
		label := Normalize(sym.Item)
		if label == "" {
			continue
		}
		if err := t.store.UpsertMotif(ctx, userID, label, "symbol", sym.Confidence); err != nil {
			t.log.Warn().Err(err).Str("user_id", userID).Str("label", label).Msg("motif upsert failed")
		}
	}

	for _, theme := range a.Themes {
		label := Normalize(theme)
		if label == "" {
			continue
		}
		if err := t.store.UpsertMotif(ctx, userID, label, "theme", 1); err != nil {
			t.log.Warn().Err(err).Str("user_id", userID).Str("label", label).Msg("motif upsert failed")
		}
	}
}

// Normalize canonicalizes a motif label: lowercase, trimmed, inner
// whitespace collapsed. "The Ocean " and "the ocean" count as one motif.
func Normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
