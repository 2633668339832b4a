// Package history selects a bounded, compressed slice of a user's past
// entries plus their active motifs for the generative analysis step. The
// selection is fully deterministic given identical stored state.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/HalSarj/JaaS/internal/database"
)

const (
	candidateLimit = 10 // most recent completed records considered
	keepTop        = 3  // entries surviving relevance selection
	motifWindow    = 30 * 24 * time.Hour
	motifMinCount  = 1
	motifCap       = 8
	recencyHorizon = 30.0 // days over which the recency bonus decays to zero
)

// Entry is a compressed representation of one past record: enough context
// for the model without spending tokens on full transcripts.
type Entry struct {
	DaysAgo        int      `json:"days_ago"`
	Themes         []string `json:"themes"`
	PrimaryEmotion string   `json:"primary_emotion"`
}

// Store is the persistence surface the selector reads from.
type Store interface {
	ListRecentCompleted(ctx context.Context, userID string, limit int) ([]database.Record, error)
	ListActiveMotifs(ctx context.Context, userID string, since time.Time, minCount, limit int) ([]database.MotifCounter, error)
}

type Selector struct {
	store Store
	now   func() time.Time
}

func NewSelector(store Store) *Selector {
	return &Selector{store: store, now: time.Now}
}

// storedAnalysis is the subset of the analysis document the selector needs.
type storedAnalysis struct {
	Themes   []string `json:"themes"`
	Emotions struct {
		Primary   string   `json:"primary"`
		Secondary []string `json:"secondary"`
	} `json:"emotions"`
}

type scored struct {
	entry   Entry
	score   float64
	created time.Time
	id      string
}

// Select returns the top-scoring compressed history entries and the user's
// active motifs for a new transcript.
func (s *Selector) Select(ctx context.Context, userID, transcript string) ([]Entry, []database.MotifCounter, error) {
	candidates, err := s.store.ListRecentCompleted(ctx, userID, candidateLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load candidates: %w", err)
	}

	now := s.now()
	transcriptThemes := termsIn(transcript, themeVocab)
	transcriptEmotions := termsIn(transcript, emotionVocab)

	var ranked []scored
	for _, rec := range candidates {
		var a storedAnalysis
		if len(rec.Analysis) == 0 || json.Unmarshal(rec.Analysis, &a) != nil {
			continue
		}

		candThemes := vocabSubset(a.Themes, themeVocab)
		candEmotions := vocabSubset(append([]string{a.Emotions.Primary}, a.Emotions.Secondary...), emotionVocab)

		days := now.Sub(rec.CreatedAt).Hours() / 24
		recency := (recencyHorizon - days) / recencyHorizon
		if recency < 0 {
			recency = 0
		}

		score := 0.4*overlap(transcriptThemes, candThemes) +
			0.4*overlap(transcriptEmotions, candEmotions) +
			0.2*recency

		ranked = append(ranked, scored{
			entry: Entry{
				DaysAgo:        int(days),
				Themes:         topN(a.Themes, 3),
				PrimaryEmotion: a.Emotions.Primary,
			},
			score:   score,
			created: rec.CreatedAt,
			id:      rec.ID,
		})
	}

	// Deterministic order: score desc, then recency desc, then id.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].created.Equal(ranked[j].created) {
			return ranked[i].created.After(ranked[j].created)
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > keepTop {
		ranked = ranked[:keepTop]
	}

	entries := make([]Entry, 0, len(ranked))
	for _, r := range ranked {
		entries = append(entries, r.entry)
	}

	motifs, err := s.store.ListActiveMotifs(ctx, userID, now.Add(-motifWindow), motifMinCount, motifCap)
	if err != nil {
		return nil, nil, fmt.Errorf("load motifs: %w", err)
	}

	return entries, motifs, nil
}

// FormatContext renders the selected history and motifs as prompt text.
// Returns "" when there is nothing to include.
func FormatContext(entries []Entry, motifs []database.MotifCounter) string {
	if len(entries) == 0 && len(motifs) == 0 {
		return ""
	}

	var b strings.Builder
	if len(entries) > 0 {
		b.WriteString("Recent related entries:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %d days ago: themes %s; primary emotion %s\n",
				e.DaysAgo, strings.Join(e.Themes, ", "), e.PrimaryEmotion)
		}
	}
	if len(motifs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recurring motifs:\n")
		for _, m := range motifs {
			fmt.Fprintf(&b, "- %s (%s, seen %d times)\n", m.Label, m.Category, m.Count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// termsIn returns the vocabulary terms present in the text as whole
// words. Substring hits like "exam" inside "example" do not count.
func termsIn(text string, vocab []string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isWordBoundary) {
		words[w] = true
	}
	found := make(map[string]bool)
	for _, term := range vocab {
		if words[term] {
			found[term] = true
		}
	}
	return found
}

func isWordBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

// vocabSubset filters stored labels down to controlled-vocabulary terms.
func vocabSubset(labels []string, vocab []string) map[string]bool {
	set := make(map[string]bool, len(vocab))
	for _, v := range vocab {
		set[v] = true
	}
	out := make(map[string]bool)
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if set[l] {
			out[l] = true
		}
	}
	return out
}

// overlap is the ratio of the candidate's terms also present in the new
// transcript. A candidate with no terms in the vocabulary scores zero.
func overlap(transcript, candidate map[string]bool) float64 {
	if len(candidate) == 0 {
		return 0
	}
	shared := 0
	for term := range candidate {
		if transcript[term] {
			shared++
		}
	}
	return float64(shared) / float64(len(candidate))
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
