package motifs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/analyze"
)

type upsert struct {
	label      string
	category   string
	confidence float32
}

type fakeStore struct {
	upserts []upsert
	err     error
}

func (f *fakeStore) UpsertMotif(_ context.Context, userID, label, category string, confidence float32) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, upsert{label: label, category: category, confidence: confidence})
	return nil
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"The Ocean", "the ocean"},
		{"  teeth  falling   out ", "teeth falling out"},
		{"WATER", "water"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecord(t *testing.T) {
	store := &fakeStore{}
	tr := NewTracker(store, zerolog.Nop())

	a := &analyze.Analysis{
		Themes: []string{"Flight", "water"},
		Symbols: []analyze.Symbol{
			{Item: "The Ocean", Confidence: 0.9},
			{Item: "shadow", Confidence: 0.4}, // below threshold, skipped
			{Item: "teeth", Confidence: 0.6},  // exactly at threshold, counted
		},
	}
	tr.Record(context.Background(), "u1", a)

	want := []upsert{
		{label: "the ocean", category: "symbol", confidence: 0.9},
		{label: "teeth", category: "symbol", confidence: 0.6},
		{label: "flight", category: "theme", confidence: 1},
		{label: "water", category: "theme", confidence: 1},
	}
	if len(store.upserts) != len(want) {
		t.Fatalf("upserts = %+v, want %d entries", store.upserts, len(want))
	}
	for i, w := range want {
		if store.upserts[i] != w {
			t.Errorf("upsert[%d] = %+v, want %+v", i, store.upserts[i], w)
		}
	}
}

func TestRecordStoreFailureSwallowed(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	tr := NewTracker(store, zerolog.Nop())

	// Must not panic or propagate; the caller's record stays complete.
	tr.Record(context.Background(), "u1", &analyze.Analysis{Themes: []string{"water"}})
}
