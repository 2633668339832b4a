package analyze

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const validDoc = `{
	"summary": "Flying over the ocean at dusk.",
	"themes": ["flight", "water"],
	"emotions": {"primary": "wonder", "secondary": ["calm"]},
	"symbols": [{"item": "ocean", "confidence": 0.9, "meaning": "the unknown"}],
	"sentiment": 0.6
}`

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"bare_object", validDoc, false},
		{"fenced", "```json\n" + validDoc + "\n```", false},
		{"surrounding_prose", "Here is the analysis you asked for:\n" + validDoc + "\nLet me know if you need more.", false},
		{"nested_braces_in_strings", `prefix {"a": "brace } in string", "b": {"c": 1}} suffix`, false},
		{"no_object", "I could not analyze this entry.", true},
		{"unbalanced", `{"a": {"b": 1}`, true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ExtractJSON(tt.body)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSON succeeded with %q", raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		a, raw, err := Parse(validDoc)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if a.Summary == "" || len(a.Themes) != 2 || a.Emotions.Primary != "wonder" {
			t.Errorf("unexpected analysis: %+v", a)
		}
		if len(a.Symbols) != 1 || a.Symbols[0].Confidence != 0.9 {
			t.Errorf("unexpected symbols: %+v", a.Symbols)
		}
		if len(raw) == 0 {
			t.Error("raw JSON is empty")
		}
	})

	t.Run("fenced_valid", func(t *testing.T) {
		if _, _, err := Parse("```json\n" + validDoc + "\n```"); err != nil {
			t.Fatalf("Parse fenced: %v", err)
		}
	})

	rejects := []struct {
		name string
		body string
	}{
		{"missing_summary", `{"themes": [], "emotions": {"primary": "x"}, "symbols": []}`},
		{"missing_emotions_primary", `{"summary": "s", "themes": [], "emotions": {}, "symbols": []}`},
		{"confidence_out_of_range", `{"summary": "s", "themes": [], "emotions": {"primary": "x"}, "symbols": [{"item": "i", "confidence": 1.5}]}`},
		{"themes_wrong_type", `{"summary": "s", "themes": "flight", "emotions": {"primary": "x"}, "symbols": []}`},
		{"not_json", "plain prose only"},
	}
	for _, tt := range rejects {
		t.Run("reject_"+tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.body)
			if !errors.Is(err, ErrContract) {
				t.Errorf("err = %v, want ErrContract", err)
			}
		})
	}
}

func TestClientAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("auth = %q", auth)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"Sure! ` + "```json\\n" +
			`{\"summary\":\"s\",\"themes\":[\"flight\"],\"emotions\":{\"primary\":\"joy\",\"secondary\":[]},\"symbols\":[]}` +
			"\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gpt-4o-mini", "k", 5*time.Second)
	a, raw, err := c.Analyze(context.Background(), "I was flying", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Summary != "s" || a.Emotions.Primary != "joy" {
		t.Errorf("unexpected analysis: %+v", a)
	}
	if len(raw) == 0 {
		t.Error("raw JSON is empty")
	}
}

func TestClientAnalyzeContractError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"I cannot produce JSON today."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", "", 5*time.Second)
	_, _, err := c.Analyze(context.Background(), "transcript", "")
	if !errors.Is(err, ErrContract) {
		t.Errorf("err = %v, want ErrContract", err)
	}
}
