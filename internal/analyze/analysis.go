// Package analyze turns a transcript plus bounded history into a structured
// analysis document via a chat-completions endpoint, and validates the
// response against a fixed schema before anything downstream touches it.
package analyze

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrContract marks an AI response that does not satisfy the analysis
// schema. Handled like a transient failure but logged distinctly, since
// repeated contract errors usually mean prompt or schema drift.
var ErrContract = errors.New("analysis contract violation")

//go:embed analysis.schema.json
var rawSchema []byte

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		panic(fmt.Sprintf("analysis schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("analysis.schema.json", doc); err != nil {
		panic(fmt.Sprintf("analysis schema: %v", err))
	}
	s, err := c.Compile("analysis.schema.json")
	if err != nil {
		panic(fmt.Sprintf("analysis schema: %v", err))
	}
	return s
}

// Symbol is one recurring image or object with the model's confidence in it.
type Symbol struct {
	Item       string  `json:"item"`
	Confidence float32 `json:"confidence"`
	Meaning    string  `json:"meaning,omitempty"`
}

// Emotions splits the detected emotional content into a single primary
// emotion and secondary ones.
type Emotions struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
}

// Analysis is the fixed-schema document produced by the generative step.
type Analysis struct {
	Summary   string   `json:"summary"`
	Themes    []string `json:"themes"`
	Emotions  Emotions `json:"emotions"`
	Symbols   []Symbol `json:"symbols"`
	Sentiment float32  `json:"sentiment"`
}

// Parse extracts the analysis JSON from a model response body and validates
// it against the schema. Responses wrapped in prose or code fences are
// handled; anything that fails both extraction and validation is ErrContract.
func Parse(body string) (*Analysis, json.RawMessage, error) {
	raw, err := ExtractJSON(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrContract, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrContract, err)
	}

	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrContract, err)
	}
	return &a, raw, nil
}

// ExtractJSON locates the structured payload within free text: a strict
// parse of the whole body first, then a scan for the outermost balanced
// {...} span. Never returns a partial result.
func ExtractJSON(body string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(body)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), nil
	}

	start := strings.IndexByte(trimmed, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		ch := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := trimmed[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, fmt.Errorf("embedded JSON object is invalid")
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in response")
}
