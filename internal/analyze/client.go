package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const systemPrompt = `You analyze transcribed voice journal entries about dreams.
Respond with a single JSON object and nothing else, using this shape:
{"summary": string, "themes": [string], "emotions": {"primary": string, "secondary": [string]}, "symbols": [{"item": string, "confidence": number 0-1, "meaning": string}], "sentiment": number -1 to 1}`

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	url    string
	model  string
	apiKey string
	http   *http.Client
}

// NewClient creates an analysis client.
func NewClient(url, model, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		model:  model,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the transcript plus formatted journal context and returns
// the validated analysis document with its raw JSON form.
func (c *Client) Analyze(ctx context.Context, transcript, journalContext string) (*Analysis, json.RawMessage, error) {
	user := "New entry transcript:\n" + transcript
	if journalContext != "" {
		user = journalContext + "\n\n" + user
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("analysis API error (status %d): %s", resp.StatusCode, truncate(body, 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, nil, fmt.Errorf("%w: response has no choices", ErrContract)
	}

	return Parse(chat.Choices[0].Message.Content)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
