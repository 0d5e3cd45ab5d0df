// Package genai talks to the Gemini generateContent API.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/arenabot/arenabot/internal/engine"
)

const defaultModel = "gemini-2.0-flash"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements engine.TextGenerator against the Gemini API. Requests
// sharing an API key are serialized through a per-key lock so a single free
// tier key is not hammered by concurrent sessions.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a Gemini client. apiKey and model are the fallbacks for
// sessions that carry no credential of their own. Model defaults to
// "gemini-2.0-flash" if empty.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex for an API key, creating it on first use. Locks
// are never removed; the key set is small and stable.
func (c *Client) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *Client) Generate(ctx context.Context, req engine.GenerationRequest) (string, error) {
	apiKey := req.Credential
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("no gemini API key configured")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	lock := c.keyLock(apiKey)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": req.Prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if len(req.System) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": strings.Join(req.System, "\n\n")}},
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	for _, cand := range result.Candidates {
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

var _ engine.TextGenerator = (*Client)(nil)
