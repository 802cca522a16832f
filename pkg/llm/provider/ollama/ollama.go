// Package ollama implements llm.Completer against Ollama's chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/kdb/pkg/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Config holds configuration for the Ollama completer.
type Config struct {
	BaseURL string
	Model   string

	// Timeout bounds a single request. Local models can be slow, defaults to 5m.
	Timeout time.Duration
}

// Completer calls Ollama's /api/chat endpoint without streaming.
type Completer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewCompleter creates an Ollama completer.
func NewCompleter(c Config) (*Completer, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &Completer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Model returns the configured model name.
func (c *Completer) Model() string {
	return c.model
}

// Complete sends req to /api/chat.
func (c *Completer) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	body := chatRequest{
		Model:  c.model,
		Stream: false,
	}
	if req.JSON {
		body.Format = "json"
	}
	if req.Temperature != nil {
		body.Options = map[string]any{"temperature": *req.Temperature}
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: llm.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", llm.ErrCompletion, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", llm.ErrCompletion, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: ollama request: %w", llm.ErrCompletion, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", llm.ErrCompletion, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama API error (status %d): %s", llm.ErrCompletion, resp.StatusCode, string(raw))
	}

	var result chatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", llm.ErrCompletion, err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("%w: ollama error: %s", llm.ErrCompletion, result.Error)
	}
	if result.Message.Content == "" {
		return "", llm.ErrEmptyResponse
	}

	return result.Message.Content, nil
}

var _ llm.Completer = (*Completer)(nil)
