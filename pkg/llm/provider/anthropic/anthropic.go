// Package anthropic implements llm.Completer against Anthropic's Messages API.
package anthropic

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
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-haiku-4-5-20251001"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
	jsonInstruction  = "\n\nReturn ONLY valid JSON, no markdown or extra text."
)

// Config holds configuration for the Anthropic completer.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds a single request. Defaults to 60s.
	Timeout time.Duration
}

// Completer calls the Anthropic Messages API.
type Completer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewCompleter creates an Anthropic completer.
func NewCompleter(c Config) (*Completer, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

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
		timeout = 60 * time.Second
	}

	return &Completer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     c.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Model returns the configured model name.
func (c *Completer) Model() string {
	return c.model
}

// Complete sends req to /v1/messages and returns the first text block.
func (c *Completer) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	body := messagesRequest{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = defaultMaxTokens
	}

	for i, m := range req.Messages {
		content := m.Content
		if req.JSON && i == len(req.Messages)-1 && m.Role == llm.RoleUser {
			content += jsonInstruction
		}
		body.Messages = append(body.Messages, message{Role: m.Role, Content: content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", llm.ErrCompletion, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", llm.ErrCompletion, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic request: %w", llm.ErrCompletion, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", llm.ErrCompletion, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: anthropic API error (status %d): %s", llm.ErrCompletion, resp.StatusCode, string(raw))
	}

	var result messagesResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", llm.ErrCompletion, err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%w: anthropic error: %s", llm.ErrCompletion, result.Error.Message)
	}

	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}

	return "", llm.ErrEmptyResponse
}

var _ llm.Completer = (*Completer)(nil)
