// Package openai implements llm.Completer for OpenAI and OpenAI-compatible
// chat completion APIs through langchaingo.
package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/papercomputeco/kdb/pkg/llm"
)

const (
	DefaultModel = "gpt-4o-mini"

	// noToken is sent to local OpenAI-compatible servers that do not
	// authenticate.
	noToken = "none"
)

// Config holds configuration for the OpenAI completer.
type Config struct {
	// BaseURL overrides the API base (e.g. "http://localhost:8000/v1").
	BaseURL string
	APIKey  string
	Model   string
}

// Completer wraps a langchaingo OpenAI model.
type Completer struct {
	client llms.Model
	model  string
}

// NewCompleter creates an OpenAI completer.
func NewCompleter(c Config) (*Completer, error) {
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	token := c.APIKey
	if token == "" {
		token = noToken
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithModel(model),
	}
	if c.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(c.BaseURL))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &Completer{
		client: client,
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (c *Completer) Model() string {
	return c.model
}

// Complete sends req as a chat completion.
func (c *Completer) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(messageType(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if req.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if req.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.client.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: openai request: %w", llm.ErrCompletion, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", llm.ErrEmptyResponse
	}

	return resp.Choices[0].Content, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

var _ llm.Completer = (*Completer)(nil)
