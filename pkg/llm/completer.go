// Package llm defines the language model completion capability used to
// generate chunk contexts, and the provider-agnostic request types.
package llm

import (
	"context"
	"errors"
)

// Completer sends a completion request to a language model.
type Completer interface {
	// Complete returns the text of the model's answer.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Model returns the model identifier used for completions.
	Model() string
}

var (
	// ErrCompletion is returned when the provider call fails.
	ErrCompletion = errors.New("completion failed")

	// ErrEmptyResponse is returned when the provider answers without content.
	ErrEmptyResponse = errors.New("empty completion response")
)
